// Package backend defines the capability interface consumed by the
// coordinator: a connection to a distributed coordination service that
// hands out named locks and tracks member liveness.
package backend

import "context"

// Conn is a live connection to a coordination backend, owned by a single
// coordinator instance. Implementations must be safe for concurrent use.
type Conn interface {
	// Heartbeat proves the member is still alive to the backend.
	// Connection-level failures are reported as ConnError; any other
	// error is a transient backend problem and a missed beat is tolerated.
	Heartbeat(ctx context.Context) error

	// Disconnect tears down the connection. The Conn must not be used
	// after Disconnect returns.
	Disconnect(ctx context.Context) error

	// GetLock returns a handle for the named distributed lock. The handle
	// is scoped to a single acquire/release cycle and must not be shared
	// across concurrent critical sections.
	GetLock(name string) Lock

	// RequiresHeartbeat reports whether the backend evicts members that
	// stop sending liveness signals.
	RequiresHeartbeat() bool

	// MemberID returns the member identifier this connection registered.
	MemberID() string
}

// Lock is a backend-issued handle for one named distributed lock.
type Lock interface {
	// Acquire attempts to take the lock under the given blocking policy.
	// It returns false without error when the lock is held elsewhere and
	// the policy does not allow further waiting.
	Acquire(ctx context.Context, wait Wait) (bool, error)

	// Release frees the lock. Releasing a lock that is not held is a no-op.
	Release(ctx context.Context) error

	// Name returns the fully-qualified lock name.
	Name() string
}

// Driver creates connections for one backend scheme.
type Driver interface {
	// Connect establishes a connection registered under memberID.
	Connect(ctx context.Context, u *URL, memberID string) (Conn, error)
}
