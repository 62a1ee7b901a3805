// Package metrics provides metrics publishing abstractions and implementations.
package metrics

import "context"

// Publisher defines the interface for publishing coordination metrics to
// various backends.
type Publisher interface {
	// Close releases any resources held by the publisher.
	// Implementations that don't need cleanup should return nil.
	Close() error

	// PublishLockWaitDuration publishes how long a guarded call waited to
	// acquire its lock, in seconds, with the lock name dimension.
	PublishLockWaitDuration(ctx context.Context, lockName string, seconds float64) error

	// PublishLockHeldDuration publishes how long a guarded call held its
	// lock, in seconds, with the lock name dimension.
	PublishLockHeldDuration(ctx context.Context, lockName string, seconds float64) error

	// PublishLockAcquireFailure publishes a failed lock acquisition under a
	// non-blocking or timed policy.
	PublishLockAcquireFailure(ctx context.Context, lockName string) error

	// PublishHeartbeatFailure publishes a liveness signal failure.
	PublishHeartbeatFailure(ctx context.Context) error

	// PublishReconnectAttempt publishes a failed backend reconnection
	// attempt with its attempt number.
	PublishReconnectAttempt(ctx context.Context, attempt int) error

	// PublishReconnectSuccess publishes a successful backend reconnection.
	PublishReconnectSuccess(ctx context.Context) error

	// PublishCoordinatorUp publishes the coordinator connection state as a
	// 0/1 gauge.
	PublishCoordinatorUp(ctx context.Context, up bool) error
}

// NoopPublisher is a no-op implementation of Publisher for testing or disabled metrics.
// All methods are documented on the Publisher interface.
type NoopPublisher struct{}

// Ensure NoopPublisher implements Publisher.
var _ Publisher = NoopPublisher{}

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) Close() error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishLockWaitDuration(context.Context, string, float64) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishLockHeldDuration(context.Context, string, float64) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishLockAcquireFailure(context.Context, string) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishHeartbeatFailure(context.Context) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishReconnectAttempt(context.Context, int) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishReconnectSuccess(context.Context) error { return nil }

//nolint:revive // Interface implementation - documented on Publisher interface
func (NoopPublisher) PublishCoordinatorUp(context.Context, bool) error { return nil }
