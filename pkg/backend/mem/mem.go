// Package mem implements an in-process coordination backend. Locks are
// real mutual-exclusion primitives shared by every connection to the same
// mem:// URL, which makes the backend useful for local development and for
// exercising guarded calls in tests without external infrastructure.
package mem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Shavakan/fleetlock/pkg/backend"
)

func init() {
	backend.Register("mem", &driver{tables: make(map[string]*lockTable)})
}

// driver hands out connections that share a lock table per URL, so two
// members connecting to the same mem:// target contend for the same locks.
type driver struct {
	mu     sync.Mutex
	tables map[string]*lockTable
}

func (d *driver) Connect(_ context.Context, u *backend.URL, memberID string) (backend.Conn, error) {
	if memberID == "" {
		return nil, errors.New("member id cannot be empty")
	}

	d.mu.Lock()
	table, ok := d.tables[u.Raw]
	if !ok {
		table = &lockTable{sems: make(map[string]chan struct{})}
		d.tables[u.Raw] = table
	}
	d.mu.Unlock()

	return &Conn{
		memberID:  memberID,
		table:     table,
		heartbeat: u.Query.Get("heartbeat") == "true",
	}, nil
}

// lockTable holds one binary semaphore per lock name.
type lockTable struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

func (t *lockTable) sem(name string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sems[name]
	if !ok {
		s = make(chan struct{}, 1)
		t.sems[name] = s
	}
	return s
}

// Conn is an in-process backend connection.
type Conn struct {
	memberID  string
	table     *lockTable
	heartbeat bool

	mu     sync.Mutex
	closed bool

	beats int
}

var _ backend.Conn = (*Conn)(nil)

// Heartbeat counts liveness signals; after Disconnect it fails with a
// connection error, matching how a remote backend would behave.
func (c *Conn) Heartbeat(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return backend.NewConnError(errors.New("connection closed"))
	}
	c.beats++
	return nil
}

// Beats returns the number of heartbeats received.
func (c *Conn) Beats() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beats
}

// Disconnect marks the connection closed.
func (c *Conn) Disconnect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// GetLock returns a handle for the named lock.
func (c *Conn) GetLock(name string) backend.Lock {
	return &memLock{name: name, sem: c.table.sem(name)}
}

// RequiresHeartbeat reports whether this connection was created with
// heartbeat=true. The in-process backend never evicts members, so the
// default is false.
func (c *Conn) RequiresHeartbeat() bool {
	return c.heartbeat
}

// MemberID returns the registered member identifier.
func (c *Conn) MemberID() string {
	return c.memberID
}

// memLock is a channel-backed binary semaphore lock.
type memLock struct {
	name string
	sem  chan struct{}

	mu   sync.Mutex
	held bool
}

var _ backend.Lock = (*memLock)(nil)

func (l *memLock) Acquire(ctx context.Context, wait backend.Wait) (bool, error) {
	if wait.Blocking() {
		select {
		case l.sem <- struct{}{}:
			l.setHeld(true)
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	if wait.Timeout() <= 0 {
		select {
		case l.sem <- struct{}{}:
			l.setHeld(true)
			return true, nil
		default:
			return false, nil
		}
	}

	timer := time.NewTimer(wait.Timeout())
	defer timer.Stop()
	select {
	case l.sem <- struct{}{}:
		l.setHeld(true)
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (l *memLock) Release(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false
	<-l.sem
	return nil
}

func (l *memLock) Name() string {
	return l.name
}

func (l *memLock) setHeld(v bool) {
	l.mu.Lock()
	l.held = v
	l.mu.Unlock()
}
