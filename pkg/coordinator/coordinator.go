// Package coordinator manages the connection to a distributed coordination
// backend: it registers the member, keeps it alive with background
// heartbeats, reconnects with jittered backoff after connection failures
// and hands out named cluster-wide locks.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Shavakan/fleetlock/pkg/backend"
	"github.com/Shavakan/fleetlock/pkg/logging"
	"github.com/Shavakan/fleetlock/pkg/metrics"
)

var coordLog = logging.WithComponent(logging.LogTypeCoordinator, "coordinator")

// ErrLockCreationFailed is returned by GetLock while the coordinator is not
// connected to its backend.
var ErrLockCreationFailed = errors.New("lock creation failed: coordinator is not connected")

// Config holds configuration for the coordinator.
type Config struct {
	// BackendURL is the coordination backend connection target,
	// e.g. valkey://localhost:6379 or dynamodb://fleetlock-locks.
	BackendURL string

	// Prefix namespaces the member identifier and every lock name.
	Prefix string

	// AgentID identifies this process instance. A random id is generated
	// when empty.
	AgentID string

	// HeartbeatInterval is the pause between liveness signals.
	HeartbeatInterval time.Duration

	// InitialReconnectBackoff is the first wait after a failed reconnection.
	InitialReconnectBackoff time.Duration

	// MaxReconnectBackoff bounds the wait between reconnection attempts.
	MaxReconnectBackoff time.Duration
}

// DefaultConfig returns recommended configuration values.
func DefaultConfig(backendURL string) Config {
	return Config{
		BackendURL:              backendURL,
		Prefix:                  "fleetlock-",
		HeartbeatInterval:       time.Second,
		InitialReconnectBackoff: 100 * time.Millisecond,
		MaxReconnectBackoff:     60 * time.Second,
	}
}

// connectFunc matches backend.Connect and is swappable for tests.
type connectFunc func(ctx context.Context, rawURL, memberID string) (backend.Conn, error)

// Coordinator owns one backend connection and the heartbeat loop keeping it
// alive. It is safe for concurrent use; GetLock may be called from any
// number of goroutines.
type Coordinator struct {
	cfg       Config
	memberID  string
	connect   connectFunc
	publisher metrics.Publisher

	mu      sync.Mutex
	started bool
	conn    backend.Conn
	stopCh  chan struct{}
	hbDone  chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics sets the metrics publisher. Defaults to a no-op publisher.
func WithMetrics(p metrics.Publisher) Option {
	return func(c *Coordinator) {
		c.publisher = p
	}
}

// withConnector overrides the backend connector (for testing).
func withConnector(fn connectFunc) Option {
	return func(c *Coordinator) {
		c.connect = fn
	}
}

// New creates a Coordinator. The member identifier is the config prefix
// concatenated with the agent id, generating a random agent id when none
// is supplied.
func New(cfg Config, opts ...Option) *Coordinator {
	agentID := cfg.AgentID
	if agentID == "" {
		agentID = uuid.NewString()
	}

	c := &Coordinator{
		cfg:       cfg,
		memberID:  cfg.Prefix + agentID,
		connect:   backend.Connect,
		publisher: metrics.NoopPublisher{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MemberID returns this coordinator's member identifier.
func (c *Coordinator) MemberID() string {
	return c.memberID
}

// Started reports whether the coordinator is currently started.
func (c *Coordinator) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Start connects to the coordination backend and, when the backend tracks
// member liveness, launches the heartbeat loop on its own goroutine so a
// slow liveness call can never stall the caller. Start is idempotent; a
// connection failure is fatal to the call and not retried.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}

	conn, err := c.connect(ctx, c.cfg.BackendURL, c.memberID)
	if err != nil {
		coordLog.Error("error starting coordination backend",
			slog.String(logging.KeyMemberID, c.memberID),
			slog.String(logging.KeyError, err.Error()))
		return fmt.Errorf("failed to start coordination backend: %w", err)
	}

	c.conn = conn
	c.started = true
	c.stopCh = make(chan struct{})
	c.hbDone = nil

	if conn.RequiresHeartbeat() {
		c.hbDone = make(chan struct{})
		go c.heartbeatLoop(conn, c.stopCh, c.hbDone)
	}

	_ = c.publisher.PublishCoordinatorUp(ctx, true)
	coordLog.Info("coordination backend started successfully",
		slog.String(logging.KeyMemberID, c.memberID))
	return nil
}

// Stop disconnects from the backend, signals the heartbeat loop to stop
// and waits for it to exit. No heartbeat is sent after Stop returns. Stop
// is idempotent; restarting a stopped coordinator is unsupported.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	stopCh := c.stopCh
	hbDone := c.hbDone
	c.started = false
	c.conn = nil
	c.stopCh = nil
	c.hbDone = nil
	c.mu.Unlock()

	if err := conn.Disconnect(ctx); err != nil {
		coordLog.Warn("error disconnecting from coordination backend",
			slog.String(logging.KeyError, err.Error()))
	}
	close(stopCh)

	if hbDone != nil {
		select {
		case <-hbDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	_ = c.publisher.PublishCoordinatorUp(ctx, false)
	coordLog.Info("coordinator stopped", slog.String(logging.KeyMemberID, c.memberID))
	return nil
}

// GetLock returns a handle for the named cluster-wide lock, qualified with
// the configured prefix. It fails with ErrLockCreationFailed while the
// coordinator is not connected. The coordinator keeps no record of
// outstanding locks; the handle is owned by the caller for one
// acquire/release cycle.
func (c *Coordinator) GetLock(name string) (backend.Lock, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil, ErrLockCreationFailed
	}
	return conn.GetLock(c.cfg.Prefix + name), nil
}

// heartbeatLoop sends liveness signals every HeartbeatInterval. Connection
// failures trigger the reconnect procedure; any other failure is logged and
// tolerated, since a single missed beat does not evict the member. The loop
// exits only through the stop signal.
func (c *Coordinator) heartbeatLoop(conn backend.Conn, stopCh, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		hbCtx, cancel := context.WithTimeout(context.Background(), c.cfg.HeartbeatInterval)
		err := conn.Heartbeat(hbCtx)
		cancel()

		switch {
		case err == nil:
		case backend.IsConnectionError(err):
			coordLog.Error("connection error while sending a heartbeat to coordination backend",
				slog.String(logging.KeyMemberID, c.memberID),
				slog.String(logging.KeyError, err.Error()))
			_ = c.publisher.PublishHeartbeatFailure(context.Background())

			newConn, ok := c.reconnect(stopCh)
			if !ok {
				return
			}
			conn = newConn
			continue
		default:
			coordLog.Error("error sending a heartbeat to coordination backend",
				slog.String(logging.KeyMemberID, c.memberID),
				slog.String(logging.KeyError, err.Error()))
			_ = c.publisher.PublishHeartbeatFailure(context.Background())
		}

		if waitStop(stopCh, c.cfg.HeartbeatInterval) {
			return
		}
	}
}

// reconnect re-establishes the backend connection under the same member
// identifier, backing off with multiplicative jitter up to the configured
// cap. It returns false when the coordinator is stopping, which aborts
// both the reconnection and the heartbeat loop.
func (c *Coordinator) reconnect(stopCh chan struct{}) (backend.Conn, bool) {
	coordLog.Info("reconnecting to coordination backend",
		slog.String(logging.KeyMemberID, c.memberID))

	base := c.cfg.InitialReconnectBackoff
	backoff := base

	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.MaxReconnectBackoff)
		conn, err := c.connect(ctx, c.cfg.BackendURL, c.memberID)
		cancel()

		if err == nil {
			c.mu.Lock()
			if !c.started {
				// Stop won the race; this connection must not outlive it.
				c.mu.Unlock()
				_ = conn.Disconnect(context.Background())
				return nil, false
			}
			c.conn = conn
			c.mu.Unlock()

			_ = c.publisher.PublishReconnectSuccess(context.Background())
			coordLog.Info("reconnected to coordination backend",
				slog.String(logging.KeyMemberID, c.memberID),
				slog.Int(logging.KeyAttempt, attempt))
			return conn, true
		}

		backoff = nextBackoff(base, backoff, c.cfg.MaxReconnectBackoff)
		coordLog.Warn("reconnect attempt failed",
			slog.Int(logging.KeyAttempt, attempt),
			slog.Int64(logging.KeyBackoffMs, backoff.Milliseconds()),
			slog.String(logging.KeyError, err.Error()))
		_ = c.publisher.PublishReconnectAttempt(context.Background(), attempt)

		if waitStop(stopCh, backoff) {
			return nil, false
		}
	}
}

// nextBackoff draws the next wait uniformly from [base, prev*3], clipped
// to cap. The jitter spreads reconnection attempts across members so a
// backend restart does not face a synchronized thundering herd.
func nextBackoff(base, prev, cap time.Duration) time.Duration {
	hi := 3 * prev
	if hi < base {
		hi = base
	}
	next := base + time.Duration(rand.Int63n(int64(hi-base)+1))
	if next > cap {
		next = cap
	}
	return next
}

// waitStop waits on the stop channel for up to d. It reports whether stop
// was signaled, so callers in both the heartbeat sleep and the reconnect
// backoff wake promptly on shutdown.
func waitStop(stopCh chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stopCh:
		return true
	case <-timer.C:
		return false
	}
}
