// Package valkey implements the coordination backend on Valkey/Redis.
// Members register a TTL'd liveness key refreshed by heartbeats, and locks
// are SETNX keys holding a per-acquisition fencing token, released through
// a compare-and-delete script so a member can never delete a lock it no
// longer owns.
package valkey

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Shavakan/fleetlock/pkg/backend"
)

const (
	defaultKeyPrefix = "fleetlock:"
	defaultMemberTTL = 15 * time.Second
	defaultLockTTL   = 30 * time.Second
	defaultPoll      = 50 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

func init() {
	backend.Register("valkey", driver{})
	backend.Register("redis", driver{})
}

type driver struct{}

func (driver) Connect(ctx context.Context, u *backend.URL, memberID string) (backend.Conn, error) {
	if memberID == "" {
		return nil, errors.New("member id cannot be empty")
	}

	opts := &redis.Options{Addr: u.Host}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid database index %q: %w", db, err)
		}
		opts.DB = n
	}
	if pw := u.Query.Get("password"); pw != "" {
		opts.Password = pw
	}

	conn := &Conn{
		client:    redis.NewClient(opts),
		memberID:  memberID,
		keyPrefix: defaultKeyPrefix,
		memberTTL: queryDuration(u, "member_ttl", defaultMemberTTL),
		lockTTL:   queryDuration(u, "lock_ttl", defaultLockTTL),
		poll:      queryDuration(u, "poll", defaultPoll),
	}
	if err := conn.register(ctx); err != nil {
		_ = conn.client.Close()
		return nil, err
	}
	return conn, nil
}

func queryDuration(u *backend.URL, key string, def time.Duration) time.Duration {
	v := u.Query.Get(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Conn is a Valkey-backed coordination connection.
type Conn struct {
	client    *redis.Client
	memberID  string
	keyPrefix string
	memberTTL time.Duration
	lockTTL   time.Duration
	poll      time.Duration
}

var _ backend.Conn = (*Conn)(nil)

// NewConnWithClient creates a connection with an existing client (for testing).
func NewConnWithClient(ctx context.Context, client *redis.Client, memberID string) (*Conn, error) {
	conn := &Conn{
		client:    client,
		memberID:  memberID,
		keyPrefix: defaultKeyPrefix,
		memberTTL: defaultMemberTTL,
		lockTTL:   defaultLockTTL,
		poll:      defaultPoll,
	}
	if err := conn.register(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Conn) memberKey() string {
	return c.keyPrefix + "member:" + c.memberID
}

func (c *Conn) lockKey(name string) string {
	return c.keyPrefix + "lock:" + name
}

func (c *Conn) register(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return backend.NewConnError(fmt.Errorf("ping failed: %w", err))
	}
	if err := c.client.Set(ctx, c.memberKey(), time.Now().Unix(), c.memberTTL).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// Heartbeat refreshes the member liveness key. A key that expired between
// beats is re-created rather than treated as an error.
func (c *Conn) Heartbeat(ctx context.Context) error {
	ok, err := c.client.PExpire(ctx, c.memberKey(), c.memberTTL).Result()
	if err != nil {
		return classify(err)
	}
	if !ok {
		if err := c.client.Set(ctx, c.memberKey(), time.Now().Unix(), c.memberTTL).Err(); err != nil {
			return classify(err)
		}
	}
	return nil
}

// Disconnect deregisters the member and closes the client.
func (c *Conn) Disconnect(ctx context.Context) error {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	_ = c.client.Del(delCtx, c.memberKey()).Err()
	return c.client.Close()
}

// GetLock returns a handle for the named lock.
func (c *Conn) GetLock(name string) backend.Lock {
	return &valkeyLock{
		client: c.client,
		name:   name,
		key:    c.lockKey(name),
		ttl:    c.lockTTL,
		poll:   c.poll,
	}
}

// RequiresHeartbeat is always true: the liveness key expires without beats.
func (c *Conn) RequiresHeartbeat() bool {
	return true
}

// MemberID returns the registered member identifier.
func (c *Conn) MemberID() string {
	return c.memberID
}

// valkeyLock is a SETNX-based lock with a fencing token.
type valkeyLock struct {
	client *redis.Client
	name   string
	key    string
	ttl    time.Duration
	poll   time.Duration

	token string
}

var _ backend.Lock = (*valkeyLock)(nil)

func (l *valkeyLock) tryLock(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, classify(err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

func (l *valkeyLock) Acquire(ctx context.Context, wait backend.Wait) (bool, error) {
	deadline, bounded := wait.Deadline(time.Now())

	for {
		ok, err := l.tryLock(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if bounded && !time.Now().Add(l.poll).Before(deadline) {
			return false, nil
		}

		timer := time.NewTimer(l.poll)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		}
	}
}

func (l *valkeyLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result()
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	if err != nil {
		return classify(err)
	}
	l.token = ""
	return nil
}

func (l *valkeyLock) Name() string {
	return l.name
}

// classify wraps transport-level failures as connection errors so the
// coordinator reconnects; server-side errors pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, redis.ErrClosed) {
		return backend.NewConnError(err)
	}
	return err
}
