// Package guard runs functions under a named distributed lock. Lock names
// come from templates with {placeholder} substitution, and every guarded
// call records how long it waited for the lock and how long it held it.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Shavakan/fleetlock/pkg/backend"
	"github.com/Shavakan/fleetlock/pkg/coordinator"
	"github.com/Shavakan/fleetlock/pkg/logging"
	"github.com/Shavakan/fleetlock/pkg/metrics"
)

var guardLog = logging.WithComponent(logging.LogTypeGuard, "guard")

// ErrLockAcquireFailed is returned when the lock could not be acquired
// under the requested blocking policy. The guarded function does not run.
var ErrLockAcquireFailed = errors.New("failed to acquire lock")

const releaseTimeout = 5 * time.Second

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Args supplies values for the {placeholder} tokens of a lock-name template.
type Args map[string]string

// Op is a named operation to run under a lock. Name feeds the {f_name}
// template placeholder.
type Op struct {
	Name string
	Fn   func(ctx context.Context, args Args) error
}

// Guard binds a coordinator to the instrumentation around its critical
// sections. A single Guard serves any number of concurrent calls.
type Guard struct {
	coord     *coordinator.Coordinator
	publisher metrics.Publisher
	tracer    trace.Tracer
}

// Option configures a Guard.
type Option func(*Guard)

// WithMetrics sets the metrics publisher. Defaults to a no-op publisher.
func WithMetrics(p metrics.Publisher) Option {
	return func(g *Guard) {
		g.publisher = p
	}
}

// New creates a Guard around the given coordinator.
func New(coord *coordinator.Coordinator, opts ...Option) *Guard {
	g := &Guard{
		coord:     coord,
		publisher: metrics.NoopPublisher{},
		tracer:    otel.Tracer("github.com/Shavakan/fleetlock/pkg/guard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Do acquires the named lock under the given blocking policy, runs fn and
// releases the lock. The lock is released even when fn fails or panics,
// and fn's error is returned unchanged. When the lock cannot be acquired
// the returned error wraps ErrLockAcquireFailed and fn never runs.
func (g *Guard) Do(ctx context.Context, name string, wait backend.Wait, fn func(ctx context.Context) error) error {
	lock, err := g.coord.GetLock(name)
	if err != nil {
		return err
	}

	ctx, span := g.tracer.Start(ctx, "guard.do",
		trace.WithAttributes(
			attribute.String("lock.name", lock.Name()),
			attribute.String("lock.wait", wait.String()),
		))
	defer span.End()

	waitStart := time.Now()
	acquired, err := lock.Acquire(ctx, wait)
	waited := time.Since(waitStart)

	if err != nil || !acquired {
		_ = g.publisher.PublishLockAcquireFailure(ctx, name)
		span.SetStatus(codes.Error, "lock acquisition failed")
		guardLog.Warn("failed to acquire lock",
			slog.String(logging.KeyLockName, lock.Name()),
			slog.String(logging.KeyPolicy, wait.String()),
			slog.Int64(logging.KeyWaitMs, waited.Milliseconds()))
		if err != nil {
			return fmt.Errorf("%w %q: %w", ErrLockAcquireFailed, name, err)
		}
		return fmt.Errorf("%w %q", ErrLockAcquireFailed, name)
	}

	_ = g.publisher.PublishLockWaitDuration(ctx, name, waited.Seconds())
	guardLog.Debug("lock acquired",
		slog.String(logging.KeyLockName, lock.Name()),
		slog.Int64(logging.KeyWaitMs, waited.Milliseconds()))

	heldStart := time.Now()
	defer func() {
		held := time.Since(heldStart)

		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if rerr := lock.Release(releaseCtx); rerr != nil {
			guardLog.Error("failed to release lock",
				slog.String(logging.KeyLockName, lock.Name()),
				slog.String(logging.KeyError, rerr.Error()))
		}

		_ = g.publisher.PublishLockHeldDuration(releaseCtx, name, held.Seconds())
		guardLog.Debug("lock released",
			slog.String(logging.KeyLockName, lock.Name()),
			slog.Int64(logging.KeyHeldMs, held.Milliseconds()))
	}()

	return fn(ctx)
}

// Wrap builds a guarded callable for op. Each invocation resolves the
// lock-name template against its arguments, with {f_name} bound to op.Name,
// and runs op.Fn under the resolved lock. Calls that resolve to the same
// name exclude each other regardless of which operation they came from.
func (g *Guard) Wrap(template string, wait backend.Wait, op Op) func(ctx context.Context, args Args) error {
	return func(ctx context.Context, args Args) error {
		name, err := resolveName(template, args, op.Name)
		if err != nil {
			return err
		}
		return g.Do(ctx, name, wait, func(ctx context.Context) error {
			return op.Fn(ctx, args)
		})
	}
}

// Do runs fn under the named lock with default instrumentation. See
// Guard.Do.
func Do(ctx context.Context, coord *coordinator.Coordinator, name string, wait backend.Wait, fn func(ctx context.Context) error) error {
	return New(coord).Do(ctx, name, wait, fn)
}

// resolveName substitutes every {placeholder} in template from args, with
// {f_name} reserved for the operation name. A placeholder with no value is
// an error rather than a silently malformed lock name.
func resolveName(template string, args Args, fname string) (string, error) {
	var missing []string
	resolved := placeholderRe.ReplaceAllStringFunc(template, func(token string) string {
		key := token[1 : len(token)-1]
		if key == "f_name" {
			return fname
		}
		if v, ok := args[key]; ok {
			return v
		}
		missing = append(missing, key)
		return token
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("lock name template %q: no value for placeholder %q", template, missing[0])
	}
	return resolved, nil
}
