package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Shavakan/fleetlock/pkg/logging"
)

const publishTimeout = 5 * time.Second

var metricsLog = logging.WithComponent(logging.LogTypeMetrics, "multi")

// MultiPublisher publishes metrics to multiple backends simultaneously.
// All Publisher interface methods are documented on the Publisher interface.
type MultiPublisher struct {
	publishers []Publisher
}

// Ensure MultiPublisher implements Publisher.
var _ Publisher = (*MultiPublisher)(nil)

// NewMultiPublisher creates a publisher that fans out to multiple backends.
func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

// Add adds a publisher to the fan-out list.
func (m *MultiPublisher) Add(p Publisher) {
	m.publishers = append(m.publishers, p)
}

// Publishers returns the list of configured publishers.
func (m *MultiPublisher) Publishers() []Publisher {
	return m.publishers
}

// Close closes all child publishers.
func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiPublisher) publishAll(fn func(p Publisher) error) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for _, p := range m.publishers {
		wg.Add(1)
		go func(pub Publisher) {
			defer wg.Done()
			done := make(chan error, 1)
			go func() {
				done <- fn(pub)
			}()
			select {
			case err := <-done:
				if err != nil {
					metricsLog.Warn("metrics publish error", slog.String(logging.KeyError, err.Error()))
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			case <-time.After(publishTimeout):
				metricsLog.Warn("metrics publish timeout", slog.Duration("timeout", publishTimeout))
				mu.Lock()
				errs = append(errs, fmt.Errorf("publish timeout after %v", publishTimeout))
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Publisher interface implementation below.
// All methods are documented on the Publisher interface.

func (m *MultiPublisher) PublishLockWaitDuration(ctx context.Context, lockName string, seconds float64) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishLockWaitDuration(ctx, lockName, seconds)
	})
}

func (m *MultiPublisher) PublishLockHeldDuration(ctx context.Context, lockName string, seconds float64) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishLockHeldDuration(ctx, lockName, seconds)
	})
}

func (m *MultiPublisher) PublishLockAcquireFailure(ctx context.Context, lockName string) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishLockAcquireFailure(ctx, lockName)
	})
}

func (m *MultiPublisher) PublishHeartbeatFailure(ctx context.Context) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishHeartbeatFailure(ctx)
	})
}

func (m *MultiPublisher) PublishReconnectAttempt(ctx context.Context, attempt int) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishReconnectAttempt(ctx, attempt)
	})
}

func (m *MultiPublisher) PublishReconnectSuccess(ctx context.Context) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishReconnectSuccess(ctx)
	})
}

func (m *MultiPublisher) PublishCoordinatorUp(ctx context.Context, up bool) error { //nolint:revive
	return m.publishAll(func(p Publisher) error {
		return p.PublishCoordinatorUp(ctx, up)
	})
}
