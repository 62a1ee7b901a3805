package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
)

const defaultDatadogNamespace = "fleetlock"

// DatadogPublisher publishes metrics to Datadog via DogStatsD.
// All Publisher interface methods are documented on the Publisher interface.
type DatadogPublisher struct {
	client     *statsd.Client
	namespace  string
	tags       []string
	sampleRate float64
}

// Ensure DatadogPublisher implements Publisher.
var _ Publisher = (*DatadogPublisher)(nil)

// DatadogConfig holds configuration for the Datadog publisher.
type DatadogConfig struct {
	// Address is the DogStatsD address (default: "127.0.0.1:8125")
	Address string
	// Namespace is the metric namespace prefix (default: "fleetlock")
	Namespace string
	// Tags are global tags applied to all metrics
	Tags []string
	// SampleRate for high-frequency metrics (default: 1.0 = 100%)
	// Values < 1.0 enable sampling to reduce network traffic
	SampleRate float64

	// Client tuning options (0 = use library default)
	// BufferFlushInterval configures flush interval (0 = library default of 100ms)
	BufferFlushInterval time.Duration
	// WorkersCount configures parallel workers (0 = library default of 1)
	WorkersCount int
}

// NewDatadogPublisher creates a Datadog metrics publisher using DogStatsD.
func NewDatadogPublisher(cfg DatadogConfig) (*DatadogPublisher, error) {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8125"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = defaultDatadogNamespace
	}
	if cfg.SampleRate <= 0 || cfg.SampleRate > 1 {
		cfg.SampleRate = 1.0
	}

	opts := []statsd.Option{
		statsd.WithNamespace(cfg.Namespace + "."),
		statsd.WithTags(cfg.Tags),
	}

	if cfg.BufferFlushInterval > 0 {
		opts = append(opts, statsd.WithBufferFlushInterval(cfg.BufferFlushInterval))
	}
	if cfg.WorkersCount > 0 {
		opts = append(opts, statsd.WithWorkersCount(cfg.WorkersCount))
	}

	client, err := statsd.New(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create DogStatsD client: %w", err)
	}

	return &DatadogPublisher{
		client:     client,
		namespace:  cfg.Namespace,
		tags:       cfg.Tags,
		sampleRate: cfg.SampleRate,
	}, nil
}

// Close closes the DogStatsD client connection.
func (p *DatadogPublisher) Close() error {
	return p.client.Close()
}

// Publisher interface implementation below.
// All methods are documented on the Publisher interface.

// PublishLockWaitDuration uses Distribution for global percentile aggregation
// across all hosts, with sampling since guarded calls can be high-frequency.
func (p *DatadogPublisher) PublishLockWaitDuration(_ context.Context, lockName string, seconds float64) error { //nolint:revive
	return p.client.Distribution("lock_wait_seconds", seconds, []string{"lock_name:" + lockName}, p.sampleRate)
}

func (p *DatadogPublisher) PublishLockHeldDuration(_ context.Context, lockName string, seconds float64) error { //nolint:revive
	return p.client.Distribution("lock_held_seconds", seconds, []string{"lock_name:" + lockName}, p.sampleRate)
}

func (p *DatadogPublisher) PublishLockAcquireFailure(_ context.Context, lockName string) error { //nolint:revive
	return p.client.Incr("lock_acquire_failures", []string{"lock_name:" + lockName}, 1)
}

func (p *DatadogPublisher) PublishHeartbeatFailure(_ context.Context) error { //nolint:revive
	return p.client.Incr("heartbeat_failures", nil, 1)
}

func (p *DatadogPublisher) PublishReconnectAttempt(_ context.Context, attempt int) error { //nolint:revive
	return p.client.Incr("reconnect_attempts", []string{fmt.Sprintf("attempt:%d", attempt)}, 1)
}

func (p *DatadogPublisher) PublishReconnectSuccess(_ context.Context) error { //nolint:revive
	return p.client.Incr("reconnect_success", nil, 1)
}

func (p *DatadogPublisher) PublishCoordinatorUp(_ context.Context, up bool) error { //nolint:revive
	v := 0.0
	if up {
		v = 1.0
	}
	return p.client.Gauge("coordinator_up", v, nil, 1)
}
