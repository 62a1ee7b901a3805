package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPrometheusNamespace = "fleetlock"

// PrometheusPublisher publishes metrics to Prometheus via /metrics endpoint.
// All Publisher interface methods are documented on the Publisher interface.
type PrometheusPublisher struct {
	registry *prometheus.Registry

	lockWaitSeconds     *prometheus.HistogramVec
	lockHeldSeconds     *prometheus.HistogramVec
	lockAcquireFailures *prometheus.CounterVec
	heartbeatFailures   prometheus.Counter
	reconnectAttempts   prometheus.Counter
	reconnectSuccess    prometheus.Counter
	coordinatorUp       prometheus.Gauge
}

// Ensure PrometheusPublisher implements Publisher.
var _ Publisher = (*PrometheusPublisher)(nil)

// PrometheusConfig holds configuration for the Prometheus publisher.
type PrometheusConfig struct {
	Namespace string
}

// NewPrometheusPublisher creates a Prometheus metrics publisher.
func NewPrometheusPublisher(cfg PrometheusConfig) *PrometheusPublisher {
	if cfg.Namespace == "" {
		cfg.Namespace = defaultPrometheusNamespace
	}

	registry := prometheus.NewRegistry()

	p := &PrometheusPublisher{
		registry: registry,

		lockWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting to acquire a distributed lock",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60},
		}, []string{"lock_name"}),
		lockHeldSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "lock_held_seconds",
			Help:      "Time a distributed lock was held by a guarded call",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		}, []string{"lock_name"}),
		lockAcquireFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "lock_acquire_failures_total",
			Help:      "Total number of failed lock acquisitions",
		}, []string{"lock_name"}),
		heartbeatFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "heartbeat_failures_total",
			Help:      "Total number of failed liveness signals",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Total number of failed backend reconnection attempts",
		}),
		reconnectSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "reconnect_success_total",
			Help:      "Total number of successful backend reconnections",
		}),
		coordinatorUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "coordinator_up",
			Help:      "Whether the coordinator is connected to its backend (1) or not (0)",
		}),
	}

	registry.MustRegister(
		p.lockWaitSeconds,
		p.lockHeldSeconds,
		p.lockAcquireFailures,
		p.heartbeatFailures,
		p.reconnectAttempts,
		p.reconnectSuccess,
		p.coordinatorUp,
	)

	return p
}

// Handler returns an HTTP handler serving the /metrics endpoint.
func (p *PrometheusPublisher) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Close implements Publisher.Close. The registry doesn't require cleanup.
func (p *PrometheusPublisher) Close() error {
	return nil
}

// Publisher interface implementation below.
// All methods are documented on the Publisher interface.

func (p *PrometheusPublisher) PublishLockWaitDuration(_ context.Context, lockName string, seconds float64) error { //nolint:revive
	p.lockWaitSeconds.WithLabelValues(lockName).Observe(seconds)
	return nil
}

func (p *PrometheusPublisher) PublishLockHeldDuration(_ context.Context, lockName string, seconds float64) error { //nolint:revive
	p.lockHeldSeconds.WithLabelValues(lockName).Observe(seconds)
	return nil
}

func (p *PrometheusPublisher) PublishLockAcquireFailure(_ context.Context, lockName string) error { //nolint:revive
	p.lockAcquireFailures.WithLabelValues(lockName).Inc()
	return nil
}

func (p *PrometheusPublisher) PublishHeartbeatFailure(_ context.Context) error { //nolint:revive
	p.heartbeatFailures.Inc()
	return nil
}

func (p *PrometheusPublisher) PublishReconnectAttempt(_ context.Context, _ int) error { //nolint:revive
	p.reconnectAttempts.Inc()
	return nil
}

func (p *PrometheusPublisher) PublishReconnectSuccess(_ context.Context) error { //nolint:revive
	p.reconnectSuccess.Inc()
	return nil
}

func (p *PrometheusPublisher) PublishCoordinatorUp(_ context.Context, up bool) error { //nolint:revive
	if up {
		p.coordinatorUp.Set(1)
	} else {
		p.coordinatorUp.Set(0)
	}
	return nil
}
