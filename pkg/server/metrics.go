package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors of a server.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "tether").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for trigger duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures Metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "tether",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the Prometheus collectors of a server. A nil *Metrics
// records nothing.
type Metrics struct {
	flushes         prometheus.Counter
	flushedKeys     prometheus.Counter
	publishes       *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	triggerCalls    *prometheus.CounterVec
	triggerDuration *prometheus.HistogramVec
	hookFailures    *prometheus.CounterVec
	clients         prometheus.Gauge
	lifecycle       prometheus.Gauge
}

// NewMetrics creates and registers the server collectors.
//
// Metrics collected:
//   - tether_flushes_total: non-empty change sets flushed by the store
//   - tether_flushed_keys_total: keys carried by those change sets
//   - tether_publishes_total: publishes handed to the transport, by topic
//   - tether_publish_failures_total: publishes the transport rejected, by topic
//   - tether_trigger_calls_total: trigger invocations, by trigger and status
//   - tether_trigger_duration_seconds: trigger invocation duration
//   - tether_hook_failures_total: failed or panicked hooks, by hook
//   - tether_clients: connected clients
//   - tether_lifecycle: current lifecycle state
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		flushes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "flushes_total",
			Help:        "Total number of non-empty change sets flushed",
			ConstLabels: config.ConstLabels,
		}),
		flushedKeys: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "flushed_keys_total",
			Help:        "Total number of keys carried by flushed change sets",
			ConstLabels: config.ConstLabels,
		}),
		publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "publishes_total",
			Help:        "Total number of publishes handed to the transport",
			ConstLabels: config.ConstLabels,
		}, []string{"topic"}),
		publishFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "publish_failures_total",
			Help:        "Total number of publishes rejected by the transport",
			ConstLabels: config.ConstLabels,
		}, []string{"topic"}),
		triggerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "trigger_calls_total",
			Help:        "Total number of trigger invocations",
			ConstLabels: config.ConstLabels,
		}, []string{"trigger", "status"}),
		triggerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "trigger_duration_seconds",
			Help:        "Trigger invocation duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"trigger"}),
		hookFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "hook_failures_total",
			Help:        "Total number of failed or panicked lifecycle hooks",
			ConstLabels: config.ConstLabels,
		}, []string{"hook"}),
		clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "clients",
			Help:        "Number of connected clients",
			ConstLabels: config.ConstLabels,
		}),
		lifecycle: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "lifecycle",
			Help:        "Current server lifecycle state (0=created .. 4=stopped)",
			ConstLabels: config.ConstLabels,
		}),
	}
}

func (m *Metrics) recordFlush(keys int) {
	if m == nil {
		return
	}
	m.flushes.Inc()
	m.flushedKeys.Add(float64(keys))
}

func (m *Metrics) recordPublish(topic string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.publishFailures.WithLabelValues(topic).Inc()
		return
	}
	m.publishes.WithLabelValues(topic).Inc()
}

func (m *Metrics) recordTrigger(name, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.triggerCalls.WithLabelValues(name, status).Inc()
	m.triggerDuration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) recordHookFailure(hook string) {
	if m == nil {
		return
	}
	m.hookFailures.WithLabelValues(hook).Inc()
}

func (m *Metrics) clientConnected() {
	if m == nil {
		return
	}
	m.clients.Inc()
}

func (m *Metrics) clientDisconnected() {
	if m == nil {
		return
	}
	m.clients.Dec()
}

func (m *Metrics) setLifecycle(l Lifecycle) {
	if m == nil {
		return
	}
	m.lifecycle.Set(float64(l))
}
