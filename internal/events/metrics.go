package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the dispatcher's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Dispatched  *prometheus.CounterVec
	Failures    *prometheus.CounterVec
	DeadLetters *prometheus.CounterVec
	QueueDepth  prometheus.Gauge
	Duration    *prometheus.HistogramVec
}

// NewMetrics creates and registers the dispatcher collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	dispatched := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Total number of events handed to the dispatcher",
		},
		[]string{"event_type"},
	)

	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_failures_total",
			Help:      "Total number of failed event handler invocations",
		},
		[]string{"handler", "mode"},
	)

	deadLetters := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_dead_letters_total",
			Help:      "Total number of async invocations diverted or dropped",
		},
		[]string{"handler", "outcome"},
	)

	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_async_queue_depth",
			Help:      "Async handler invocations waiting for a worker",
		},
	)

	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_handler_duration_seconds",
			Help:      "Event handler duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"handler", "mode"},
	)

	registry.MustRegister(
		dispatched,
		failures,
		deadLetters,
		queueDepth,
		duration,
		collectors.NewGoCollector(),
	)

	return &Metrics{
		registry:    registry,
		Dispatched:  dispatched,
		Failures:    failures,
		DeadLetters: deadLetters,
		QueueDepth:  queueDepth,
		Duration:    duration,
	}
}

// Registry exposes the registry for the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
