package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outbox dispatch outcomes.
const (
	OutboxPublished    = "published"
	OutboxRetried      = "retried"
	OutboxDeadLettered = "dead_lettered"
	// OutboxDeferred rows were skipped while the topic's breaker was open.
	OutboxDeferred = "deferred"
)

// OutboxMetrics records outbox dispatcher throughput and backlog.
type OutboxMetrics struct {
	dispatched *prometheus.CounterVec
	pending    prometheus.Gauge
}

// NewOutboxMetrics registers the outbox metrics on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	dispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_events_total",
		Help:      "Outbox rows handled by the publisher, partitioned by event type and outcome.",
	}, []string{"event_type", "outcome"})
	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "outbox_pending_events",
		Help:      "Unpublished outbox rows as of the last idle poll.",
	})
	reg.MustRegister(dispatched, pending)
	return &OutboxMetrics{dispatched: dispatched, pending: pending}
}

// Observe records one dispatched row.
func (m *OutboxMetrics) Observe(eventType, outcome string) {
	if m == nil || m.dispatched == nil {
		return
	}
	m.dispatched.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// SetPending records the current backlog.
func (m *OutboxMetrics) SetPending(count int64) {
	if m == nil || m.pending == nil {
		return
	}
	m.pending.Set(float64(count))
}
