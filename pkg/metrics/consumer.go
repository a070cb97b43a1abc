package metrics

import "github.com/prometheus/client_golang/prometheus"

// Subscriber message outcomes.
const (
	ConsumerHandled     = "handled"
	ConsumerDuplicate   = "duplicate"
	ConsumerRejected    = "rejected"
	ConsumerUnsupported = "unsupported"
	ConsumerRedelivered = "redelivered"
)

// ConsumerMetrics counts Pub/Sub deliveries per consumer and outcome.
type ConsumerMetrics struct {
	messages *prometheus.CounterVec
}

// NewConsumerMetrics registers the subscriber metrics on reg. A nil registerer
// yields a no-op recorder.
func NewConsumerMetrics(reg prometheus.Registerer) *ConsumerMetrics {
	if reg == nil {
		return &ConsumerMetrics{}
	}
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consumer_messages_total",
		Help:      "Pub/Sub messages processed by event consumers, partitioned by consumer and outcome.",
	}, []string{"consumer", "outcome"})
	reg.MustRegister(messages)
	return &ConsumerMetrics{messages: messages}
}

// Observe records one delivery.
func (m *ConsumerMetrics) Observe(consumer, outcome string) {
	if m == nil || m.messages == nil {
		return
	}
	m.messages.WithLabelValues(normalizeLabel(consumer), normalizeLabel(outcome)).Inc()
}
