package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Queue job outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeReleased  = "released"
)

// QueueMetrics records worker pool throughput for the durable queues.
type QueueMetrics struct {
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	depth     *prometheus.GaugeVec
}

// NewQueueMetrics registers the queue metrics on the provided registerer.
func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	if reg == nil {
		return &QueueMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_jobs_processed_total",
		Help:      "Queue jobs handled, partitioned by outcome.",
	}, []string{"queue", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "queue_job_duration_seconds",
		Help:      "Handler duration for queue jobs in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"queue"})
	depth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_jobs",
		Help:      "Jobs per queue and status as of the last stats sample.",
	}, []string{"queue", "status"})
	reg.MustRegister(processed, duration, depth)
	return &QueueMetrics{
		processed: processed,
		duration:  duration,
		depth:     depth,
	}
}

// Observe records one handled job.
func (m *QueueMetrics) Observe(queue, outcome string, elapsed time.Duration) {
	if m == nil || m.processed == nil {
		return
	}
	queue = normalizeLabel(queue)
	m.processed.WithLabelValues(queue, normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(queue).Observe(elapsed.Seconds())
}

// SetDepth records the job count for one queue status.
func (m *QueueMetrics) SetDepth(queue, status string, count int64) {
	if m == nil || m.depth == nil {
		return
	}
	m.depth.WithLabelValues(normalizeLabel(queue), normalizeLabel(status)).Set(float64(count))
}
