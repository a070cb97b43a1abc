package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cron job outcomes.
const (
	CronSucceeded = "succeeded"
	CronFailed    = "failed"
)

// CronJobMetrics tracks each scheduled job's runs, latency and last success.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cron_job_runs_total",
			Help:      "Cron job executions by job and outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cron_job_duration_seconds",
			Help:      "Wall time of cron job executions.",
			Buckets:   []float64{.01, .05, .25, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cron_job_last_success_timestamp_seconds",
			Help:      "Unix time of the most recent successful run.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess)
	return m
}

// Observe records one finished run of job. A nil err counts as success.
func (m *CronJobMetrics) Observe(job string, took time.Duration, err error) {
	if m == nil || m.runs == nil {
		return
	}
	job = normalizeLabel(job)
	m.duration.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		m.runs.WithLabelValues(job, CronFailed).Inc()
		return
	}
	m.runs.WithLabelValues(job, CronSucceeded).Inc()
	m.lastSuccess.WithLabelValues(job).SetToCurrentTime()
}
