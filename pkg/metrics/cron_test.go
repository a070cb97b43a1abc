package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)

	m.Observe("schedule-due-monitors", 250*time.Millisecond, nil)
	m.Observe("schedule-due-monitors", 50*time.Millisecond, nil)
	m.Observe("schedule-due-monitors", time.Second, errors.New("db down"))

	require.Equal(t, float64(2), testutil.ToFloat64(m.runs.WithLabelValues("schedule-due-monitors", CronSucceeded)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("schedule-due-monitors", CronFailed)))
	require.Greater(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("schedule-due-monitors")), float64(0))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	sum, err := fetchHistogramSum(mfs, "carousel_cron_job_duration_seconds", "job", "schedule-due-monitors")
	require.NoError(t, err)
	require.InDelta(t, 1.3, sum, 0.001)
}

func TestCronJobMetricsFailureLeavesLastSuccessUnset(t *testing.T) {
	m := NewCronJobMetrics(prometheus.NewRegistry())
	m.Observe("", time.Millisecond, errors.New("boom"))

	require.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("unknown", CronFailed)))
	require.Equal(t, 0, testutil.CollectAndCount(m.lastSuccess))
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	m.Observe("job", time.Second, nil)
	NewCronJobMetrics(nil).Observe("job", time.Second, nil)
}
