package writer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/carousel-backend/internal/analytics/types"
)

type insertCall struct {
	table    string
	rowCount int
}

type fakeInserter struct {
	mu        sync.Mutex
	responses []error
	calls     []insertCall
}

func (f *fakeInserter) InsertRows(_ context.Context, table string, rows []any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.calls)
	f.calls = append(f.calls, insertCall{table: table, rowCount: len(rows)})
	if idx < len(f.responses) {
		return f.responses[idx]
	}
	return nil
}

func (f *fakeInserter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestWriter(t *testing.T, cfg Config) (*BigQueryWriter, *fakeInserter) {
	t.Helper()
	cfg.PostMetricsTable = "post_metrics"
	cfg.MonitorRunsTable = "monitor_runs"
	cfg.RetryPolicy.InitialBackoff = time.Millisecond
	fake := &fakeInserter{}
	w, err := New(fake, cfg)
	require.NoError(t, err)
	return w, fake
}

func TestNewWriterValidation(t *testing.T) {
	_, err := New(nil, Config{})
	require.Error(t, err)
	_, err = New(&fakeInserter{}, Config{PostMetricsTable: " ", MonitorRunsTable: "monitor_runs"})
	require.Error(t, err)
	_, err = New(&fakeInserter{}, Config{PostMetricsTable: "post_metrics", MonitorRunsTable: " "})
	require.Error(t, err)
}

func TestNewWriterClampsBackoff(t *testing.T) {
	w, err := New(&fakeInserter{}, Config{
		PostMetricsTable: "post_metrics",
		MonitorRunsTable: "monitor_runs",
		RetryPolicy:      RetryPolicy{InitialBackoff: 5 * time.Second, MaximumBackoff: time.Second},
	})
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, w.retry.MaximumBackoff)
	require.Equal(t, defaultMaxAttempts, w.retry.MaxAttempts)
}

func TestEncodeJSON(t *testing.T) {
	nj, err := EncodeJSON(map[string]any{"handle": "creator"})
	require.NoError(t, err)
	require.True(t, nj.Valid)

	nj, err = EncodeJSON(nil)
	require.NoError(t, err)
	require.False(t, nj.Valid)

	raw := json.RawMessage(`{"handle":"other"}`)
	nj, err = EncodeJSON(raw)
	require.NoError(t, err)
	require.Equal(t, string(raw), nj.JSONVal)
}

func TestWriterRetriesOnTransientError(t *testing.T) {
	w, fake := newTestWriter(t, Config{})
	fake.responses = []error{&googleapi.Error{Code: http.StatusServiceUnavailable}, nil}

	require.NoError(t, w.InsertPostMetric(context.Background(), types.PostMetricRow{EventID: "1"}))
	require.Len(t, fake.calls, 2)
	require.Equal(t, "post_metrics", fake.calls[1].table)
	require.Empty(t, w.postMetrics.rows)
}

func TestWriterGivesUpAfterMaxAttempts(t *testing.T) {
	w, fake := newTestWriter(t, Config{})
	unavailable := status.Error(codes.Unavailable, "try later")
	fake.responses = []error{unavailable, unavailable, unavailable, unavailable}

	err := w.InsertMonitorRun(context.Background(), types.MonitorRunRow{EventID: "1"})
	require.Error(t, err)
	require.Len(t, fake.calls, defaultMaxAttempts)
	require.Len(t, w.monitorRuns.rows, 1)
}

func TestWriterBatching(t *testing.T) {
	w, fake := newTestWriter(t, Config{BatchSize: 2})

	require.NoError(t, w.InsertPostMetric(context.Background(), types.PostMetricRow{EventID: "1"}))
	require.Empty(t, fake.calls)

	require.NoError(t, w.InsertPostMetric(context.Background(), types.PostMetricRow{EventID: "2"}))
	require.Len(t, fake.calls, 1)
	require.Equal(t, 2, fake.calls[0].rowCount)
}

func TestWriterFlushWritesBothTables(t *testing.T) {
	w, fake := newTestWriter(t, Config{BatchSize: 10})
	require.NoError(t, w.InsertPostMetric(context.Background(), types.PostMetricRow{EventID: "1"}))
	require.NoError(t, w.InsertMonitorRun(context.Background(), types.MonitorRunRow{EventID: "2"}))

	require.NoError(t, w.Flush(context.Background()))
	require.Len(t, fake.calls, 2)
	require.Empty(t, w.postMetrics.rows)
	require.Empty(t, w.monitorRuns.rows)
}

func TestWriterDoesNotRetryPermanentError(t *testing.T) {
	w, fake := newTestWriter(t, Config{})
	fake.responses = []error{&googleapi.Error{Code: http.StatusBadRequest}}

	err := w.InsertMonitorRun(context.Background(), types.MonitorRunRow{EventID: "1"})
	require.Error(t, err)
	require.Len(t, fake.calls, 1)
	require.Equal(t, "monitor_runs", fake.calls[0].table)
	require.Len(t, w.monitorRuns.rows, 1, "failed rows stay buffered")
}

func TestRunFlushesOnTickAndShutdown(t *testing.T) {
	w, fake := newTestWriter(t, Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond})
	require.NoError(t, w.InsertPostMetric(context.Background(), types.PostMetricRow{EventID: "1"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return fake.callCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, w.InsertMonitorRun(context.Background(), types.MonitorRunRow{EventID: "2"}))
	cancel()
	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	require.GreaterOrEqual(t, fake.callCount(), 2)
}

func TestIsRetryableRowErrors(t *testing.T) {
	transient := cbigquery.PutMultiError{
		{Errors: cbigquery.MultiError{&googleapi.Error{Code: http.StatusServiceUnavailable}}},
	}
	require.True(t, isRetryable(transient))

	mixed := cbigquery.PutMultiError{
		{Errors: cbigquery.MultiError{&googleapi.Error{Code: http.StatusServiceUnavailable}}},
		{Errors: cbigquery.MultiError{&googleapi.Error{Code: http.StatusBadRequest}}},
	}
	require.False(t, isRetryable(mixed))
	require.False(t, isRetryable(errors.New("boom")))
}

func TestTableSpecsInferSchemas(t *testing.T) {
	specs, err := TableSpecs(Config{PostMetricsTable: "post_metrics", MonitorRunsTable: "monitor_runs"})
	require.NoError(t, err)
	require.Len(t, specs, 2)
	require.Equal(t, "captured_at", specs[0].PartitionField)

	var names []string
	for _, field := range specs[1].Schema {
		names = append(names, field.Name)
	}
	require.Contains(t, names, "monitor_log_id")
	require.Contains(t, names, "payload")
}
