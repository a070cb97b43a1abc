// Package writer buffers analytics rows and streams them into BigQuery.
package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/carousel-backend/internal/analytics/types"
	pkgbigquery "github.com/angelmondragon/carousel-backend/pkg/bigquery"
)

const (
	defaultBatchSize      = 1
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
	finalFlushTimeout     = 10 * time.Second
)

// Config names the destination tables and tunes batching.
type Config struct {
	PostMetricsTable string
	MonitorRunsTable string
	BatchSize        int
	// FlushInterval bounds how long a partial batch may wait. Zero leaves
	// flushing to full batches and explicit Flush calls.
	FlushInterval time.Duration
	RetryPolicy   RetryPolicy
}

// RetryPolicy controls how transient insert failures are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

type buffer[T any] struct {
	table string
	rows  []T
}

// BigQueryWriter is shared by the per-subscription receive loops, so every
// buffer access holds mu.
type BigQueryWriter struct {
	client     tableInserter
	batchSize  int
	flushEvery time.Duration
	retry      RetryPolicy

	mu          sync.Mutex
	postMetrics buffer[types.PostMetricRow]
	monitorRuns buffer[types.MonitorRunRow]
}

func New(client tableInserter, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	metrics := strings.TrimSpace(cfg.PostMetricsTable)
	if metrics == "" {
		return nil, errors.New("post metrics table is required")
	}
	runs := strings.TrimSpace(cfg.MonitorRunsTable)
	if runs == "" {
		return nil, errors.New("monitor runs table is required")
	}

	policy := cfg.RetryPolicy
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultMaxAttempts
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = defaultInitialBackoff
	}
	if policy.MaximumBackoff <= 0 {
		policy.MaximumBackoff = defaultMaximumBackoff
	}
	policy.MaximumBackoff = max(policy.MaximumBackoff, policy.InitialBackoff)

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}

	return &BigQueryWriter{
		client:      client,
		batchSize:   batch,
		flushEvery:  cfg.FlushInterval,
		retry:       policy,
		postMetrics: buffer[types.PostMetricRow]{table: metrics},
		monitorRuns: buffer[types.MonitorRunRow]{table: runs},
	}, nil
}

// InsertPostMetric buffers row and writes the batch once it is full.
func (w *BigQueryWriter) InsertPostMetric(ctx context.Context, row types.PostMetricRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return appendRow(ctx, w, &w.postMetrics, row)
}

// InsertMonitorRun buffers row and writes the batch once it is full.
func (w *BigQueryWriter) InsertMonitorRun(ctx context.Context, row types.MonitorRunRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return appendRow(ctx, w, &w.monitorRuns, row)
}

// Flush writes every buffered row now.
func (w *BigQueryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(flush(ctx, w, &w.postMetrics), flush(ctx, w, &w.monitorRuns))
}

// Run flushes partial batches every FlushInterval until ctx is canceled,
// then makes one last flush on a detached context.
func (w *BigQueryWriter) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if w.flushEvery > 0 {
		ticker := time.NewTicker(w.flushEvery)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
			err := w.Flush(final)
			cancel()
			return errors.Join(ctx.Err(), err)
		case <-tick:
			if err := w.Flush(ctx); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}

func appendRow[T any](ctx context.Context, w *BigQueryWriter, b *buffer[T], row T) error {
	b.rows = append(b.rows, row)
	if len(b.rows) < w.batchSize {
		return nil
	}
	return flush(ctx, w, b)
}

// flush keeps the rows buffered when the insert fails so the next flush
// retries them.
func flush[T any](ctx context.Context, w *BigQueryWriter, b *buffer[T]) error {
	if len(b.rows) == 0 {
		return nil
	}
	rows := make([]any, len(b.rows))
	for i := range b.rows {
		rows[i] = &b.rows[i]
	}
	if err := w.insert(ctx, b.table, rows); err != nil {
		return err
	}
	b.rows = b.rows[:0]
	return nil
}

func (w *BigQueryWriter) insert(ctx context.Context, table string, rows []any) error {
	backoff := retry.NewExponential(w.retry.InitialBackoff)
	backoff = retry.WithCappedDuration(w.retry.MaximumBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(w.retry.MaxAttempts-1), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := w.client.InsertRows(ctx, table, rows)
		if err != nil && isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("insert %s rows: %w", table, err)
	}
	return nil
}

var retryableHTTP = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusRequestTimeout:      true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var retryableGRPC = map[codes.Code]bool{
	codes.Aborted:           true,
	codes.DeadlineExceeded:  true,
	codes.Internal:          true,
	codes.ResourceExhausted: true,
	codes.Unavailable:       true,
}

// isRetryable treats a multi-row failure as transient only when every row
// failed transiently.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pme cbigquery.PutMultiError
	if errors.As(err, &pme) {
		if len(pme) == 0 {
			return false
		}
		for _, rowErr := range pme {
			if !allRetryable(rowErr.Errors) {
				return false
			}
		}
		return true
	}

	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		return allRetryable(multi)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return retryableHTTP[apiErr.Code]
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return retryableGRPC[st.Code()]
	}
	return false
}

func allRetryable(errs []error) bool {
	if len(errs) == 0 {
		return false
	}
	for _, inner := range errs {
		if !isRetryable(inner) {
			return false
		}
	}
	return true
}

// EncodeJSON converts a payload for a BigQuery JSON column. Raw JSON passes
// through untouched.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	var raw []byte
	switch value := payload.(type) {
	case nil:
		return cbigquery.NullJSON{}, nil
	case cbigquery.NullJSON:
		return value, nil
	case json.RawMessage:
		raw = value
	case []byte:
		raw = value
	default:
		marshaled, err := json.Marshal(payload)
		if err != nil {
			return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
		}
		raw = marshaled
	}
	if len(raw) == 0 {
		return cbigquery.NullJSON{}, nil
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(raw)}, nil
}

// TableSpecs derives the destination table schemas from the row types.
func TableSpecs(cfg Config) ([]pkgbigquery.TableSpec, error) {
	metrics, err := cbigquery.InferSchema(types.PostMetricRow{})
	if err != nil {
		return nil, fmt.Errorf("infer post metrics schema: %w", err)
	}
	runs, err := cbigquery.InferSchema(types.MonitorRunRow{})
	if err != nil {
		return nil, fmt.Errorf("infer monitor runs schema: %w", err)
	}
	return []pkgbigquery.TableSpec{
		{Name: cfg.PostMetricsTable, Schema: metrics, PartitionField: "captured_at"},
		{Name: cfg.MonitorRunsTable, Schema: runs, PartitionField: "started_at"},
	}, nil
}
