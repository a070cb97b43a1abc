package router

import (
	"context"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/angelmondragon/carousel-backend/internal/analytics/types"
	"github.com/angelmondragon/carousel-backend/internal/analytics/writer"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	"github.com/angelmondragon/carousel-backend/pkg/outbox/payloads"
)

// runSummary is the part both monitor outcomes share.
type runSummary struct {
	profileID, logID, handle string
	pages, posts             int
	started, finished        time.Time
}

func (s sink) monitorCompleted(ctx context.Context, envelope types.Envelope, event *payloads.ProfileMonitorCompletedEvent) error {
	row, err := runRow(envelope, event, enums.MonitoringStatusCompleted, runSummary{
		profileID: event.ProfileID.String(),
		logID:     event.LogID.String(),
		handle:    event.Handle,
		pages:     event.PagesScraped,
		posts:     event.PostsScraped,
		started:   event.StartedAt,
		finished:  event.CompletedAt,
	})
	if err != nil {
		return err
	}
	return s.writer.InsertMonitorRun(ctx, row)
}

func (s sink) monitorFailed(ctx context.Context, envelope types.Envelope, event *payloads.ProfileMonitorFailedEvent) error {
	row, err := runRow(envelope, event, enums.MonitoringStatusFailed, runSummary{
		profileID: event.ProfileID.String(),
		logID:     event.LogID.String(),
		handle:    event.Handle,
		pages:     event.PagesScraped,
		posts:     event.PostsScraped,
		started:   event.StartedAt,
		finished:  event.FailedAt,
	})
	if err != nil {
		return err
	}
	if msg := strings.TrimSpace(event.Error); msg != "" {
		row.Error = cbigquery.NullString{StringVal: msg, Valid: true}
	}
	return s.writer.InsertMonitorRun(ctx, row)
}

// runRow builds the monitor_runs row. A missing finish time falls back to
// the envelope's occurrence time; duration stays zero unless it is positive.
func runRow(envelope types.Envelope, event any, status enums.MonitoringStatus, sum runSummary) (types.MonitorRunRow, error) {
	raw, err := writer.EncodeJSON(event)
	if err != nil {
		return types.MonitorRunRow{}, err
	}
	finished := sum.finished
	if finished.IsZero() {
		finished = envelope.OccurredAt
	}
	var took time.Duration
	if !sum.started.IsZero() {
		took = max(finished.Sub(sum.started), 0)
	}
	return types.MonitorRunRow{
		EventID:      envelope.EventID,
		ProfileID:    sum.profileID,
		MonitorLogID: sum.logID,
		Handle:       sum.handle,
		Status:       string(status),
		PagesScraped: int64(sum.pages),
		PostsScraped: int64(sum.posts),
		StartedAt:    sum.started.UTC(),
		FinishedAt:   finished.UTC(),
		DurationMS:   took.Milliseconds(),
		Payload:      raw,
	}, nil
}
