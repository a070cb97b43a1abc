package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/carousel-backend/internal/analytics/types"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRouterUnsupportedEvent(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	env := types.Envelope{
		EventType: enums.OutboxEventType("unsupported"),
		Payload:   []byte(`{"foo":"bar"}`),
	}
	err := router.Handle(context.Background(), env)
	if !errors.Is(err, ErrUnsupportedEventType) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestRouterRoutesToOverride(t *testing.T) {
	var called bool
	router, _ := newTestRouter(t, map[enums.OutboxEventType]Handler{
		enums.EventPostMetricsSnapshotted: func(_ context.Context, _ types.Envelope, payload any) error {
			_, called = payload.(*payloads.PostMetricsSnapshottedEvent)
			return nil
		},
	})
	data, _ := json.Marshal(payloads.PostMetricsSnapshottedEvent{ProfileID: uuid.New()})
	env := types.Envelope{
		EventType: enums.EventPostMetricsSnapshotted,
		Payload:   data,
	}
	if err := router.Handle(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatalf("override not invoked with a typed payload")
	}
}

func TestRouterRejectsEmptyPayload(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	err := router.Handle(context.Background(), types.Envelope{EventType: enums.EventProfileMonitorCompleted})
	require.ErrorIs(t, err, payloads.ErrEmptyPayload)
	require.False(t, errors.Is(err, ErrUnsupportedEventType))
}

func TestPostMetricsHandlerWritesRowPerSnapshot(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	profileID := uuid.New()
	logID := uuid.New()
	captured := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	event := payloads.PostMetricsSnapshottedEvent{
		ProfileID:  profileID,
		LogID:      logID,
		Page:       2,
		CapturedAt: captured,
		Snapshots: []payloads.PostMetricsSnapshot{
			{PostID: uuid.New(), TiktokID: "7001", ViewCount: 1000, LikeCount: 100, EngagementRate: decimal.RequireFromString("0.105")},
			{PostID: uuid.New(), TiktokID: "7002", ViewCount: 0},
		},
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)

	err = router.Handle(context.Background(), types.Envelope{
		EventID:    "evt-1",
		EventType:  enums.EventPostMetricsSnapshotted,
		OccurredAt: captured.Add(time.Second),
		Payload:    data,
	})
	require.NoError(t, err)
	require.Len(t, writer.metrics, 2)

	first := writer.metrics[0]
	require.Equal(t, "evt-1", first.EventID)
	require.Equal(t, profileID.String(), first.ProfileID)
	require.Equal(t, logID.String(), first.MonitorLogID)
	require.Equal(t, int64(2), first.Page)
	require.Equal(t, "7001", first.TiktokID)
	require.Equal(t, captured, first.CapturedAt)
	require.InDelta(t, 0.105, first.EngagementRate, 1e-9)
	require.Equal(t, "7002", writer.metrics[1].TiktokID)
	require.Zero(t, writer.metrics[1].EngagementRate)
}

func TestMonitorHandlersWriteRunRows(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	started := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)

	completed, _ := json.Marshal(payloads.ProfileMonitorCompletedEvent{
		ProfileID:    uuid.New(),
		LogID:        uuid.New(),
		Handle:       "creator",
		PagesScraped: 2,
		PostsScraped: 15,
		StartedAt:    started,
		CompletedAt:  started.Add(90 * time.Second),
	})
	require.NoError(t, router.Handle(context.Background(), types.Envelope{
		EventID:   "evt-ok",
		EventType: enums.EventProfileMonitorCompleted,
		Payload:   completed,
	}))

	failed, _ := json.Marshal(payloads.ProfileMonitorFailedEvent{
		ProfileID:    uuid.New(),
		LogID:        uuid.New(),
		Handle:       "creator",
		PagesScraped: 1,
		PostsScraped: 10,
		Error:        "scraper unavailable",
		StartedAt:    started,
		FailedAt:     started.Add(time.Second),
	})
	require.NoError(t, router.Handle(context.Background(), types.Envelope{
		EventID:   "evt-fail",
		EventType: enums.EventProfileMonitorFailed,
		Payload:   failed,
	}))

	require.Len(t, writer.runs, 2)
	ok := writer.runs[0]
	require.Equal(t, "completed", ok.Status)
	require.Equal(t, int64(90000), ok.DurationMS)
	require.Equal(t, int64(15), ok.PostsScraped)
	require.False(t, ok.Error.Valid)
	require.True(t, ok.Payload.Valid)

	bad := writer.runs[1]
	require.Equal(t, "failed", bad.Status)
	require.Equal(t, "scraper unavailable", bad.Error.StringVal)
	require.Equal(t, int64(1000), bad.DurationMS)
}

func TestHandlerPropagatesWriterError(t *testing.T) {
	writer := &fakeWriter{err: errors.New("bq down")}
	router, err := NewRouter(writer, logger.New(logger.Options{ServiceName: "router-test"}), nil)
	require.NoError(t, err)

	data, _ := json.Marshal(payloads.PostMetricsSnapshottedEvent{
		Snapshots: []payloads.PostMetricsSnapshot{{TiktokID: "7001"}},
	})
	err = router.Handle(context.Background(), types.Envelope{EventType: enums.EventPostMetricsSnapshotted, Payload: data})
	require.ErrorContains(t, err, "bq down")
}

func newTestRouter(t *testing.T, overrides map[enums.OutboxEventType]Handler) (*Router, *fakeWriter) {
	t.Helper()
	writer := &fakeWriter{}
	router, err := NewRouter(writer, logger.New(logger.Options{ServiceName: "router-test"}), overrides)
	if err != nil {
		t.Fatalf("construct router: %v", err)
	}
	return router, writer
}
