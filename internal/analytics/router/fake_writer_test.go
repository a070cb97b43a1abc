package router

import (
	"context"

	"github.com/angelmondragon/carousel-backend/internal/analytics/types"
)

type fakeWriter struct {
	metrics []types.PostMetricRow
	runs    []types.MonitorRunRow
	err     error
}

func (f *fakeWriter) InsertPostMetric(_ context.Context, row types.PostMetricRow) error {
	if f.err != nil {
		return f.err
	}
	f.metrics = append(f.metrics, row)
	return nil
}

func (f *fakeWriter) InsertMonitorRun(_ context.Context, row types.MonitorRunRow) error {
	if f.err != nil {
		return f.err
	}
	f.runs = append(f.runs, row)
	return nil
}
