package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/carousel-backend/pkg/logger"
)

const defaultStaleRunAfter = 2 * time.Hour

type staleRunRepo interface {
	FailStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type StaleMonitorRunsJobParams struct {
	Logger *logger.Logger
	Logs   staleRunRepo
	// StaleAfter should exceed the monitor queue visibility timeout so a run
	// whose lease is still live is never touched.
	StaleAfter time.Duration
}

// NewStaleMonitorRunsJob builds the job that fails monitoring logs left
// running by a crashed worker.
func NewStaleMonitorRunsJob(params StaleMonitorRunsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Logs == nil {
		return nil, fmt.Errorf("monitoring log repository required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleRunAfter
	}
	return &staleMonitorRunsJob{logg: params.Logger, logs: params.Logs, staleAfter: staleAfter, now: time.Now}, nil
}

type staleMonitorRunsJob struct {
	logg       *logger.Logger
	logs       staleRunRepo
	staleAfter time.Duration
	now        func() time.Time
}

func (j *staleMonitorRunsJob) Name() string { return "stale-monitor-runs" }

func (j *staleMonitorRunsJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.staleAfter)
	n, err := j.logs.FailStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("fail stale monitor runs: %w", err)
	}
	if n > 0 {
		j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
			"cutoff":    cutoff,
			"runs_shut": n,
		}), "stale monitor runs marked failed")
	}
	return nil
}
