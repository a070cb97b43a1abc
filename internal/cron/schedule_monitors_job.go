package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/carousel-backend/internal/profilemonitor"
	"github.com/angelmondragon/carousel-backend/internal/queue"
	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
)

const (
	defaultScheduleLimit = 200
	defaultRetryAfter    = time.Hour
)

type dueProfileRepo interface {
	DueProfiles(ctx context.Context, now time.Time, limit int) ([]models.Profile, error)
	ScheduleNext(ctx context.Context, ids []uuid.UUID, next time.Time) error
}

type monitorEnqueuer interface {
	AddBulkJobs(ctx context.Context, jobs []profilemonitor.MonitorJob, opts queue.Options) ([]queue.EnqueueResult, error)
}

type ScheduleMonitorsJobParams struct {
	Logger  *logger.Logger
	Repo    dueProfileRepo
	Monitor monitorEnqueuer
	Limit   int
	// RetryAfter is how long a claimed profile waits before it is due again
	// when its run never completes.
	RetryAfter time.Duration
}

// NewScheduleMonitorsJob builds the job that enqueues monitor runs for due
// profiles.
func NewScheduleMonitorsJob(params ScheduleMonitorsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("profile repository required")
	}
	if params.Monitor == nil {
		return nil, fmt.Errorf("monitor queue required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultScheduleLimit
	}
	retryAfter := params.RetryAfter
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfter
	}
	return &scheduleMonitorsJob{
		logg:       params.Logger,
		repo:       params.Repo,
		monitor:    params.Monitor,
		limit:      limit,
		retryAfter: retryAfter,
		now:        time.Now,
	}, nil
}

type scheduleMonitorsJob struct {
	logg       *logger.Logger
	repo       dueProfileRepo
	monitor    monitorEnqueuer
	limit      int
	retryAfter time.Duration
	now        func() time.Time
}

func (j *scheduleMonitorsJob) Name() string { return "schedule-due-monitors" }

func (j *scheduleMonitorsJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	due, err := j.repo.DueProfiles(ctx, now, j.limit)
	if err != nil {
		return fmt.Errorf("load due profiles: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	jobs := make([]profilemonitor.MonitorJob, 0, len(due))
	for _, profile := range due {
		jobs = append(jobs, profilemonitor.MonitorJob{ProfileID: profile.ID, SubmittedAt: now})
	}
	results, enqueueErr := j.monitor.AddBulkJobs(ctx, jobs, queue.Options{})

	// Only the profiles that were handed to the queue are claimed.
	claimed := make([]uuid.UUID, 0, len(results))
	created := 0
	for i := range results {
		claimed = append(claimed, jobs[i].ProfileID)
		if results[i].Created {
			created++
		}
	}
	if err := j.repo.ScheduleNext(ctx, claimed, now.Add(j.retryAfter)); err != nil {
		return fmt.Errorf("claim due profiles: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"due":      len(due),
		"claimed":  len(claimed),
		"enqueued": created,
	}), "due monitors scheduled")
	if enqueueErr != nil {
		return fmt.Errorf("enqueue monitor jobs: %w", enqueueErr)
	}
	return nil
}
