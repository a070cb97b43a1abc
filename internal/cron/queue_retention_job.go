package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/carousel-backend/pkg/enums"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
)

// TrimmableQueue is a durable queue with bounded retention of finished jobs.
type TrimmableQueue interface {
	Name() enums.QueueName
	Trim(ctx context.Context) (int64, error)
}

type QueueRetentionJobParams struct {
	Logger *logger.Logger
	Queues []TrimmableQueue
}

// NewQueueRetentionJob builds the job that trims finished jobs beyond each
// queue's retention counts.
func NewQueueRetentionJob(params QueueRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if len(params.Queues) == 0 {
		return nil, fmt.Errorf("at least one queue required")
	}
	return &queueRetentionJob{logg: params.Logger, queues: params.Queues}, nil
}

type queueRetentionJob struct {
	logg   *logger.Logger
	queues []TrimmableQueue
}

func (j *queueRetentionJob) Name() string { return "queue-retention" }

func (j *queueRetentionJob) Run(ctx context.Context) error {
	var errs error
	for _, q := range j.queues {
		removed, err := q.Trim(ctx)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("trim %s: %w", q.Name(), err))
			continue
		}
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"queue":   q.Name().String(),
			"removed": removed,
		}), "queue retention complete")
	}
	return errs
}
