package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/carousel-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 14 * 24 * time.Hour
	defaultDLQRetention    = 30 * 24 * time.Hour
)

type publishedPurger interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type deadLetterPurger interface {
	DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	Outbox      publishedPurger
	DeadLetters deadLetterPurger
	// Retention applies to published outbox rows, DLQRetention to dead letters.
	Retention    time.Duration
	DLQRetention time.Duration
}

// NewOutboxRetentionJob builds the job that drops published outbox rows and,
// when a dead-letter store is wired, expired dead letters.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:         params.Logger,
		outbox:       params.Outbox,
		deadLetters:  params.DeadLetters,
		retention:    params.Retention,
		dlqRetention: params.DLQRetention,
		now:          time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.dlqRetention <= 0 {
		job.dlqRetention = defaultDLQRetention
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	outbox       publishedPurger
	deadLetters  deadLetterPurger
	retention    time.Duration
	dlqRetention time.Duration
	now          func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	fields := map[string]any{}

	published, err := j.outbox.DeletePublishedBefore(ctx, now.Add(-j.retention))
	if err != nil {
		return fmt.Errorf("purge published outbox rows: %w", err)
	}
	fields["published_deleted"] = published

	if j.deadLetters != nil {
		dead, err := j.deadLetters.DeleteFailedBefore(ctx, now.Add(-j.dlqRetention))
		if err != nil {
			return fmt.Errorf("purge dead letters: %w", err)
		}
		fields["dead_letters_deleted"] = dead
	}

	j.logg.Info(j.logg.WithFields(ctx, fields), "outbox retention complete")
	return nil
}
