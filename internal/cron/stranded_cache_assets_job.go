package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/carousel-backend/internal/cacheasset"
	"github.com/angelmondragon/carousel-backend/internal/queue"
	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
)

const (
	defaultStrandedAfter = 30 * time.Minute
	defaultStrandedLimit = 500
)

type strandedAssetRepo interface {
	ListStrandedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.CacheAsset, error)
}

type StrandedCacheAssetsJobParams struct {
	Logger *logger.Logger
	Assets strandedAssetRepo
	Jobs   cacheasset.JobQueue
	// StrandedAfter is how long an asset may sit in PENDING or DOWNLOADING
	// before its job is submitted again. Keep it above the media queue's
	// visibility timeout.
	StrandedAfter time.Duration
	Limit         int
}

// NewStrandedCacheAssetsJob builds the job that re-submits cache jobs for
// assets whose original enqueue was lost or whose worker died mid-download.
func NewStrandedCacheAssetsJob(params StrandedCacheAssetsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Assets == nil {
		return nil, fmt.Errorf("cache asset repository required")
	}
	if params.Jobs == nil {
		return nil, fmt.Errorf("media cache queue required")
	}
	after := params.StrandedAfter
	if after <= 0 {
		after = defaultStrandedAfter
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultStrandedLimit
	}
	return &strandedCacheAssetsJob{
		logg:  params.Logger,
		repo:  params.Assets,
		jobs:  params.Jobs,
		after: after,
		limit: limit,
		now:   time.Now,
	}, nil
}

type strandedCacheAssetsJob struct {
	logg  *logger.Logger
	repo  strandedAssetRepo
	jobs  cacheasset.JobQueue
	after time.Duration
	limit int
	now   func() time.Time
}

func (j *strandedCacheAssetsJob) Name() string { return "stranded-cache-assets" }

func (j *strandedCacheAssetsJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.after)
	rows, err := j.repo.ListStrandedBefore(ctx, cutoff, j.limit)
	if err != nil {
		return fmt.Errorf("query stranded cache assets: %w", err)
	}
	resubmitted := 0
	for _, asset := range rows {
		job := cacheasset.CacheJob{OriginalURL: asset.OriginalURL, CacheAssetID: asset.ID}
		res, err := j.jobs.AddJob(ctx, job.JobID(), job, queue.Options{})
		if err != nil {
			return fmt.Errorf("resubmit cache asset %s: %w", asset.ID, err)
		}
		if res.Created {
			resubmitted++
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":      cutoff,
		"candidates":  len(rows),
		"resubmitted": resubmitted,
	})
	j.logg.Info(logCtx, "stranded cache asset sweep complete")
	return nil
}
