package profilemonitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/carousel-backend/internal/bulkupsert"
	"github.com/angelmondragon/carousel-backend/internal/monitoring"
	"github.com/angelmondragon/carousel-backend/internal/queue"
	"github.com/angelmondragon/carousel-backend/internal/scraper"
	dbpkg "github.com/angelmondragon/carousel-backend/pkg/db"
	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/outbox"
	"github.com/angelmondragon/carousel-backend/pkg/outbox/payloads"
)

const (
	defaultPageDelay = time.Second
	defaultMaxPages  = 50
	defaultInterval  = 24 * time.Hour
	sourceService    = "profile-monitor-worker"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type upserter interface {
	BulkUpsert(ctx context.Context, profile scraper.ProfileData, posts []scraper.PostData, opts bulkupsert.Options) (bulkupsert.Result, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// WorkerParams wire the profile monitor worker.
type WorkerParams struct {
	TxRunner txRunner
	Repo     *Repository
	Logs     *monitoring.Repository
	Scraper  scraper.Client
	Upserter upserter
	Outbox   eventEmitter
	Logger   *logger.Logger
	// PageDelay is the pause between two page fetches.
	PageDelay time.Duration
	MaxPages  int
	// Interval schedules the next run after a completed one.
	Interval time.Duration
}

type Worker struct {
	tx        txRunner
	repo      *Repository
	logs      *monitoring.Repository
	scraper   scraper.Client
	upserter  upserter
	outbox    eventEmitter
	logg      *logger.Logger
	pageDelay time.Duration
	maxPages  int
	interval  time.Duration
}

func NewWorker(params WorkerParams) (*Worker, error) {
	switch {
	case params.TxRunner == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Repo == nil:
		return nil, fmt.Errorf("profile repository required")
	case params.Logs == nil:
		return nil, fmt.Errorf("monitoring log repository required")
	case params.Scraper == nil:
		return nil, fmt.Errorf("scraper client required")
	case params.Upserter == nil:
		return nil, fmt.Errorf("bulk upsert service required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox service required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	delay := params.PageDelay
	if delay < 0 {
		delay = defaultPageDelay
	}
	maxPages := params.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Worker{
		tx:        params.TxRunner,
		repo:      params.Repo,
		logs:      params.Logs,
		scraper:   params.Scraper,
		upserter:  params.Upserter,
		outbox:    params.Outbox,
		logg:      params.Logger,
		pageDelay: delay,
		maxPages:  maxPages,
		interval:  interval,
	}, nil
}

type runProgress struct {
	pages int
	posts int
}

// Handle is the queue.Handler for the profile-monitor queue.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	var payload MonitorJob
	if err := job.Decode(&payload); err != nil {
		return err
	}
	if payload.ProfileID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "monitor job missing profile id")
	}
	ctx = w.logg.WithProfileID(ctx, payload.ProfileID.String())

	profile, err := w.repo.FindProfile(ctx, payload.ProfileID)
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "profile no longer exists")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load profile")
	}
	ctx = w.logg.WithField(ctx, "handle", profile.Handle)

	entry, err := w.logs.Start(ctx, profile.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "start monitoring log")
	}
	ctx = w.logg.WithField(ctx, "monitoring_log_id", entry.ID.String())
	w.logg.Info(ctx, "profile monitor run started")

	progress, runErr := w.scrape(ctx, job.JobID, profile, entry.ID, payload.ForceRecache)
	if runErr != nil {
		w.fail(ctx, job.JobID, profile, entry, progress, runErr)
		return runErr
	}
	if err := w.complete(ctx, job.JobID, profile, entry, progress, payload.ForceRecache); err != nil {
		// the completion tx rolled back, so the log is still running
		w.fail(ctx, job.JobID, profile, entry, progress, err)
		return err
	}
	return nil
}

func (w *Worker) scrape(ctx context.Context, jobID string, profile *models.Profile, logID uuid.UUID, force bool) (runProgress, error) {
	var progress runProgress
	cursor := ""
	for progress.pages < w.maxPages {
		page, err := w.scraper.FetchProfilePage(ctx, profile.Handle, cursor)
		if err != nil {
			return progress, fmt.Errorf("fetch page %d: %w", progress.pages+1, err)
		}
		if page == nil {
			return progress, pkgerrors.New(pkgerrors.CodeUpstream, "scraper returned an empty page")
		}

		if err := w.snapshot(ctx, jobID, profile.ID, logID, progress.pages+1, page.Posts); err != nil {
			return progress, err
		}

		data := page.Profile
		data.Handle = profile.Handle
		result, err := w.upserter.BulkUpsert(ctx, data, page.Posts, bulkupsert.Options{ForceRecache: force})
		if err != nil {
			return progress, fmt.Errorf("upsert page %d: %w", progress.pages+1, err)
		}
		progress.pages++
		progress.posts += result.TotalPosts
		w.logg.Info(w.logg.WithFields(ctx, map[string]any{
			"page":          progress.pages,
			"posts_created": result.PostsCreated,
			"posts_updated": result.PostsUpdated,
		}), "profile page synced")

		if !page.HasMore || strings.TrimSpace(page.NextCursor) == "" {
			return progress, nil
		}
		cursor = page.NextCursor
		if err := wait(ctx, w.pageDelay); err != nil {
			return progress, err
		}
	}
	w.logg.Warn(w.logg.WithField(ctx, "max_pages", w.maxPages), "profile monitor stopped at page cap")
	return progress, nil
}

// snapshot records the counters of already known posts before the page
// overwrites them. New posts have no history yet.
func (w *Worker) snapshot(ctx context.Context, jobID string, profileID, logID uuid.UUID, page int, posts []scraper.PostData) error {
	ids := make([]string, 0, len(posts))
	for _, post := range posts {
		if post.TiktokID != "" {
			ids = append(ids, post.TiktokID)
		}
	}
	known, err := w.repo.FindPostsByTiktokIDs(ctx, ids)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load posts for snapshot")
	}
	if len(known) == 0 {
		return nil
	}

	capturedAt := time.Now().UTC()
	rows := make([]models.PostMetricsHistory, 0, len(known))
	snapshots := make([]payloads.PostMetricsSnapshot, 0, len(known))
	for _, post := range known {
		snap := snapshotOf(post)
		snapshots = append(snapshots, snap)
		rows = append(rows, models.PostMetricsHistory{
			ID:             uuid.New(),
			PostID:         post.ID,
			ViewCount:      post.ViewCount,
			LikeCount:      post.LikeCount,
			ShareCount:     post.ShareCount,
			CommentCount:   post.CommentCount,
			SaveCount:      post.SaveCount,
			EngagementRate: snap.EngagementRate,
			CapturedAt:     capturedAt,
			CreatedAt:      capturedAt,
		})
	}

	err = w.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := w.repo.WithTx(tx).InsertHistory(ctx, rows); err != nil {
			return err
		}
		return w.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPostMetricsSnapshotted,
			AggregateType: enums.AggregateProfile,
			AggregateID:   profileID,
			Source:        &outbox.SourceRef{Service: sourceService, JobID: jobID},
			OccurredAt:    capturedAt,
			Data: payloads.PostMetricsSnapshottedEvent{
				ProfileID:  profileID,
				LogID:      logID,
				Page:       page,
				CapturedAt: capturedAt,
				Snapshots:  snapshots,
			},
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record metrics snapshot")
	}
	return nil
}

func (w *Worker) complete(ctx context.Context, jobID string, profile *models.Profile, entry *models.ProfileMonitoringLog, progress runProgress, force bool) error {
	err := w.tx.WithTx(ctx, func(tx *gorm.DB) error {
		completedAt, err := w.logs.WithTx(tx).Complete(ctx, entry.ID, progress.pages, progress.posts)
		if err != nil {
			return err
		}
		if err := w.repo.WithTx(tx).RecordRun(ctx, profile.ID, completedAt, completedAt.Add(w.interval)); err != nil {
			return err
		}
		return w.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProfileMonitorCompleted,
			AggregateType: enums.AggregateProfile,
			AggregateID:   profile.ID,
			Source:        &outbox.SourceRef{Service: sourceService, JobID: jobID},
			OccurredAt:    completedAt,
			Data: payloads.ProfileMonitorCompletedEvent{
				ProfileID:    profile.ID,
				LogID:        entry.ID,
				Handle:       profile.Handle,
				PagesScraped: progress.pages,
				PostsScraped: progress.posts,
				StartedAt:    entry.StartedAt,
				CompletedAt:  completedAt,
				ForceRecache: force,
			},
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize monitoring run")
	}
	w.logg.Info(w.logg.WithFields(ctx, map[string]any{
		"pages_scraped": progress.pages,
		"posts_scraped": progress.posts,
	}), "profile monitor run completed")
	return nil
}

// fail records the failure. Pages synced before the failure stay committed.
func (w *Worker) fail(ctx context.Context, jobID string, profile *models.Profile, entry *models.ProfileMonitoringLog, progress runProgress, cause error) {
	ctx = w.logg.WithFields(ctx, map[string]any{
		"pages_scraped": progress.pages,
		"posts_scraped": progress.posts,
	})
	w.logg.Error(ctx, "profile monitor run failed", cause)

	// The run may have failed because ctx was canceled; the bookkeeping must
	// still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := w.tx.WithTx(ctx, func(tx *gorm.DB) error {
		failedAt, err := w.logs.WithTx(tx).Fail(ctx, entry.ID, progress.pages, progress.posts, cause.Error())
		if err != nil {
			return err
		}
		return w.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProfileMonitorFailed,
			AggregateType: enums.AggregateProfile,
			AggregateID:   profile.ID,
			Source:        &outbox.SourceRef{Service: sourceService, JobID: jobID},
			OccurredAt:    failedAt,
			Data: payloads.ProfileMonitorFailedEvent{
				ProfileID:    profile.ID,
				LogID:        entry.ID,
				Handle:       profile.Handle,
				PagesScraped: progress.pages,
				PostsScraped: progress.posts,
				Error:        cause.Error(),
				StartedAt:    entry.StartedAt,
				FailedAt:     failedAt,
			},
		})
	})
	if err != nil {
		w.logg.Error(ctx, "record monitor failure", err)
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
