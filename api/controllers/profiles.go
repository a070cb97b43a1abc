package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/carousel-backend/api/responses"
	"github.com/angelmondragon/carousel-backend/api/validators"
	"github.com/angelmondragon/carousel-backend/internal/bulkupsert"
	"github.com/angelmondragon/carousel-backend/internal/monitoring"
	"github.com/angelmondragon/carousel-backend/internal/profilemonitor"
	"github.com/angelmondragon/carousel-backend/internal/queue"
	"github.com/angelmondragon/carousel-backend/internal/scraper"
	dbpkg "github.com/angelmondragon/carousel-backend/pkg/db"
	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/pagination"
)

// ProfileFinder confirms a profile exists before work is queued for it.
type ProfileFinder interface {
	FindProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
}

// MonitorQueue submits profile monitor runs.
type MonitorQueue interface {
	AddJob(ctx context.Context, job profilemonitor.MonitorJob, opts queue.Options) (queue.EnqueueResult, error)
	AddBulkJobs(ctx context.Context, jobs []profilemonitor.MonitorJob, opts queue.Options) ([]queue.EnqueueResult, error)
}

// MonitorLogLister reads the run history of a profile.
type MonitorLogLister interface {
	ListByProfile(ctx context.Context, profileID uuid.UUID, params pagination.Params) ([]models.ProfileMonitoringLog, string, error)
}

// ProfileSyncer folds scraped data into the post store synchronously.
type ProfileSyncer interface {
	BulkUpsert(ctx context.Context, profile scraper.ProfileData, posts []scraper.PostData, opts bulkupsert.Options) (bulkupsert.Result, error)
}

type monitorRequest struct {
	ForceRecache bool `json:"forceRecache"`
	Priority     int  `json:"priority" validate:"gte=0,max=100"`
}

type bulkMonitorRequest struct {
	ProfileIDs   []string `json:"profileIds" validate:"required,min=1,max=500,dive,uuid"`
	ForceRecache bool     `json:"forceRecache"`
}

type syncRequest struct {
	Profile      scraper.ProfileData `json:"profile"`
	Posts        []scraper.PostData  `json:"posts" validate:"max=5000,dive"`
	ForceRecache bool                `json:"forceRecache"`
}

type monitorLogResponse struct {
	ID           uuid.UUID  `json:"id"`
	ProfileID    uuid.UUID  `json:"profileId"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	PagesScraped *int       `json:"pagesScraped,omitempty"`
	PostsScraped *int       `json:"postsScraped,omitempty"`
	Error        *string    `json:"error,omitempty"`
}

// page is the envelope of every cursor-paged listing.
type page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}

func enqueueStatus(res queue.EnqueueResult) int {
	if res.Created {
		return http.StatusAccepted
	}
	return http.StatusOK
}

// ProfileMonitor queues one monitor run. A submission inside the dedup window
// answers 200 with created=false instead of queueing a second run.
func ProfileMonitor(profiles ProfileFinder, jobs MonitorQueue, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profileID, err := validators.ParseUUIDParam(r, "profileId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req monitorRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		if _, err := profiles.FindProfile(r.Context(), profileID); err != nil {
			if dbpkg.IsNotFound(err) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "profile not found"))
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load profile"))
			return
		}

		res, err := jobs.AddJob(r.Context(), profilemonitor.MonitorJob{
			ProfileID:    profileID,
			ForceRecache: req.ForceRecache,
		}, queue.Options{Priority: req.Priority})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue monitor job"))
			return
		}
		responses.WriteSuccessStatus(w, enqueueStatus(res), res)
	}
}

// ProfileMonitorBulk queues one run per profile id. Unknown profiles are not
// checked here; the worker fails their jobs without retrying.
func ProfileMonitorBulk(jobs MonitorQueue, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkMonitorRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		batch := make([]profilemonitor.MonitorJob, 0, len(req.ProfileIDs))
		seen := make(map[uuid.UUID]struct{}, len(req.ProfileIDs))
		for _, raw := range req.ProfileIDs {
			id := uuid.MustParse(raw)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			batch = append(batch, profilemonitor.MonitorJob{ProfileID: id, ForceRecache: req.ForceRecache})
		}

		results, err := jobs.AddBulkJobs(r.Context(), batch, queue.Options{})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue monitor jobs").
				WithDetails(map[string]any{"queued": len(results)}))
			return
		}

		created := 0
		for _, res := range results {
			if res.Created {
				created++
			}
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{
			"created": created,
			"skipped": len(results) - created,
			"jobs":    results,
		})
	}
}

// ProfileSync upserts a profile and its posts inside the request, for callers
// that need the profile id immediately.
func ProfileSync(svc ProfileSyncer, timeout time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req syncRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		result, err := svc.BulkUpsert(ctx, req.Profile, req.Posts, bulkupsert.Options{ForceRecache: req.ForceRecache})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func ProfileMonitorLogs(logs MonitorLogLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profileID, err := validators.ParseUUIDParam(r, "profileId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		pageParams, err := validators.PageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, next, err := logs.ListByProfile(r.Context(), profileID, pageParams)
		if errors.Is(err, monitoring.ErrInvalidCursor) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor"))
			return
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list monitor logs"))
			return
		}
		out := make([]monitorLogResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, monitorLogResponse{
				ID:           row.ID,
				ProfileID:    row.ProfileID,
				Status:       string(row.Status),
				StartedAt:    row.StartedAt,
				CompletedAt:  row.CompletedAt,
				PagesScraped: row.PagesScraped,
				PostsScraped: row.PostsScraped,
				Error:        row.Error,
			})
		}
		responses.WriteSuccess(w, page[monitorLogResponse]{Items: out, NextCursor: next})
	}
}
