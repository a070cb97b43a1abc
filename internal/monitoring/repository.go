// Package monitoring persists the per-run profile monitoring log.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	"github.com/angelmondragon/carousel-backend/pkg/pagination"
)

// ErrAlreadyFinalized is returned when a run that is no longer running is
// completed or failed again.
var ErrAlreadyFinalized = errors.New("monitoring log already finalized")

// ErrInvalidCursor is returned for a page cursor that does not decode.
var ErrInvalidCursor = errors.New("invalid page cursor")

const maxErrorLength = 2000

type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx, now: r.now}
}

// Start records a running log for profileID.
func (r *Repository) Start(ctx context.Context, profileID uuid.UUID) (*models.ProfileMonitoringLog, error) {
	now := r.now()
	entry := &models.ProfileMonitoringLog{
		ID:        uuid.New(),
		ProfileID: profileID,
		Status:    enums.MonitoringStatusRunning,
		StartedAt: now,
		CreatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// Complete finalizes a running log with the scraped totals.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, pages, posts int) (time.Time, error) {
	now := r.now()
	return now, r.finalize(ctx, id, map[string]any{
		"status":        enums.MonitoringStatusCompleted,
		"completed_at":  now,
		"pages_scraped": pages,
		"posts_scraped": posts,
	})
}

// Fail finalizes a running log with the error message and the progress made
// before the failure.
func (r *Repository) Fail(ctx context.Context, id uuid.UUID, pages, posts int, cause string) (time.Time, error) {
	now := r.now()
	if len(cause) > maxErrorLength {
		cause = cause[:maxErrorLength]
	}
	return now, r.finalize(ctx, id, map[string]any{
		"status":        enums.MonitoringStatusFailed,
		"completed_at":  now,
		"pages_scraped": pages,
		"posts_scraped": posts,
		"error":         cause,
	})
}

func (r *Repository) finalize(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&models.ProfileMonitoringLog{}).
		Where("id = ? AND status = ?", id, enums.MonitoringStatusRunning).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyFinalized
	}
	return nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ProfileMonitoringLog, error) {
	var entry models.ProfileMonitoringLog
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListByProfile returns one page of runs for a profile, newest first, and the
// cursor of the next page when more rows exist.
func (r *Repository) ListByProfile(ctx context.Context, profileID uuid.UUID, params pagination.Params) ([]models.ProfileMonitoringLog, string, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	limit := pagination.NormalizeLimit(params.Limit)

	var rows []models.ProfileMonitoringLog
	if err := r.db.WithContext(ctx).
		Where("profile_id = ?", profileID).
		Scopes(pagination.Keyset("started_at", cursor, limit)).
		Find(&rows).Error; err != nil {
		return nil, "", err
	}

	page, next := pagination.Trim(rows, limit, func(entry models.ProfileMonitoringLog) pagination.Cursor {
		return pagination.Cursor{At: entry.StartedAt, ID: entry.ID}
	})
	return page, next, nil
}

// FailStale marks runs still running since before cutoff as failed. A worker
// that died mid-run leaves its log in running forever otherwise.
func (r *Repository) FailStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ProfileMonitoringLog{}).
		Where("status = ? AND started_at < ?", enums.MonitoringStatusRunning, cutoff.UTC()).
		Updates(map[string]any{
			"status":       enums.MonitoringStatusFailed,
			"completed_at": r.now(),
			"error":        "run abandoned before completion",
		})
	return res.RowsAffected, res.Error
}
