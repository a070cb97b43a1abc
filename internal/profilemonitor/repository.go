package profilemonitor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/carousel-backend/pkg/db/models"
)

// Repository reads profiles and records monitor bookkeeping.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) FindProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	var profile models.Profile
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// RecordRun stamps the last and next monitoring run of a profile.
func (r *Repository) RecordRun(ctx context.Context, id uuid.UUID, last, next time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_monitoring_run": last.UTC(),
			"next_monitoring_run": next.UTC(),
		}).Error
}

// ScheduleNext pushes next_monitoring_run forward without touching the last run.
func (r *Repository) ScheduleNext(ctx context.Context, ids []uuid.UUID, next time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("id IN ?", ids).
		Update("next_monitoring_run", next.UTC()).Error
}

// DueProfiles lists monitored profiles whose next run is due or that never ran.
func (r *Repository) DueProfiles(ctx context.Context, now time.Time, limit int) ([]models.Profile, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.Profile
	err := r.db.WithContext(ctx).
		Where("monitoring_enabled = ?", true).
		Where("next_monitoring_run IS NULL OR next_monitoring_run <= ?", now.UTC()).
		Order("next_monitoring_run ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) FindPostsByTiktokIDs(ctx context.Context, ids []string) ([]models.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Post
	err := r.db.WithContext(ctx).Where("tiktok_id IN ?", ids).Find(&rows).Error
	return rows, err
}

func (r *Repository) InsertHistory(ctx context.Context, rows []models.PostMetricsHistory) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}
