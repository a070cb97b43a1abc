package cacheasset

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
)

// ErrStaleTransition is returned when a worker-side transition finds the
// asset in a state it may not leave, e.g. a force recache reset the row
// while a download was in flight.
var ErrStaleTransition = errors.New("cache asset transition is stale")

const maxErrorLength = 1000

// Repository persists cache asset rows.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository constructs a cache asset repository bound to the provided GORM DB.
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

// Create inserts a PENDING asset for originalURL.
func (r *Repository) Create(ctx context.Context, originalURL string) (*models.CacheAsset, error) {
	now := r.now()
	asset := &models.CacheAsset{
		ID:          uuid.New(),
		OriginalURL: originalURL,
		Status:      enums.CacheAssetStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.db.WithContext(ctx).Create(asset).Error; err != nil {
		return nil, err
	}
	return asset, nil
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CacheAsset, error) {
	var asset models.CacheAsset
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&asset).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *Repository) FindByURL(ctx context.Context, originalURL string) (*models.CacheAsset, error) {
	var asset models.CacheAsset
	if err := r.db.WithContext(ctx).Where("original_url = ?", originalURL).Take(&asset).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

// FindByIDs loads the assets with the given ids keyed by id.
func (r *Repository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.CacheAsset, error) {
	out := make(map[uuid.UUID]models.CacheAsset, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.CacheAsset
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// MarkDownloading moves the asset into DOWNLOADING. PENDING and DOWNLOADING
// (a queue retry or redelivered lease) qualify. CACHED and FAILED are
// terminal: the asset is returned untouched so the caller can skip the job,
// and only ResetForRecache leaves those states.
func (r *Repository) MarkDownloading(ctx context.Context, id uuid.UUID) (*models.CacheAsset, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CacheAsset{}).
		Where("id = ? AND status IN ?", id, []enums.CacheAssetStatus{
			enums.CacheAssetStatusPending,
			enums.CacheAssetStatusDownloading,
		}).
		Updates(map[string]any{
			"status":     enums.CacheAssetStatusDownloading,
			"last_error": nil,
			"updated_at": r.now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	return r.FindByID(ctx, id)
}

// CachedObject is what a successful download produced.
type CachedObject struct {
	Key         string
	Size        int64
	ContentType string
	CachedAt    time.Time
}

// MarkCached records the stored object. Only a DOWNLOADING asset may be
// marked; anything else returns ErrStaleTransition.
func (r *Repository) MarkCached(ctx context.Context, id uuid.UUID, obj CachedObject) error {
	if obj.Key == "" {
		return errors.New("cache key required")
	}
	cachedAt := obj.CachedAt.UTC()
	res := r.db.WithContext(ctx).
		Model(&models.CacheAsset{}).
		Where("id = ? AND status = ?", id, enums.CacheAssetStatusDownloading).
		Updates(map[string]any{
			"status":       enums.CacheAssetStatusCached,
			"cache_key":    obj.Key,
			"file_size":    obj.Size,
			"content_type": obj.ContentType,
			"cached_at":    cachedAt,
			"last_error":   nil,
			"updated_at":   r.now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// RecordAttemptError notes a failed download attempt on a DOWNLOADING asset
// without leaving the state, so the queue can retry it.
func (r *Repository) RecordAttemptError(ctx context.Context, id uuid.UUID, reason string) error {
	if len(reason) > maxErrorLength {
		reason = reason[:maxErrorLength]
	}
	res := r.db.WithContext(ctx).
		Model(&models.CacheAsset{}).
		Where("id = ? AND status = ?", id, enums.CacheAssetStatusDownloading).
		Updates(map[string]any{
			"last_error": reason,
			"updated_at": r.now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// MarkFailed moves a DOWNLOADING asset to FAILED and clears any cache key.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if len(reason) > maxErrorLength {
		reason = reason[:maxErrorLength]
	}
	res := r.db.WithContext(ctx).
		Model(&models.CacheAsset{}).
		Where("id = ? AND status = ?", id, enums.CacheAssetStatusDownloading).
		Updates(map[string]any{
			"status":       enums.CacheAssetStatusFailed,
			"cache_key":    nil,
			"file_size":    nil,
			"content_type": nil,
			"cached_at":    nil,
			"last_error":   reason,
			"updated_at":   r.now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// ResetForRecache puts the asset back to PENDING from any state.
func (r *Repository) ResetForRecache(ctx context.Context, id uuid.UUID) (*models.CacheAsset, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CacheAsset{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       enums.CacheAssetStatusPending,
			"cache_key":    nil,
			"file_size":    nil,
			"content_type": nil,
			"cached_at":    nil,
			"last_error":   nil,
			"updated_at":   r.now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return r.FindByID(ctx, id)
}

// CountByStatus returns the number of assets per status.
func (r *Repository) CountByStatus(ctx context.Context) (map[enums.CacheAssetStatus]int64, error) {
	var rows []struct {
		Status enums.CacheAssetStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.CacheAsset{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[enums.CacheAssetStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

// ListStrandedBefore returns PENDING and DOWNLOADING assets untouched since
// cutoff, oldest first. A DOWNLOADING row that old has outlived its lease.
func (r *Repository) ListStrandedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.CacheAsset, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []models.CacheAsset
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []enums.CacheAssetStatus{
			enums.CacheAssetStatusPending,
			enums.CacheAssetStatusDownloading,
		}, cutoff.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
