package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/carousel-backend/pkg/enums"
)

// CacheAsset maps one remote media URL to its copy in the object store.
type CacheAsset struct {
	ID          uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OriginalURL string                 `gorm:"column:original_url;not null;uniqueIndex:ux_cache_assets_original_url"`
	CacheKey    *string                `gorm:"column:cache_key"`
	Status      enums.CacheAssetStatus `gorm:"column:status;type:cache_asset_status;not null;default:PENDING"`
	FileSize    *int64                 `gorm:"column:file_size"`
	ContentType *string                `gorm:"column:content_type"`
	CachedAt    *time.Time             `gorm:"column:cached_at"`
	LastError   *string                `gorm:"column:last_error"`
	CreatedAt   time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
