package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostImage is one slide of a photo carousel.
type PostImage struct {
	URL          string     `json:"url"`
	Width        int        `json:"width,omitempty"`
	Height       int        `json:"height,omitempty"`
	CacheAssetID *uuid.UUID `json:"cacheAssetId,omitempty"`
}

// Post is a scraped post. Media columns reference cache assets and are only
// rewritten on create or a forced recache.
type Post struct {
	ID          uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TiktokID    string         `gorm:"column:tiktok_id;not null;uniqueIndex:ux_posts_tiktok_id"`
	ProfileID   uuid.UUID      `gorm:"column:profile_id;type:uuid;not null"`
	Description *string        `gorm:"column:description"`
	PostedAt    *time.Time     `gorm:"column:posted_at"`
	WebURL      *string        `gorm:"column:web_url"`
	Duration    *int           `gorm:"column:duration_seconds"`
	VideoURL    *string        `gorm:"column:video_url"`
	VideoID     *uuid.UUID     `gorm:"column:video_id;type:uuid"`
	CoverURL    *string        `gorm:"column:cover_url"`
	CoverID     *uuid.UUID     `gorm:"column:cover_id;type:uuid"`
	MusicURL    *string        `gorm:"column:music_url"`
	MusicID     *uuid.UUID     `gorm:"column:music_id;type:uuid"`
	MusicTitle  *string        `gorm:"column:music_title"`
	Images      []PostImage    `gorm:"column:images;type:jsonb;serializer:json"`
	Hashtags    pq.StringArray `gorm:"column:hashtags;type:text[]"`

	ViewCount         int64      `gorm:"column:view_count;not null;default:0"`
	LikeCount         int64      `gorm:"column:like_count;not null;default:0"`
	ShareCount        int64      `gorm:"column:share_count;not null;default:0"`
	CommentCount      int64      `gorm:"column:comment_count;not null;default:0"`
	SaveCount         int64      `gorm:"column:save_count;not null;default:0"`
	MetricsCapturedAt *time.Time `gorm:"column:metrics_captured_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
