package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PostMetricsHistory is the snapshot of a post's counters taken right before
// a monitor run overwrites them.
type PostMetricsHistory struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PostID         uuid.UUID       `gorm:"column:post_id;type:uuid;not null"`
	ViewCount      int64           `gorm:"column:view_count;not null"`
	LikeCount      int64           `gorm:"column:like_count;not null"`
	ShareCount     int64           `gorm:"column:share_count;not null"`
	CommentCount   int64           `gorm:"column:comment_count;not null"`
	SaveCount      int64           `gorm:"column:save_count;not null"`
	EngagementRate decimal.Decimal `gorm:"column:engagement_rate;type:numeric(10,6);not null"`
	CapturedAt     time.Time       `gorm:"column:captured_at;not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (PostMetricsHistory) TableName() string {
	return "post_metrics_history"
}
