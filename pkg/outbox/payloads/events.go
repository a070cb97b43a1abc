package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProfileMonitorCompletedEvent is emitted when a monitor run finishes.
type ProfileMonitorCompletedEvent struct {
	ProfileID    uuid.UUID `json:"profile_id"`
	LogID        uuid.UUID `json:"log_id"`
	Handle       string    `json:"handle"`
	PagesScraped int       `json:"pages_scraped"`
	PostsScraped int       `json:"posts_scraped"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	ForceRecache bool      `json:"force_recache"`
}

// ProfileMonitorFailedEvent is emitted when a monitor run aborts.
type ProfileMonitorFailedEvent struct {
	ProfileID    uuid.UUID `json:"profile_id"`
	LogID        uuid.UUID `json:"log_id"`
	Handle       string    `json:"handle"`
	PagesScraped int       `json:"pages_scraped"`
	PostsScraped int       `json:"posts_scraped"`
	Error        string    `json:"error"`
	StartedAt    time.Time `json:"started_at"`
	FailedAt     time.Time `json:"failed_at"`
}

// PostMetricsSnapshot is one post's counters at capture time.
type PostMetricsSnapshot struct {
	PostID         uuid.UUID       `json:"post_id"`
	TiktokID       string          `json:"tiktok_id"`
	ViewCount      int64           `json:"view_count"`
	LikeCount      int64           `json:"like_count"`
	ShareCount     int64           `json:"share_count"`
	CommentCount   int64           `json:"comment_count"`
	SaveCount      int64           `json:"save_count"`
	EngagementRate decimal.Decimal `json:"engagement_rate"`
}

// PostMetricsSnapshottedEvent carries the snapshots taken for one scraped page.
type PostMetricsSnapshottedEvent struct {
	ProfileID  uuid.UUID             `json:"profile_id"`
	LogID      uuid.UUID             `json:"log_id"`
	Page       int                   `json:"page"`
	CapturedAt time.Time             `json:"captured_at"`
	Snapshots  []PostMetricsSnapshot `json:"snapshots"`
}
