package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// PostMetricRow mirrors the post_metrics BigQuery schema. One row is written
// per post per snapshot.
type PostMetricRow struct {
	EventID        string    `bigquery:"event_id"`
	CapturedAt     time.Time `bigquery:"captured_at"`
	ProfileID      string    `bigquery:"profile_id"`
	MonitorLogID   string    `bigquery:"monitor_log_id"`
	Page           int64     `bigquery:"page"`
	PostID         string    `bigquery:"post_id"`
	TiktokID       string    `bigquery:"tiktok_id"`
	ViewCount      int64     `bigquery:"view_count"`
	LikeCount      int64     `bigquery:"like_count"`
	ShareCount     int64     `bigquery:"share_count"`
	CommentCount   int64     `bigquery:"comment_count"`
	SaveCount      int64     `bigquery:"save_count"`
	EngagementRate float64   `bigquery:"engagement_rate"`
}

// MonitorRunRow mirrors the monitor_runs BigQuery schema.
type MonitorRunRow struct {
	EventID      string               `bigquery:"event_id"`
	ProfileID    string               `bigquery:"profile_id"`
	MonitorLogID string               `bigquery:"monitor_log_id"`
	Handle       string               `bigquery:"handle"`
	Status       string               `bigquery:"status"`
	PagesScraped int64                `bigquery:"pages_scraped"`
	PostsScraped int64                `bigquery:"posts_scraped"`
	StartedAt    time.Time            `bigquery:"started_at"`
	FinishedAt   time.Time            `bigquery:"finished_at"`
	DurationMS   int64                `bigquery:"duration_ms"`
	Error        cbigquery.NullString `bigquery:"error"`
	Payload      cbigquery.NullJSON   `bigquery:"payload"`
}
