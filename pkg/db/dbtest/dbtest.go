// Package dbtest opens throwaway SQLite databases carrying the same tables
// the Postgres migrations create.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var schema = []string{
	`CREATE TABLE cache_assets (
		id TEXT PRIMARY KEY,
		original_url TEXT NOT NULL UNIQUE,
		cache_key TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		file_size INTEGER,
		content_type TEXT,
		cached_at DATETIME,
		last_error TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE queue_jobs (
		id TEXT PRIMARY KEY,
		queue_name TEXT NOT NULL,
		job_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		available_at DATETIME NOT NULL,
		lease_token TEXT,
		lease_expires_at DATETIME,
		last_error TEXT,
		finished_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (queue_name, job_id)
	)`,
	`CREATE TABLE profiles (
		id TEXT PRIMARY KEY,
		handle TEXT NOT NULL UNIQUE,
		nickname TEXT NOT NULL DEFAULT '',
		bio TEXT,
		avatar_url TEXT,
		avatar_id TEXT,
		verified BOOLEAN NOT NULL DEFAULT 0,
		follower_count INTEGER NOT NULL DEFAULT 0,
		following_count INTEGER NOT NULL DEFAULT 0,
		like_count INTEGER NOT NULL DEFAULT 0,
		video_count INTEGER NOT NULL DEFAULT 0,
		monitoring_enabled BOOLEAN NOT NULL DEFAULT 1,
		last_monitoring_run DATETIME,
		next_monitoring_run DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE posts (
		id TEXT PRIMARY KEY,
		tiktok_id TEXT NOT NULL UNIQUE,
		profile_id TEXT NOT NULL,
		description TEXT,
		posted_at DATETIME,
		web_url TEXT,
		duration_seconds INTEGER,
		video_url TEXT,
		video_id TEXT,
		cover_url TEXT,
		cover_id TEXT,
		music_url TEXT,
		music_id TEXT,
		music_title TEXT,
		images TEXT,
		hashtags TEXT,
		view_count INTEGER NOT NULL DEFAULT 0,
		like_count INTEGER NOT NULL DEFAULT 0,
		share_count INTEGER NOT NULL DEFAULT 0,
		comment_count INTEGER NOT NULL DEFAULT 0,
		save_count INTEGER NOT NULL DEFAULT 0,
		metrics_captured_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE post_metrics_history (
		id TEXT PRIMARY KEY,
		post_id TEXT NOT NULL,
		view_count INTEGER NOT NULL,
		like_count INTEGER NOT NULL,
		share_count INTEGER NOT NULL,
		comment_count INTEGER NOT NULL,
		save_count INTEGER NOT NULL,
		engagement_rate TEXT NOT NULL,
		captured_at DATETIME NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE profile_monitoring_logs (
		id TEXT PRIMARY KEY,
		profile_id TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		posts_scraped INTEGER,
		pages_scraped INTEGER,
		error TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
}

// Open returns a private in-memory database with the full schema applied.
// A single pooled connection keeps concurrent callers from tripping SQLite
// table locks; callers must not query outside a transaction they hold open.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}
