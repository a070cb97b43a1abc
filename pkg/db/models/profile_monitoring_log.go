package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/carousel-backend/pkg/enums"
)

// ProfileMonitoringLog records one monitor run for a profile.
type ProfileMonitoringLog struct {
	ID           uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProfileID    uuid.UUID              `gorm:"column:profile_id;type:uuid;not null"`
	Status       enums.MonitoringStatus `gorm:"column:status;type:monitoring_status;not null"`
	StartedAt    time.Time              `gorm:"column:started_at;not null"`
	CompletedAt  *time.Time             `gorm:"column:completed_at"`
	PostsScraped *int                   `gorm:"column:posts_scraped"`
	PagesScraped *int                   `gorm:"column:pages_scraped"`
	Error        *string                `gorm:"column:error"`
	CreatedAt    time.Time              `gorm:"column:created_at;autoCreateTime"`
}
