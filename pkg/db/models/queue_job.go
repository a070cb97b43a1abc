package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/carousel-backend/pkg/enums"
)

// QueueJob is a durable unit of work leased by queue workers.
type QueueJob struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Queue          enums.QueueName      `gorm:"column:queue_name;not null"`
	JobID          string               `gorm:"column:job_id;not null"`
	Payload        json.RawMessage      `gorm:"column:payload;type:jsonb;not null"`
	Priority       int                  `gorm:"column:priority;not null;default:0"`
	Status         enums.QueueJobStatus `gorm:"column:status;type:queue_job_status;not null"`
	Attempts       int                  `gorm:"column:attempts;not null;default:0"`
	MaxAttempts    int                  `gorm:"column:max_attempts;not null"`
	AvailableAt    time.Time            `gorm:"column:available_at;not null"`
	LeaseToken     *string              `gorm:"column:lease_token"`
	LeaseExpiresAt *time.Time           `gorm:"column:lease_expires_at"`
	LastError      *string              `gorm:"column:last_error"`
	FinishedAt     *time.Time           `gorm:"column:finished_at"`
	CreatedAt      time.Time            `gorm:"column:created_at"`
	UpdatedAt      time.Time            `gorm:"column:updated_at"`
}

func (QueueJob) TableName() string {
	return "queue_jobs"
}
