package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/carousel-backend/pkg/enums"
)

// OutboxEvent is one domain event written in the same transaction as the
// state change that produced it. The publisher sets PublishedAt once the
// broker has acknowledged the message.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	EventType     enums.OutboxEventType     `gorm:"type:event_type_enum;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"type:aggregate_type_enum;not null"`
	AggregateID   uuid.UUID                 `gorm:"type:uuid;not null"`
	Payload       json.RawMessage           `gorm:"type:jsonb;not null"`
	AttemptCount  int                       `gorm:"not null;default:0"`
	LastError     *string
	PublishedAt   *time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// OutboxDLQ is the parked copy of an event the publisher gave up on.
type OutboxDLQ struct {
	ID            uuid.UUID                  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	EventID       uuid.UUID                  `gorm:"type:uuid;not null;index:idx_outbox_dlq_event_id"`
	EventType     enums.OutboxEventType      `gorm:"type:event_type_enum;not null"`
	AggregateType enums.OutboxAggregateType  `gorm:"type:aggregate_type_enum;not null"`
	AggregateID   uuid.UUID                  `gorm:"type:uuid;not null"`
	Payload       json.RawMessage            `gorm:"column:payload_json;type:jsonb;not null"`
	ErrorReason   enums.OutboxDLQErrorReason `gorm:"type:outbox_dlq_error_reason_enum;not null"`
	ErrorMessage  *string
	AttemptCount  int       `gorm:"not null;default:0"`
	FailedAt      time.Time `gorm:"autoCreateTime"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (OutboxDLQ) TableName() string { return "outbox_dlq" }

// DeadLetter copies event into a DLQ row tagged with reason and cause.
func DeadLetter(event OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, at time.Time) OutboxDLQ {
	row := OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		AttemptCount:  event.AttemptCount,
		FailedAt:      at,
	}
	if cause != nil {
		msg := cause.Error()
		row.ErrorMessage = &msg
	}
	return row
}
