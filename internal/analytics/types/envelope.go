package types

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/carousel-backend/pkg/enums"
	"github.com/angelmondragon/carousel-backend/pkg/outbox"
)

// Pub/Sub attribute keys stamped by the outbox publisher.
const (
	AttrEventID       = "event_id"
	AttrEventType     = "event_type"
	AttrAggregateType = "aggregate_type"
	AttrAggregateID   = "aggregate_id"
	AttrCreatedAt     = "created_at"
)

// Envelope is the decoded form of an outbox message delivered over Pub/Sub.
type Envelope struct {
	EventID       string                    `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   string                    `json:"aggregate_id"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Payload       json.RawMessage           `json:"payload"`
}

// DecodeEnvelope rebuilds an Envelope from a message body and its attributes.
// The body's event id and occurrence time win over the attribute copies.
func DecodeEnvelope(data []byte, attrs map[string]string) (Envelope, error) {
	var stored outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &stored); err != nil {
		return Envelope{}, fmt.Errorf("decode payload envelope: %w", err)
	}
	attr := func(key string) string { return strings.TrimSpace(attrs[key]) }

	eventType, err := enums.ParseOutboxEventType(attr(AttrEventType))
	if err != nil {
		return Envelope{}, fmt.Errorf("%s: %w", AttrEventType, err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attr(AttrAggregateType))
	if err != nil {
		return Envelope{}, fmt.Errorf("%s: %w", AttrAggregateType, err)
	}
	env := Envelope{
		EventID:       cmp.Or(strings.TrimSpace(stored.EventID), attr(AttrEventID)),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   attr(AttrAggregateID),
		OccurredAt:    stored.OccurredAt,
		Payload:       stored.Data,
	}
	if env.AggregateID == "" {
		return Envelope{}, errors.New("aggregate_id missing")
	}
	if env.EventID == "" {
		return Envelope{}, errors.New("event_id missing")
	}
	if env.OccurredAt.IsZero() {
		if parsed, err := time.Parse(time.RFC3339Nano, attr(AttrCreatedAt)); err == nil {
			env.OccurredAt = parsed
		}
	}
	env.OccurredAt = env.OccurredAt.UTC()
	return env, nil
}
