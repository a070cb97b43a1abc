// Package registry decides where each outbox event type is published and
// validates rows before the publisher sends them.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	"github.com/angelmondragon/carousel-backend/pkg/outbox"
	"github.com/angelmondragon/carousel-backend/pkg/outbox/payloads"
)

// EventDescriptor is the routing entry of one event type.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is a validated outbox row ready to publish.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that will never publish, however often it is
// retried. The publisher dead-letters it immediately.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err, or anything it wraps, is a NonRetryableError.
func IsNonRetryable(err error) bool {
	var target NonRetryableError
	return errors.As(err, &target)
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NewEventRegistry routes monitor lifecycle events to the events topic and
// metric snapshots to the analytics topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	switch {
	case cfg.EventsTopic == "":
		return nil, errors.New("events topic is required")
	case cfg.AnalyticsTopic == "":
		return nil, errors.New("analytics topic is required")
	}
	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	for eventType, topic := range map[enums.OutboxEventType]string{
		enums.EventProfileMonitorCompleted: cfg.EventsTopic,
		enums.EventProfileMonitorFailed:    cfg.EventsTopic,
		enums.EventPostMetricsSnapshotted:  cfg.AnalyticsTopic,
	} {
		reg.entries[eventType] = EventDescriptor{
			EventType:     eventType,
			AggregateType: enums.AggregateProfile,
			Topic:         topic,
		}
	}
	return reg, nil
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is non-retryable: the row itself is malformed.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	payload, err := payloads.Decode(event.EventType, envelope.Data)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
