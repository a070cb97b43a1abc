package payloads

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/carousel-backend/pkg/enums"
)

// ErrUnknownEvent is returned for event types without a payload schema.
var ErrUnknownEvent = errors.New("no payload schema for event type")

// ErrEmptyPayload is returned when an envelope carries no data.
var ErrEmptyPayload = errors.New("payload missing")

var schemas = map[enums.OutboxEventType]func() any{
	enums.EventProfileMonitorCompleted: func() any { return &ProfileMonitorCompletedEvent{} },
	enums.EventProfileMonitorFailed:    func() any { return &ProfileMonitorFailedEvent{} },
	enums.EventPostMetricsSnapshotted:  func() any { return &PostMetricsSnapshottedEvent{} },
}

// Decode unmarshals data into the payload struct of eventType and returns a
// pointer to it. Producers and consumers share this one mapping.
func Decode(eventType enums.OutboxEventType, data json.RawMessage) (any, error) {
	factory, ok := schemas[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, eventType)
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w for %s", ErrEmptyPayload, eventType)
	}
	payload := factory()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return payload, nil
}
