package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceRef identifies the process that produced the event.
type SourceRef struct {
	Service string `json:"service"`
	JobID   string `json:"jobId,omitempty"`
}

// PayloadEnvelope is the JSON document stored in outbox_events.payload and
// published verbatim. Data holds the event-specific payload.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Source     *SourceRef      `json:"source,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// newEnvelope wraps data with a fresh event id. A zero occurredAt means now;
// versions below 1 are stored as 1.
func newEnvelope(data any, version int, occurredAt, now time.Time, source *SourceRef) (PayloadEnvelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("encode event data: %w", err)
	}
	if occurredAt.IsZero() {
		occurredAt = now
	}
	return PayloadEnvelope{
		Version:    max(version, 1),
		EventID:    uuid.NewString(),
		OccurredAt: occurredAt.UTC(),
		Source:     source,
		Data:       raw,
	}, nil
}
