package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
)

// DomainEvent is what producers hand to Emit.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Source        *SourceRef
	Data          any
	Version       int
	// OccurredAt defaults to the emit time.
	OccurredAt time.Time
}

func (e DomainEvent) validate() error {
	switch {
	case !e.EventType.IsValid():
		return fmt.Errorf("invalid outbox event type %q", e.EventType)
	case !e.AggregateType.IsValid():
		return fmt.Errorf("invalid outbox aggregate type %q", e.AggregateType)
	case e.AggregateID == uuid.Nil:
		return errors.New("outbox event aggregate id is required")
	}
	return nil
}

// Service appends domain events to the outbox table.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit writes event inside tx so it commits or rolls back with the caller's
// state change. It never publishes; the outbox publisher does.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if err := event.validate(); err != nil {
		return err
	}

	now := s.now().UTC()
	envelope, err := newEnvelope(event.Data, event.Version, event.OccurredAt, now, event.Source)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := s.repo.Insert(ctx, tx, models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
		CreatedAt:     now,
	}); err != nil {
		return err
	}

	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":     envelope.EventID,
			"event_type":   event.EventType,
			"aggregate_id": event.AggregateID.String(),
		}), "outbox event queued")
	}
	return nil
}
