package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/carousel-backend/internal/analytics/router"
	"github.com/angelmondragon/carousel-backend/internal/analytics/types"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/metrics"
	"github.com/google/uuid"
)

// Handler processes one decoded envelope.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

// HandlerFunc adapts functions to the Handler interface.
type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

type claimer interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// ServiceParams wires one subscription consumer.
type ServiceParams struct {
	// Consumer namespaces idempotency markers and metric labels.
	Consumer     string
	Subscription *gcppubsub.Subscriber
	Handler      Handler
	Idempotency  claimer
	Metrics      *metrics.ConsumerMetrics
	Logger       *logger.Logger
}

// Service drains a Pub/Sub subscription into a Handler, deduplicating
// deliveries by event id.
type Service struct {
	consumer string
	sub      receiver
	handler  Handler
	seen     claimer
	metrics  *metrics.ConsumerMetrics
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	consumer := strings.TrimSpace(params.Consumer)
	switch {
	case consumer == "":
		return nil, errors.New("consumer name is required")
	case params.Subscription == nil:
		return nil, errors.New("subscription is required")
	case params.Handler == nil:
		return nil, errors.New("handler is required")
	case params.Idempotency == nil:
		return nil, errors.New("idempotency manager is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{
		consumer: consumer,
		sub:      params.Subscription,
		handler:  params.Handler,
		seen:     params.Idempotency,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// Run receives until ctx is canceled. Each message is acked unless its
// outcome asks for redelivery.
func (s *Service) Run(ctx context.Context) error {
	return s.sub.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		outcome := s.process(msgCtx, msg)
		s.metrics.Observe(s.consumer, outcome)
		if outcome == metrics.ConsumerRedelivered {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process returns the delivery outcome. Only transient failures redeliver;
// malformed and unknown events are acked so they do not loop.
func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) string {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"consumer":   s.consumer,
		"message_id": msg.ID,
	})

	env, err := types.DecodeEnvelope(msg.Data, msg.Attributes)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "dropping malformed envelope")
		return metrics.ConsumerRejected
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":       env.EventID,
		"event_type":     env.EventType,
		"aggregate_type": env.AggregateType,
		"aggregate_id":   env.AggregateID,
		"occurred_at":    env.OccurredAt.Format(time.RFC3339Nano),
	})

	eventID, err := uuid.Parse(env.EventID)
	if err != nil {
		s.logg.Warn(ctx, "dropping envelope with non-uuid event id")
		return metrics.ConsumerRejected
	}

	claimed, err := s.seen.Claim(ctx, s.consumer, eventID)
	if err != nil {
		s.logg.Error(ctx, "idempotency check failed", err)
		return metrics.ConsumerRedelivered
	}
	if !claimed {
		s.logg.Info(ctx, "skipping duplicate delivery")
		return metrics.ConsumerDuplicate
	}

	err = s.handler.Handle(ctx, env)
	switch {
	case err == nil:
		s.logg.Debug(ctx, "event handled")
		return metrics.ConsumerHandled
	case errors.Is(err, router.ErrUnsupportedEventType):
		s.logg.Warn(ctx, "no route for event type")
		return metrics.ConsumerUnsupported
	default:
		s.logg.Error(ctx, "handler failed", err)
		if delErr := s.seen.Release(ctx, s.consumer, eventID); delErr != nil {
			s.logg.Error(ctx, "failed to clear idempotency marker", delErr)
		}
		return metrics.ConsumerRedelivered
	}
}
