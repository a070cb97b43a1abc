// Package router turns analytics envelopes into BigQuery rows.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/carousel-backend/internal/analytics/types"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/outbox/payloads"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers BigQuery rows produced by analytics handlers.
type Writer interface {
	InsertPostMetric(ctx context.Context, row types.PostMetricRow) error
	InsertMonitorRun(ctx context.Context, row types.MonitorRunRow) error
}

// Handler consumes one decoded payload. payload is the pointer type
// registered for the envelope's event in pkg/outbox/payloads.
type Handler func(ctx context.Context, envelope types.Envelope, payload any) error

type Router struct {
	routes map[enums.OutboxEventType]Handler
	logg   *logger.Logger
}

// NewRouter wires the BigQuery handlers. overrides replace the handler of
// an event the router already knows and are ignored for anything else.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	switch {
	case writer == nil:
		return nil, errors.New("writer is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}

	s := sink{writer: writer, logg: logg}
	routes := map[enums.OutboxEventType]Handler{
		enums.EventPostMetricsSnapshotted:  typed(s.postMetrics),
		enums.EventProfileMonitorCompleted: typed(s.monitorCompleted),
		enums.EventProfileMonitorFailed:    typed(s.monitorFailed),
	}
	for event, h := range overrides {
		if _, ok := routes[event]; ok && h != nil {
			routes[event] = h
		}
	}
	return &Router{routes: routes, logg: logg}, nil
}

// Handle decodes the envelope payload and runs the handler for its event.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	h, ok := r.routes[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	payload, err := payloads.Decode(envelope.EventType, envelope.Payload)
	if err != nil {
		return err
	}
	r.logg.Debug(r.logg.WithField(ctx, "event_type", envelope.EventType), "routing analytics event")
	return h(ctx, envelope, payload)
}

func typed[T any](fn func(context.Context, types.Envelope, *T) error) Handler {
	return func(ctx context.Context, envelope types.Envelope, payload any) error {
		event, ok := payload.(*T)
		if !ok {
			return fmt.Errorf("%s: unexpected payload type %T", envelope.EventType, payload)
		}
		return fn(ctx, envelope, event)
	}
}

// sink holds the row builders for each routed event.
type sink struct {
	writer Writer
	logg   *logger.Logger
}
