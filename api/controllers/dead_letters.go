package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/carousel-backend/api/responses"
	"github.com/angelmondragon/carousel-backend/api/validators"
	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/outbox"
	"github.com/angelmondragon/carousel-backend/pkg/pagination"
)

// DeadLetterReader exposes outbox events the publisher gave up on.
type DeadLetterReader interface {
	List(ctx context.Context, params pagination.Params) ([]models.OutboxDLQ, string, error)
	FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
}

type deadLetterResponse struct {
	EventID       uuid.UUID       `json:"eventId"`
	EventType     string          `json:"eventType"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   uuid.UUID       `json:"aggregateId"`
	Reason        string          `json:"reason"`
	Message       *string         `json:"message,omitempty"`
	Attempts      int             `json:"attempts"`
	FailedAt      time.Time       `json:"failedAt"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

func toDeadLetter(row models.OutboxDLQ, withPayload bool) deadLetterResponse {
	out := deadLetterResponse{
		EventID:       row.EventID,
		EventType:     string(row.EventType),
		AggregateType: string(row.AggregateType),
		AggregateID:   row.AggregateID,
		Reason:        string(row.ErrorReason),
		Message:       row.ErrorMessage,
		Attempts:      row.AttemptCount,
		FailedAt:      row.FailedAt,
	}
	if withPayload {
		out.Payload = row.Payload
	}
	return out
}

// DeadLetterList pages dead letters newest first, without payloads.
func DeadLetterList(dlq DeadLetterReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageParams, err := validators.PageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, next, err := dlq.List(r.Context(), pageParams)
		switch {
		case errors.Is(err, outbox.ErrInvalidCursor):
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor"))
			return
		case err != nil:
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters"))
			return
		}
		items := make([]deadLetterResponse, 0, len(rows))
		for _, row := range rows {
			items = append(items, toDeadLetter(row, false))
		}
		responses.WriteSuccess(w, page[deadLetterResponse]{Items: items, NextCursor: next})
	}
}

func DeadLetterGet(dlq DeadLetterReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, err := validators.ParseUUIDParam(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		row, err := dlq.FindByEventID(r.Context(), eventID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "dead letter not found"))
			return
		case err != nil:
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dead letter"))
			return
		}
		responses.WriteSuccess(w, toDeadLetter(*row, true))
	}
}
