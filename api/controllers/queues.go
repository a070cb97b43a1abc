package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/carousel-backend/api/responses"
	"github.com/angelmondragon/carousel-backend/internal/queue"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
)

// QueueAdmin is the operator surface shared by the typed queues.
type QueueAdmin interface {
	GetStats(ctx context.Context) (queue.Stats, error)
	Clear(ctx context.Context) (int64, error)
}

func lookupQueue(r *http.Request, queues map[enums.QueueName]QueueAdmin) (enums.QueueName, QueueAdmin, error) {
	name, err := enums.ParseQueueName(strings.TrimSpace(chi.URLParam(r, "queue")))
	if err != nil {
		return "", nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "unknown queue")
	}
	q, ok := queues[name]
	if !ok || q == nil {
		return "", nil, pkgerrors.New(pkgerrors.CodeNotFound, "queue not served by this instance")
	}
	return name, q, nil
}

func QueueStats(queues map[enums.QueueName]QueueAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, q, err := lookupQueue(r, queues)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		stats, err := q.GetStats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue stats"))
			return
		}
		responses.WriteSuccess(w, map[string]any{"queue": name, "stats": stats})
	}
}

// QueueClear purges every job of the queue, including ones currently leased.
func QueueClear(queues map[enums.QueueName]QueueAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, q, err := lookupQueue(r, queues)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		removed, err := q.Clear(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear queue"))
			return
		}
		if logg != nil {
			logg.Warn(logg.WithFields(r.Context(), map[string]any{"queue": name, "removed": removed}), "queue.cleared")
		}
		responses.WriteSuccess(w, map[string]any{"queue": name, "removed": removed})
	}
}
