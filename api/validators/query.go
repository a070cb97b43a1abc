package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
	"github.com/angelmondragon/carousel-backend/pkg/pagination"
)

// ParseQueryInt reads an integer query parameter within [lo, hi]. A missing
// parameter yields fallback.
func ParseQueryInt(r *http.Request, key string, fallback, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, invalidField(key, "query parameter must be numeric", nil)
	case n < lo || n > hi:
		return 0, invalidField(key, "query parameter out of range", map[string]any{"min": lo, "max": hi})
	}
	return n, nil
}

// PageParams reads the limit and cursor query parameters of a list endpoint.
func PageParams(r *http.Request) (pagination.Params, error) {
	limit, err := ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	if _, err := pagination.ParseCursor(cursor); err != nil {
		return pagination.Params{}, invalidField("cursor", "invalid cursor", nil)
	}
	return pagination.Params{Limit: limit, Cursor: cursor}, nil
}

// ParseUUIDParam reads a chi URL parameter as a UUID.
func ParseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, key)))
	if err != nil {
		return uuid.Nil, invalidField(key, "invalid "+key, nil)
	}
	return id, nil
}

func invalidField(field, msg string, extra map[string]any) error {
	details := map[string]any{"field": field}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(details)
}
