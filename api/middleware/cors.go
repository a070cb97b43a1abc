package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
)

const corsPreflightCache = 5 * time.Minute

// CORS admits browser calls from origins. An empty list disables
// cross-origin access entirely.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", idempotencyHeader, requestIDHeader},
		ExposedHeaders: []string{requestIDHeader, replayedHeader},
		// bearer tokens only; no cookies cross origins
		AllowCredentials: false,
		MaxAge:           int(corsPreflightCache.Seconds()),
	})
}
