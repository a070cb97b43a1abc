package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/angelmondragon/carousel-backend/pkg/logger"
)

// Logging emits one line per request. Server errors log at error level so
// they surface in alerting; everything else is info.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ctx = logg.WithFields(ctx, map[string]any{
				"status":        status,
				"bytes_written": ww.BytesWritten(),
				"duration_ms":   time.Since(start).Milliseconds(),
			})
			if status >= http.StatusInternalServerError {
				logg.Error(ctx, "request.complete", nil)
				return
			}
			logg.Info(ctx, "request.complete")
		})
	}
}
