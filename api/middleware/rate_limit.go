package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/carousel-backend/api/responses"
	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
)

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimitPolicy throttles callers within a fixed window.
type RateLimitPolicy struct {
	Name   string
	Limit  int
	Window time.Duration
}

func (p RateLimitPolicy) enabled() bool {
	return p.Limit > 0 && p.Window > 0
}

func (p RateLimitPolicy) scope(caller string) string {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	if name == "" {
		name = "api"
	}
	return name + ":" + caller
}

// RateLimit counts requests per token subject, falling back to the client IP
// for unauthenticated routes.
func RateLimit(policy RateLimitPolicy, store rateLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			caller := SubjectFromContext(ctx)
			if caller == "" {
				caller = "ip:" + clientIP(r)
			}

			allowed, count, err := store.FixedWindowAllow(ctx, policy.scope(caller), int64(policy.Limit), policy.Window)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
				return
			}
			if !allowed {
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"caller":         caller,
						"attempts":       count,
						"limit":          policy.Limit,
						"window_seconds": int(policy.Window.Seconds()),
					}), "api.rate_limit.blocked")
				}
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
