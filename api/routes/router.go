package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/carousel-backend/api/controllers"
	"github.com/angelmondragon/carousel-backend/api/middleware"
	"github.com/angelmondragon/carousel-backend/internal/cacheasset"
	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/carousel-backend/pkg/redis"
)

// RedisStore backs the rate limiter and the idempotency replay cache.
type RedisStore interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Dependencies wires the router. Nil optional fields disable the routes or
// middleware that need them.
type Dependencies struct {
	DB    controllers.Pinger
	Redis RedisStore
	// RedisPinger is usually the same client as Redis.
	RedisPinger controllers.Pinger
	Store       controllers.Pinger

	Assets      cacheasset.Service
	Queues      map[enums.QueueName]controllers.QueueAdmin
	Profiles    controllers.ProfileFinder
	Monitor     controllers.MonitorQueue
	MonitorLogs controllers.MonitorLogLister
	Syncer      controllers.ProfileSyncer
	DeadLetters controllers.DeadLetterReader

	Metrics http.Handler
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.API.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":      deps.DB,
			"redis":   deps.RedisPinger,
			"storage": deps.Store,
		}))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Get("/api/public/ping", controllers.PublicPing())

	policy := middleware.RateLimitPolicy{
		Name:   "api",
		Limit:  cfg.API.RateLimit,
		Window: cfg.API.RateLimitWindow,
	}

	var idemStore pkgredis.IdempotencyStore
	if deps.Redis != nil {
		idemStore = deps.Redis
	}
	strict := middleware.Idempotency(idemStore, middleware.StrictIdempotency, logg)
	trigger := middleware.Idempotency(idemStore, middleware.TriggerIdempotency, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		if deps.Redis != nil {
			r.Use(middleware.RateLimit(policy, deps.Redis, logg))
		}

		r.Get("/whoami", controllers.WhoAmI())

		if deps.Assets != nil {
			r.Route("/cache-assets", func(r chi.Router) {
				r.Post("/", controllers.CacheAssetCreate(deps.Assets, logg))
				r.Get("/{assetId}", controllers.CacheAssetGet(deps.Assets, logg))
				r.Get("/{assetId}/url", controllers.CacheAssetURL(deps.Assets, logg))
				r.With(strict).Post("/{assetId}/recache", controllers.CacheAssetRecache(deps.Assets, logg))
			})
		}

		r.Route("/profiles", func(r chi.Router) {
			if deps.Syncer != nil {
				r.With(strict).Post("/sync", controllers.ProfileSync(deps.Syncer, cfg.API.SyncTimeout, logg))
			}
			if deps.Monitor != nil {
				r.With(trigger).Post("/monitor/bulk", controllers.ProfileMonitorBulk(deps.Monitor, logg))
				if deps.Profiles != nil {
					r.With(trigger).Post("/{profileId}/monitor", controllers.ProfileMonitor(deps.Profiles, deps.Monitor, logg))
				}
			}
			if deps.MonitorLogs != nil {
				r.Get("/{profileId}/monitor-logs", controllers.ProfileMonitorLogs(deps.MonitorLogs, logg))
			}
		})

		r.Route("/queues/{queue}", func(r chi.Router) {
			r.Get("/stats", controllers.QueueStats(deps.Queues, logg))
			r.With(middleware.RequireRole(logg, enums.OperatorRoleAdmin)).Delete("/", controllers.QueueClear(deps.Queues, logg))
		})

		if deps.DeadLetters != nil {
			r.Route("/outbox/dead-letters", func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.OperatorRoleAdmin))
				r.Get("/", controllers.DeadLetterList(deps.DeadLetters, logg))
				r.Get("/{eventId}", controllers.DeadLetterGet(deps.DeadLetters, logg))
			})
		}
	})

	return r
}
