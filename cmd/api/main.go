package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/carousel-backend/api/controllers"
	"github.com/angelmondragon/carousel-backend/api/routes"
	"github.com/angelmondragon/carousel-backend/internal/bulkupsert"
	"github.com/angelmondragon/carousel-backend/internal/cacheasset"
	"github.com/angelmondragon/carousel-backend/internal/mediacache"
	"github.com/angelmondragon/carousel-backend/internal/monitoring"
	"github.com/angelmondragon/carousel-backend/internal/profilemonitor"
	"github.com/angelmondragon/carousel-backend/internal/queue"
	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/db"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/migrate"
	"github.com/angelmondragon/carousel-backend/pkg/outbox"
	"github.com/angelmondragon/carousel-backend/pkg/redis"
	"github.com/angelmondragon/carousel-backend/pkg/storage/backend"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		FilePath:    cfg.App.LogFile,
		Format:      cfg.App.LogFormat,
	})
	defer logg.Close()

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	store, err := backend.Open(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap object store", err)
		os.Exit(1)
	}

	mediaDurable, err := queue.New(dbClient.DB(), enums.QueueMediaCache, queue.PolicyFromConfig(cfg.Queue, cfg.Queue.MediaVisibility))
	if err != nil {
		logg.Error(context.Background(), "failed to create media-cache queue", err)
		os.Exit(1)
	}
	mediaQueue, err := mediacache.NewQueue(mediaDurable)
	if err != nil {
		logg.Error(context.Background(), "failed to wrap media-cache queue", err)
		os.Exit(1)
	}

	monitorDurable, err := queue.New(dbClient.DB(), enums.QueueProfileMonitor, queue.PolicyFromConfig(cfg.Queue, cfg.Queue.MonitorVisibility))
	if err != nil {
		logg.Error(context.Background(), "failed to create profile-monitor queue", err)
		os.Exit(1)
	}
	monitorQueue, err := profilemonitor.NewQueue(monitorDurable, redisClient, cfg.Monitor.DedupWindow)
	if err != nil {
		logg.Error(context.Background(), "failed to wrap profile-monitor queue", err)
		os.Exit(1)
	}

	assetService, err := cacheasset.NewService(cacheasset.ServiceParams{
		Repo:        cacheasset.NewRepository(dbClient.DB()),
		Jobs:        mediaQueue,
		Store:       store,
		URLCache:    redisClient,
		URLCacheTTL: cfg.Storage.ResolvedURLCacheTTL(),
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cache asset service", err)
		os.Exit(1)
	}

	syncService, err := bulkupsert.NewService(bulkupsert.Params{
		TxRunner:    dbClient,
		Repo:        bulkupsert.NewRepository(dbClient.DB()),
		Assets:      assetService,
		Logger:      logg,
		BatchSize:   cfg.Monitor.BatchSize,
		MediaFanout: cfg.Monitor.MediaFanout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create bulk upsert service", err)
		os.Exit(1)
	}

	router := routes.NewRouter(cfg, logg, routes.Dependencies{
		DB:          dbClient,
		Redis:       redisClient,
		RedisPinger: redisClient,
		Store:       store,
		Assets:      assetService,
		Queues: map[enums.QueueName]controllers.QueueAdmin{
			enums.QueueMediaCache:     mediaQueue,
			enums.QueueProfileMonitor: monitorQueue,
		},
		Profiles:    profilemonitor.NewRepository(dbClient.DB()),
		Monitor:     monitorQueue,
		MonitorLogs: monitoring.NewRepository(dbClient.DB()),
		DeadLetters: outbox.NewDLQRepository(dbClient.DB()),
		Syncer:      syncService,
		Metrics:     promhttp.Handler(),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
	}
	logg.Info(ctx, "api server stopped")
}
