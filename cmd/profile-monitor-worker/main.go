package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/carousel-backend/internal/bulkupsert"
	"github.com/angelmondragon/carousel-backend/internal/cacheasset"
	"github.com/angelmondragon/carousel-backend/internal/mediacache"
	"github.com/angelmondragon/carousel-backend/internal/monitoring"
	"github.com/angelmondragon/carousel-backend/internal/profilemonitor"
	"github.com/angelmondragon/carousel-backend/internal/queue"
	"github.com/angelmondragon/carousel-backend/internal/scraper"
	"github.com/angelmondragon/carousel-backend/internal/workerhost"
	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/db"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/metrics"
	"github.com/angelmondragon/carousel-backend/pkg/migrate"
	"github.com/angelmondragon/carousel-backend/pkg/outbox"
	"github.com/angelmondragon/carousel-backend/pkg/redis"
	"github.com/angelmondragon/carousel-backend/pkg/storage/backend"
)

const statsInterval = 30 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: "profile-monitor-worker"}).Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "profile-monitor-worker"

	logg := logger.New(logger.Options{
		ServiceName: "profile-monitor-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		FilePath:    cfg.App.LogFile,
		Format:      cfg.App.LogFormat,
	})
	defer logg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	store, err := backend.Open(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap object store", err)
		os.Exit(1)
	}
	defer store.Close()

	mediaDurable, err := queue.New(dbClient.DB(), enums.QueueMediaCache, queue.PolicyFromConfig(cfg.Queue, cfg.Queue.MediaVisibility))
	if err != nil {
		logg.Error(ctx, "failed to create media-cache queue", err)
		os.Exit(1)
	}
	mediaQueue, err := mediacache.NewQueue(mediaDurable)
	if err != nil {
		logg.Error(ctx, "failed to wrap media-cache queue", err)
		os.Exit(1)
	}

	monitorDurable, err := queue.New(dbClient.DB(), enums.QueueProfileMonitor, queue.PolicyFromConfig(cfg.Queue, cfg.Queue.MonitorVisibility))
	if err != nil {
		logg.Error(ctx, "failed to create profile-monitor queue", err)
		os.Exit(1)
	}

	assets, err := cacheasset.NewService(cacheasset.ServiceParams{
		Repo:        cacheasset.NewRepository(dbClient.DB()),
		Jobs:        mediaQueue,
		Store:       store,
		URLCache:    redisClient,
		URLCacheTTL: cfg.Storage.ResolvedURLCacheTTL(),
		Logger:      logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cache asset service", err)
		os.Exit(1)
	}

	upserter, err := bulkupsert.NewService(bulkupsert.Params{
		TxRunner:    dbClient,
		Repo:        bulkupsert.NewRepository(dbClient.DB()),
		Assets:      assets,
		Logger:      logg,
		BatchSize:   cfg.Monitor.BatchSize,
		MediaFanout: cfg.Monitor.MediaFanout,
	})
	if err != nil {
		logg.Error(ctx, "failed to create bulk upsert service", err)
		os.Exit(1)
	}

	scraperClient, err := scraper.NewHTTPClient(cfg.Scraper)
	if err != nil {
		logg.Error(ctx, "failed to create scraper client", err)
		os.Exit(1)
	}

	worker, err := profilemonitor.NewWorker(profilemonitor.WorkerParams{
		TxRunner:  dbClient,
		Repo:      profilemonitor.NewRepository(dbClient.DB()),
		Logs:      monitoring.NewRepository(dbClient.DB()),
		Scraper:   scraperClient,
		Upserter:  upserter,
		Outbox:    outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger:    logg,
		PageDelay: cfg.Monitor.PageDelay,
		MaxPages:  cfg.Monitor.MaxPages,
		Interval:  cfg.Monitor.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create profile monitor worker", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	pool, err := queue.NewPool(queue.PoolParams{
		Queue:         monitorDurable,
		Handler:       worker.Handle,
		Logger:        logg,
		Metrics:       metrics.NewQueueMetrics(registry),
		Concurrency:   cfg.Queue.MonitorConcurrency,
		PollInterval:  cfg.Queue.PollInterval,
		StatsInterval: statsInterval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create profile monitor pool", err)
		os.Exit(1)
	}

	host, err := workerhost.NewService(workerhost.ServiceParams{
		Logger: logg,
		Dependencies: []workerhost.Dependency{
			{Name: "database", Ping: dbClient.Ping},
			{Name: "redis", Ping: redisClient.Ping},
			{Name: "object store", Ping: store.Ping},
		},
		Runners:       map[string]workerhost.Runner{"profile-monitor-pool": pool},
		MetricsAddr:   cfg.Queue.MetricsListenAddress,
		Gatherer:      registry,
		ShutdownGrace: cfg.Queue.ShutdownGracePeriod,
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker host", err)
		os.Exit(1)
	}

	logg.Info(ctx, "starting profile monitor worker")
	if err := host.Run(ctx); err != nil {
		logg.Error(ctx, "profile monitor worker stopped with error", err)
		os.Exit(1)
	}
	logg.Info(ctx, "profile monitor worker stopped")
}
