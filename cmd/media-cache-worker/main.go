package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/carousel-backend/internal/cacheasset"
	"github.com/angelmondragon/carousel-backend/internal/mediacache"
	"github.com/angelmondragon/carousel-backend/internal/queue"
	"github.com/angelmondragon/carousel-backend/internal/workerhost"
	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/db"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/metrics"
	"github.com/angelmondragon/carousel-backend/pkg/migrate"
	"github.com/angelmondragon/carousel-backend/pkg/storage/backend"
)

const statsInterval = 30 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: "media-cache-worker"}).Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "media-cache-worker"

	logg := logger.New(logger.Options{
		ServiceName: "media-cache-worker",
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

	store, err := backend.Open(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap object store", err)
		os.Exit(1)
	}
	defer store.Close()

	durable, err := queue.New(dbClient.DB(), enums.QueueMediaCache, queue.PolicyFromConfig(cfg.Queue, cfg.Queue.MediaVisibility))
	if err != nil {
		logg.Error(ctx, "failed to create media-cache queue", err)
		os.Exit(1)
	}

	var converter mediacache.Converter
	if conv, err := mediacache.NewCommandConverter(cfg.Media.HEICConverter); err != nil {
		logg.Warn(ctx, "heic converter unavailable, heif sources will be stored as-is: "+err.Error())
	} else {
		converter = conv
	}

	var prefixes []string
	if prefix := strings.TrimSpace(cfg.Media.InternalURLPrefix); prefix != "" {
		prefixes = append(prefixes, prefix)
	}

	worker, err := mediacache.NewWorker(mediacache.WorkerParams{
		Assets:           cacheasset.NewRepository(dbClient.DB()),
		Store:            store,
		Fetcher:          mediacache.NewDownloader(mediacache.DownloaderParamsFromConfig(cfg.Media)),
		Converter:        converter,
		Logger:           logg,
		JPEGQuality:      cfg.Media.JPEGQuality,
		DefaultFolder:    cfg.Media.DefaultFolder,
		InternalPrefixes: prefixes,
	})
	if err != nil {
		logg.Error(ctx, "failed to create media cache worker", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	pool, err := queue.NewPool(queue.PoolParams{
		Queue:         durable,
		Handler:       worker.Handle,
		Logger:        logg,
		Metrics:       metrics.NewQueueMetrics(registry),
		Concurrency:   cfg.Queue.MediaConcurrency,
		PollInterval:  cfg.Queue.PollInterval,
		StatsInterval: statsInterval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create media cache pool", err)
		os.Exit(1)
	}

	host, err := workerhost.NewService(workerhost.ServiceParams{
		Logger: logg,
		Dependencies: []workerhost.Dependency{
			{Name: "database", Ping: dbClient.Ping},
			{Name: "object store", Ping: store.Ping},
		},
		Runners:       map[string]workerhost.Runner{"media-cache-pool": pool},
		MetricsAddr:   cfg.Queue.MetricsListenAddress,
		Gatherer:      registry,
		ShutdownGrace: cfg.Queue.ShutdownGracePeriod,
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker host", err)
		os.Exit(1)
	}

	logg.Info(ctx, "starting media cache worker")
	if err := host.Run(ctx); err != nil {
		logg.Error(ctx, "media cache worker stopped with error", err)
		os.Exit(1)
	}
	logg.Info(ctx, "media cache worker stopped")
}
