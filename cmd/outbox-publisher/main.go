// Command outbox-publisher drains committed outbox rows to Pub/Sub.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/carousel-backend/internal/workerhost"
	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/db"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/metrics"
	"github.com/angelmondragon/carousel-backend/pkg/migrate"
	"github.com/angelmondragon/carousel-backend/pkg/outbox"
	"github.com/angelmondragon/carousel-backend/pkg/outbox/registry"
	"github.com/angelmondragon/carousel-backend/pkg/pubsub"
)

const serviceKind = "outbox-publisher"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceKind, err)
		os.Exit(1)
	}
}

// run owns every resource it opens so deferred closes fire on all paths.
func run(ctx context.Context) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		FilePath:    cfg.App.LogFile,
		Format:      cfg.App.LogFormat,
	})
	defer logg.Close()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": serviceKind})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer closeWith(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("connect pubsub: %w", err)
	}
	defer closeWith(ctx, logg, "pubsub", pubsubClient.Close)

	events, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}

	reg := prometheus.NewRegistry()
	svc, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      events,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Metrics:       metrics.NewOutboxMetrics(reg),
	})
	if err != nil {
		return err
	}

	host, err := workerhost.NewService(workerhost.ServiceParams{
		Logger:        logg,
		Runners:       map[string]workerhost.Runner{serviceKind: svc},
		MetricsAddr:   cfg.Queue.MetricsListenAddress,
		Gatherer:      reg,
		ShutdownGrace: cfg.Queue.ShutdownGracePeriod,
	})
	if err != nil {
		return err
	}

	logg.Info(ctx, "starting outbox publisher")
	if err := host.Run(ctx); err != nil {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		return err
	}
	logg.Info(ctx, "outbox publisher stopped")
	return nil
}

func closeWith(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "close "+name, err)
	}
}
