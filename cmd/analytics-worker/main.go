package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/carousel-backend/internal/analytics/router"
	"github.com/angelmondragon/carousel-backend/internal/analytics/worker"
	"github.com/angelmondragon/carousel-backend/internal/analytics/writer"
	"github.com/angelmondragon/carousel-backend/internal/workerhost"
	"github.com/angelmondragon/carousel-backend/pkg/bigquery"
	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/metrics"
	"github.com/angelmondragon/carousel-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/carousel-backend/pkg/pubsub"
	"github.com/angelmondragon/carousel-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "analytics-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "analytics-worker"

	logg = logger.New(logger.Options{
		ServiceName: "analytics-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		FilePath:    cfg.App.LogFile,
		Format:      cfg.App.LogFormat,
	})
	defer logg.Close()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	analyticsSub := pubsubClient.AnalyticsSubscription()
	if analyticsSub == nil {
		requireResource(ctx, logg, "analytics subscription", errors.New("subscription not configured"))
	}
	eventsSub := pubsubClient.EventsSubscription()
	if eventsSub == nil {
		requireResource(ctx, logg, "events subscription", errors.New("subscription not configured"))
	}

	ledger, err := idempotency.NewLedger(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "idempotency ledger", err)

	writerConfig := writer.Config{
		PostMetricsTable: cfg.BigQuery.PostMetricsTable,
		MonitorRunsTable: cfg.BigQuery.MonitorRunsTable,
		BatchSize:        cfg.BigQuery.BatchSize,
		FlushInterval:    cfg.BigQuery.FlushInterval,
	}
	tables, err := writer.TableSpecs(writerConfig)
	requireResource(ctx, logg, "analytics table schemas", err)

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg, tables...)
	requireResource(ctx, logg, "bigquery client", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "failed to close bigquery client", err)
		}
	}()

	analyticsWriter, err := writer.New(bqClient, writerConfig)
	requireResource(ctx, logg, "analytics bigquery writer", err)

	routingHandler, err := router.NewRouter(analyticsWriter, logg, nil)
	requireResource(ctx, logg, "analytics router", err)

	registry := prometheus.NewRegistry()
	consumerMetrics := metrics.NewConsumerMetrics(registry)
	consumer := func(name string, sub *gcppubsub.Subscriber) *worker.Service {
		svc, err := worker.NewService(worker.ServiceParams{
			Consumer:     name,
			Subscription: sub,
			Handler:      routingHandler,
			Idempotency:  ledger,
			Metrics:      consumerMetrics,
			Logger:       logg,
		})
		requireResource(ctx, logg, name+" consumer", err)
		return svc
	}
	metricsService := consumer("analytics", analyticsSub)
	runsService := consumer("monitor-runs", eventsSub)

	host, err := workerhost.NewService(workerhost.ServiceParams{
		Logger: logg,
		Dependencies: []workerhost.Dependency{
			{Name: "redis", Ping: redisClient.Ping},
			{Name: "pubsub", Ping: pubsubClient.Ping},
			{Name: "bigquery", Ping: bqClient.Ping},
		},
		Runners: map[string]workerhost.Runner{
			"analytics-subscription": metricsService,
			"events-subscription":    runsService,
			"bigquery-flusher":       analyticsWriter,
		},
		MetricsAddr:   cfg.Queue.MetricsListenAddress,
		Gatherer:      registry,
		ShutdownGrace: cfg.Queue.ShutdownGracePeriod,
	})
	requireResource(ctx, logg, "worker host", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "analytics worker ready")

	if err := host.Run(runCtx); err != nil {
		logg.Error(runCtx, "analytics worker failed", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
