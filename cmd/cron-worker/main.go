package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/carousel-backend/internal/cacheasset"
	"github.com/angelmondragon/carousel-backend/internal/cron"
	"github.com/angelmondragon/carousel-backend/internal/mediacache"
	"github.com/angelmondragon/carousel-backend/internal/monitoring"
	"github.com/angelmondragon/carousel-backend/internal/profilemonitor"
	"github.com/angelmondragon/carousel-backend/internal/queue"
	"github.com/angelmondragon/carousel-backend/internal/workerhost"
	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/db"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/metrics"
	"github.com/angelmondragon/carousel-backend/pkg/migrate"
	"github.com/angelmondragon/carousel-backend/pkg/outbox"
	"github.com/angelmondragon/carousel-backend/pkg/redis"
)

const (
	strandedAssetsEvery  = 5 * time.Minute
	staleRunsEvery       = 5 * time.Minute
	queueRetentionEvery  = 15 * time.Minute
	outboxRetentionEvery = time.Hour
	strandedAfter        = 10 * time.Minute
	strandedLimit        = 500
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	jobs, err := buildJobs(cfg, logg, dbClient, mediaDurable, mediaQueue, monitorDurable, monitorQueue)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker:"+lockScope(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(registry),
		Interval: cfg.Monitor.CronTickPeriod,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	host, err := workerhost.NewService(workerhost.ServiceParams{
		Logger: logg,
		Dependencies: []workerhost.Dependency{
			{Name: "database", Ping: dbClient.Ping},
			{Name: "redis", Ping: redisClient.Ping},
		},
		Runners:       map[string]workerhost.Runner{"cron": service},
		MetricsAddr:   cfg.Queue.MetricsListenAddress,
		Gatherer:      registry,
		ShutdownGrace: cfg.Queue.ShutdownGracePeriod,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker host", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := host.Run(ctx); err != nil {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildJobs(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	mediaDurable *queue.Queue,
	mediaQueue *mediacache.Queue,
	monitorDurable *queue.Queue,
	monitorQueue *profilemonitor.Queue,
) ([]cron.Job, error) {
	schedule, err := cron.NewScheduleMonitorsJob(cron.ScheduleMonitorsJobParams{
		Logger:  logg,
		Repo:    profilemonitor.NewRepository(dbClient.DB()),
		Monitor: monitorQueue,
		Limit:   cfg.Monitor.ScheduleLimit,
	})
	if err != nil {
		return nil, err
	}

	stranded, err := cron.NewStrandedCacheAssetsJob(cron.StrandedCacheAssetsJobParams{
		Logger:        logg,
		Assets:        cacheasset.NewRepository(dbClient.DB()),
		Jobs:          mediaQueue,
		StrandedAfter: strandedAfter,
		Limit:         strandedLimit,
	})
	if err != nil {
		return nil, err
	}

	staleRuns, err := cron.NewStaleMonitorRunsJob(cron.StaleMonitorRunsJobParams{
		Logger:     logg,
		Logs:       monitoring.NewRepository(dbClient.DB()),
		StaleAfter: 2 * cfg.Queue.MonitorVisibility,
	})
	if err != nil {
		return nil, err
	}

	queueRetention, err := cron.NewQueueRetentionJob(cron.QueueRetentionJobParams{
		Logger: logg,
		Queues: []cron.TrimmableQueue{mediaDurable, monitorDurable},
	})
	if err != nil {
		return nil, err
	}

	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       logg,
		Outbox:       outbox.NewRepository(dbClient.DB()),
		DeadLetters:  outbox.NewDLQRepository(dbClient.DB()),
		Retention:    days(cfg.Outbox.RetentionDays),
		DLQRetention: days(cfg.Outbox.DLQRetentionDays),
	})
	if err != nil {
		return nil, err
	}

	return []cron.Job{
		schedule,
		cron.Every(strandedAssetsEvery, stranded),
		cron.Every(staleRunsEvery, staleRuns),
		cron.Every(queueRetentionEvery, queueRetention),
		cron.Every(outboxRetentionEvery, outboxRetention),
	}, nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func lockScope(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
