package cron

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/metrics"
)

const defaultInterval = time.Minute

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	// Interval is the tick period. Jobs with a longer cadence skip ticks.
	Interval time.Duration
}

// Service ticks on a fixed interval and, while holding the cluster lock, runs
// every job whose cadence has elapsed.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	lastRun  map[string]time.Time
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		lastRun:  map[string]time.Time{},
		now:      time.Now,
	}, nil
}

// Run ticks immediately and then every interval until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.tick(ctx); err != nil {
			s.logg.Error(ctx, "cron tick failed", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick returns an error only when the lock could not be consulted. Job
// failures are logged and counted, never propagated.
func (s *Service) tick(ctx context.Context) error {
	due := s.dueJobs(s.now())
	if len(due) == 0 {
		return nil
	}

	owned, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire cron lock: %w", err)
	}
	if !owned {
		s.logg.Debug(ctx, "cron lock held elsewhere, skipping tick")
		return nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()

	for _, job := range due {
		s.runJob(ctx, job)
		s.lastRun[job.Name()] = s.now()
	}
	return nil
}

func (s *Service) dueJobs(now time.Time) []Job {
	var due []Job
	for _, job := range s.registry.Jobs() {
		last, ran := s.lastRun[job.Name()]
		if every := cadenceOf(job); !ran || every <= 0 || now.Sub(last) >= every {
			due = append(due, job)
		}
	}
	return due
}

func (s *Service) runJob(ctx context.Context, job Job) {
	ctx = s.logg.WithField(ctx, "job", job.Name())
	started := s.now()
	err := safeRun(ctx, job)
	took := s.now().Sub(started)
	s.metrics.Observe(job.Name(), took, err)

	ctx = s.logg.WithField(ctx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "cron job failed", err)
		return
	}
	s.logg.Info(ctx, "cron job completed")
}

// safeRun converts a panicking job into an error so one bad job cannot take
// the scheduler down.
func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return job.Run(ctx)
}
