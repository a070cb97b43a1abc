package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	pkgerrors "github.com/angelmondragon/carousel-backend/pkg/errors"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/metrics"
)

const (
	defaultConcurrency  = 1
	defaultPollInterval = time.Second
	jitterWindow        = 250 * time.Millisecond
	settleTimeout       = 10 * time.Second
)

// Handler processes one job. Returning an error nacks the job; the queue
// policy decides whether it is retried.
type Handler func(ctx context.Context, job *Job) error

// PoolParams configure a worker pool.
type PoolParams struct {
	Queue        *Queue
	Handler      Handler
	Logger       *logger.Logger
	Metrics      *metrics.QueueMetrics
	Concurrency  int
	PollInterval time.Duration
	// StatsInterval controls how often queue depth gauges are refreshed.
	// Zero disables sampling.
	StatsInterval time.Duration
}

// Pool runs a fixed number of lease/handle/ack loops against one queue.
type Pool struct {
	queue         *Queue
	handler       Handler
	logg          *logger.Logger
	metrics       *metrics.QueueMetrics
	concurrency   int
	pollInterval  time.Duration
	statsInterval time.Duration
}

func NewPool(params PoolParams) (*Pool, error) {
	if params.Queue == nil {
		return nil, fmt.Errorf("queue required")
	}
	if params.Handler == nil {
		return nil, fmt.Errorf("handler required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	poll := params.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Pool{
		queue:         params.Queue,
		handler:       params.Handler,
		logg:          params.Logger,
		metrics:       params.Metrics,
		concurrency:   concurrency,
		pollInterval:  poll,
		statsInterval: params.StatsInterval,
	}, nil
}

// Run blocks until ctx is canceled. Handler failures never stop the pool.
func (p *Pool) Run(ctx context.Context) error {
	ctx = p.logg.WithFields(ctx, map[string]any{
		"queue":       p.queue.Name().String(),
		"concurrency": p.concurrency,
	})
	p.logg.Info(ctx, "worker pool started")

	g, gctx := errgroup.WithContext(ctx)
	for slot := 0; slot < p.concurrency; slot++ {
		g.Go(func() error {
			p.loop(gctx)
			return nil
		})
	}
	if p.statsInterval > 0 {
		g.Go(func() error {
			p.sampleStats(gctx)
			return nil
		})
	}
	err := g.Wait()
	p.logg.Info(ctx, "worker pool stopped")
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Pool) loop(ctx context.Context) {
	for ctx.Err() == nil {
		job, err := p.queue.Lease(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logg.Error(ctx, "lease job failed", err)
			sleep(ctx, withJitter(p.pollInterval))
			continue
		}
		if job == nil {
			sleep(ctx, withJitter(p.pollInterval))
			continue
		}
		p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job *Job) {
	jobCtx := p.logg.WithJob(ctx, p.queue.Name().String(), job.JobID, job.Attempt)
	start := time.Now()
	handleErr := p.safeHandle(jobCtx, job)
	elapsed := time.Since(start)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(jobCtx), settleTimeout)
	defer cancel()

	queueName := p.queue.Name().String()
	switch {
	case handleErr == nil:
		if err := p.queue.Ack(settleCtx, job); err != nil {
			p.logAckFailure(jobCtx, "ack job failed", err)
		}
		p.metrics.Observe(queueName, metrics.OutcomeCompleted, elapsed)
	case ctx.Err() != nil && errors.Is(handleErr, context.Canceled):
		if err := p.queue.Release(settleCtx, job); err != nil {
			p.logAckFailure(jobCtx, "release job failed", err)
		}
		p.metrics.Observe(queueName, metrics.OutcomeReleased, elapsed)
	default:
		terminal, err := p.queue.Nack(settleCtx, job, handleErr, 0)
		if err != nil {
			p.logAckFailure(jobCtx, "nack job failed", err)
		}
		if terminal {
			p.logg.Error(jobCtx, "job failed permanently", handleErr)
			p.metrics.Observe(queueName, metrics.OutcomeFailed, elapsed)
			return
		}
		p.logg.Warn(p.logg.WithField(jobCtx, "error", handleErr.Error()), "job failed; retry scheduled")
		p.metrics.Observe(queueName, metrics.OutcomeRetried, elapsed)
	}
}

func (p *Pool) logAckFailure(ctx context.Context, msg string, err error) {
	if errors.Is(err, ErrLeaseLost) {
		p.logg.Warn(ctx, msg+": lease lost")
		return
	}
	p.logg.Error(ctx, msg, err)
}

func (p *Pool) safeHandle(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("handler panic: %v", r)).
				WithDetails(map[string]any{"stack": string(debug.Stack())})
		}
	}()
	return p.handler(ctx, job)
}

func (p *Pool) sampleStats(ctx context.Context) {
	ticker := time.NewTicker(p.statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := p.queue.Stats(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "queue stats sample failed")
				}
				continue
			}
			name := p.queue.Name().String()
			p.metrics.SetDepth(name, "waiting", stats.Waiting)
			p.metrics.SetDepth(name, "active", stats.Active)
			p.metrics.SetDepth(name, "delayed", stats.Delayed)
			p.metrics.SetDepth(name, "completed", stats.Completed)
			p.metrics.SetDepth(name, "failed", stats.Failed)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}
