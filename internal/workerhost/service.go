// Package workerhost runs the long-lived loops of a worker binary next to
// its Prometheus listener.
package workerhost

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/carousel-backend/pkg/instance"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
)

const defaultShutdownGrace = 10 * time.Second

// Runner is a blocking loop such as a queue pool, the cron service or a
// Pub/Sub receiver. Run returns when ctx is canceled.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Dependency is pinged once before any runner starts.
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

type ServiceParams struct {
	Logger       *logger.Logger
	Dependencies []Dependency
	Runners      map[string]Runner
	// MetricsAddr serves /metrics from Gatherer when both are set.
	MetricsAddr   string
	Gatherer      prometheus.Gatherer
	ShutdownGrace time.Duration
}

type Service struct {
	logg          *logger.Logger
	deps          []Dependency
	runners       map[string]Runner
	metricsAddr   string
	gatherer      prometheus.Gatherer
	shutdownGrace time.Duration
	listen        func(network, addr string) (net.Listener, error)
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(params.Runners) == 0 {
		return nil, errors.New("at least one runner is required")
	}
	for name, runner := range params.Runners {
		if runner == nil {
			return nil, fmt.Errorf("runner %q is nil", name)
		}
	}
	grace := params.ShutdownGrace
	if grace <= 0 {
		grace = defaultShutdownGrace
	}
	return &Service{
		logg:          params.Logger,
		deps:          params.Dependencies,
		runners:       params.Runners,
		metricsAddr:   params.MetricsAddr,
		gatherer:      params.Gatherer,
		shutdownGrace: grace,
		listen:        net.Listen,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.deps {
		if dep.Ping == nil {
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", dep.Name), err)
			return fmt.Errorf("%s ping failed: %w", dep.Name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

// Run blocks until ctx is canceled or a runner fails. A failing runner
// cancels the others. Cancellation is a clean exit.
func (s *Service) Run(ctx context.Context) error {
	ctx = s.logg.WithField(ctx, "instance", instance.ID())
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.metricsAddr != "" && s.gatherer != nil {
		ln, err := s.listen("tcp", s.metricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), s.shutdownGrace)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
		s.logg.Info(s.logg.WithField(ctx, "addr", ln.Addr().String()), "metrics listener started")
	}

	for name, runner := range s.runners {
		g.Go(func() error {
			runCtx := s.logg.WithField(gctx, "runner", name)
			err := runner.Run(runCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(runCtx, "runner stopped unexpectedly", err)
				return fmt.Errorf("%s: %w", name, err)
			}
			if gctx.Err() == nil {
				return fmt.Errorf("%s: stopped before shutdown", name)
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.logg.Info(ctx, "worker stopped")
	return nil
}
