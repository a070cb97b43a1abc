package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
	"gorm.io/gorm"

	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/db/models"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/metrics"
	"github.com/angelmondragon/carousel-backend/pkg/outbox"
	"github.com/angelmondragon/carousel-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond

	// A topic's breaker opens after this many consecutive publish failures
	// and probes again after breakerCooldown.
	breakerTripAfter = 5
	breakerCooldown  = 30 * time.Second
)

// errTopicUnavailable marks a row skipped because its topic's breaker is open.
// The row keeps its attempt count.
var errTopicUnavailable = errors.New("topic circuit open")

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

// backlogCounter is optional; the repository implements it.
type backlogCounter interface {
	CountPending(ctx context.Context) (int64, error)
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	Metrics          *metrics.OutboxMetrics
}

// Service drains the outbox table into Pub/Sub. Each row is published with its
// aggregate id as the ordering key so a profile's events arrive in order.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	repo         outboxRepository
	pubsub       pubSubClient
	registry     registryResolver
	dlq          dlqRepository
	metrics      *metrics.OutboxMetrics
	newPublisher publisherFactory
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	now          func() time.Time

	mu         sync.Mutex
	publishers map[string]publisher
	breakers   map[string]*gobreaker.CircuitBreaker
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = func(topic string) publisher {
			return newOrderedPublisher(params.PubSub.Publisher(topic))
		}
	}

	cfg := params.Config.Outbox
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := cfg.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		pubsub:       params.PubSub,
		registry:     params.Registry,
		dlq:          params.DLQRepository,
		metrics:      params.Metrics,
		newPublisher: factory,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
		now:          func() time.Time { return time.Now().UTC() },
		publishers:   make(map[string]publisher),
		breakers:     make(map[string]*gobreaker.CircuitBreaker),
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", s.db.Ping},
		{"pubsub", s.pubsub.Ping},
	} {
		if err := dep.ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", dep.name), err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	return nil
}

// errorBackoff grows exponentially from the poll interval up to maxBackoff.
// Run starts a fresh one after every successful batch.
func (s *Service) errorBackoff() retry.Backoff {
	b := retry.NewExponential(s.pollInterval)
	b = retry.WithCappedDuration(maxBackoff, b)
	return retry.WithJitter(jitterWindow, b)
}

// Run polls until ctx is canceled. A failed batch backs off; an empty batch
// waits one poll interval.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	defer s.stopPublishers()

	backoff := s.errorBackoff()
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			wait, _ = backoff.Next()
		case processed:
			backoff = s.errorBackoff()
			continue
		default:
			backoff = s.errorBackoff()
			s.samplePending(ctx)
			wait = s.pollInterval
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) samplePending(ctx context.Context) {
	counter, ok := s.repo.(backlogCounter)
	if !ok || s.metrics == nil {
		return
	}
	count, err := counter.CountPending(ctx)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "outbox backlog sample failed")
		return
	}
	s.metrics.SetPending(count)
}

// processBatch claims up to batchSize rows inside one transaction and
// settles each of them: published, retried later, or dead-lettered.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		processed = len(events) > 0
		for _, event := range events {
			if err := s.dispatch(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

// dispatch only returns bookkeeping errors; publish failures are recorded on
// the row.
func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, nil)
	}

	fields := s.eventFields(event, resolved.Envelope, resolved.Descriptor.Topic)
	pubErr := s.publish(ctx, event, resolved)
	if errors.Is(pubErr, errTopicUnavailable) {
		s.metrics.Observe(string(event.EventType), metrics.OutboxDeferred)
		s.logg.Debug(s.logg.WithFields(ctx, fields), "outbox event deferred")
		return nil
	}
	if pubErr == nil {
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.metrics.Observe(string(event.EventType), metrics.OutboxPublished)
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event published")
		return nil
	}

	if registry.IsNonRetryable(pubErr) {
		return s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, pubErr, fields)
	}

	attempt := event.AttemptCount + 1
	fields["attempt_count"] = attempt
	if attempt >= s.maxAttempts {
		fields["terminal_reason"] = "max_attempts"
		return s.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", pubErr), fields)
	}

	fields["error"] = pubErr.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox publish failed")
	if err := s.repo.MarkFailedTx(tx, event.ID, pubErr); err != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	s.metrics.Observe(string(event.EventType), metrics.OutboxRetried)
	return nil
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	if fields == nil {
		fields = s.eventFields(event, outbox.PayloadEnvelope{}, "")
	}
	fields["error_reason"] = reason
	fields["error"] = cause.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event will not be retried")

	entry := models.DeadLetter(event, reason, cause, s.now())
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	s.metrics.Observe(string(event.EventType), metrics.OutboxDeadLettered)
	return nil
}

func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFor(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	aggregateID := event.AggregateID.String()
	msg := &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: aggregateID,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   aggregateID,
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	_, err := s.breakerFor(topic).Execute(func() (any, error) {
		result := pub.Publish(publishCtx, msg)
		if result == nil {
			return nil, registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
		}
		return result.Get(publishCtx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", errTopicUnavailable, topic)
	}
	return err
}

func (s *Service) breakerFor(topic string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[topic]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pubsub:" + topic,
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		// a malformed row says nothing about the topic's health
		IsSuccessful: func(err error) bool {
			return err == nil || registry.IsNonRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logg.Warn(s.logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}), "publish breaker state changed")
		},
	})
	s.breakers[topic] = cb
	return cb
}

func (s *Service) publisherFor(topic string) publisher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pub, ok := s.publishers[topic]; ok {
		return pub
	}
	pub := s.newPublisher(topic)
	if pub != nil {
		s.publishers[topic] = pub
	}
	return pub
}

func (s *Service) stopPublishers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for topic, pub := range s.publishers {
		if stopper, ok := pub.(interface{ Stop() }); ok {
			stopper.Stop()
		}
		delete(s.publishers, topic)
	}
}

func (s *Service) eventFields(event models.OutboxEvent, envelope outbox.PayloadEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if envelope.EventID != "" {
		fields["event_id"] = envelope.EventID
		fields["occurred_at"] = envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if envelope.Source != nil && envelope.Source.JobID != "" {
		fields["source_job_id"] = envelope.Source.JobID
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// orderedPublisher enables message ordering and resumes a key after a failed
// publish, since Pub/Sub pauses an ordering key on error.
type orderedPublisher struct {
	pub *gcppubsub.Publisher
}

func newOrderedPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	p.EnableMessageOrdering = true
	return &orderedPublisher{pub: p}
}

func (p *orderedPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return &orderedResult{
		result: p.pub.Publish(ctx, msg),
		resume: func() { p.pub.ResumePublish(msg.OrderingKey) },
	}
}

func (p *orderedPublisher) Stop() {
	p.pub.Stop()
}

type orderedResult struct {
	result *gcppubsub.PublishResult
	resume func()
}

func (r *orderedResult) Get(ctx context.Context) (string, error) {
	if r.result == nil {
		return "", errors.New("publish result is nil")
	}
	id, err := r.result.Get(ctx)
	if err != nil && r.resume != nil {
		r.resume()
	}
	return id, err
}
