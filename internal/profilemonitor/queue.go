// Package profilemonitor scrapes monitored profiles page by page and folds
// each page into the post store.
package profilemonitor

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/carousel-backend/internal/queue"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
)

type dedupStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	DedupKey(scope, id string) string
}

// Queue is the typed producer and admin surface of the profile-monitor queue.
type Queue struct {
	q      *queue.Queue
	dedup  dedupStore
	window time.Duration
	now    func() time.Time
}

// NewQueue wraps the durable profile-monitor queue. A nil dedup store or a
// zero window disables the submission dedup window.
func NewQueue(q *queue.Queue, dedup dedupStore, window time.Duration) (*Queue, error) {
	if q == nil {
		return nil, fmt.Errorf("queue required")
	}
	if q.Name() != enums.QueueProfileMonitor {
		return nil, fmt.Errorf("expected queue %s, got %s", enums.QueueProfileMonitor, q.Name())
	}
	return &Queue{q: q, dedup: dedup, window: window, now: func() time.Time { return time.Now().UTC() }}, nil
}

// AddJob submits one monitor run. A second submission for the same profile
// inside the dedup window is acknowledged with Created=false.
func (m *Queue) AddJob(ctx context.Context, job MonitorJob, opts queue.Options) (queue.EnqueueResult, error) {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = m.now()
	}
	jobID := job.JobID()
	key := ""
	if m.dedup != nil && m.window > 0 {
		key = m.dedup.DedupKey("monitor", job.ProfileID.String())
		fresh, err := m.dedup.SetNX(ctx, key, jobID, m.window)
		if err != nil {
			return queue.EnqueueResult{JobID: jobID}, fmt.Errorf("monitor dedup: %w", err)
		}
		if !fresh {
			return queue.EnqueueResult{JobID: jobID, Created: false}, nil
		}
	}
	res, err := m.q.Enqueue(ctx, jobID, job, opts)
	if err != nil && key != "" {
		_ = m.dedup.Del(ctx, key)
	}
	return res, err
}

// AddBulkJobs submits one run per job, each passing through the dedup window.
func (m *Queue) AddBulkJobs(ctx context.Context, jobs []MonitorJob, opts queue.Options) ([]queue.EnqueueResult, error) {
	results := make([]queue.EnqueueResult, 0, len(jobs))
	for _, job := range jobs {
		res, err := m.AddJob(ctx, job, opts)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (m *Queue) GetStats(ctx context.Context) (queue.Stats, error) {
	return m.q.Stats(ctx)
}

// Clear purges every profile-monitor job.
func (m *Queue) Clear(ctx context.Context) (int64, error) {
	return m.q.Purge(ctx)
}
