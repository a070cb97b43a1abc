// Package mediacache mirrors remote media into the object store.
package mediacache

import (
	"context"
	"fmt"

	"github.com/angelmondragon/carousel-backend/internal/cacheasset"
	"github.com/angelmondragon/carousel-backend/internal/queue"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
)

// Queue is the typed producer and admin surface of the media-cache queue.
type Queue struct {
	q *queue.Queue
}

// NewQueue wraps the durable media-cache queue.
func NewQueue(q *queue.Queue) (*Queue, error) {
	if q == nil {
		return nil, fmt.Errorf("queue required")
	}
	if q.Name() != enums.QueueMediaCache {
		return nil, fmt.Errorf("expected queue %s, got %s", enums.QueueMediaCache, q.Name())
	}
	return &Queue{q: q}, nil
}

// AddJob submits one cache job. An empty jobID defaults to the asset id.
func (m *Queue) AddJob(ctx context.Context, jobID string, job cacheasset.CacheJob, opts queue.Options) (queue.EnqueueResult, error) {
	if jobID == "" {
		jobID = job.JobID()
	}
	return m.q.Enqueue(ctx, jobID, job, opts)
}

// AddBulkJobs submits many cache jobs keyed by their asset ids.
func (m *Queue) AddBulkJobs(ctx context.Context, jobs []cacheasset.CacheJob, opts queue.Options) ([]queue.EnqueueResult, error) {
	bulk := make([]queue.BulkJob, 0, len(jobs))
	for _, job := range jobs {
		bulk = append(bulk, queue.BulkJob{JobID: job.JobID(), Payload: job, Options: opts})
	}
	return m.q.EnqueueBulk(ctx, bulk)
}

func (m *Queue) GetStats(ctx context.Context) (queue.Stats, error) {
	return m.q.Stats(ctx)
}

// Clear purges every media-cache job.
func (m *Queue) Clear(ctx context.Context) (int64, error) {
	return m.q.Purge(ctx)
}
