package profilemonitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/carousel-backend/internal/queue"
	"github.com/angelmondragon/carousel-backend/pkg/db/dbtest"
	"github.com/angelmondragon/carousel-backend/pkg/enums"
)

type memoryDedup struct {
	mu   sync.Mutex
	keys map[string]any
}

func (m *memoryDedup) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = value
	return true, nil
}

func (m *memoryDedup) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

func (m *memoryDedup) DedupKey(scope, id string) string {
	return "crsl:dedup:" + scope + ":" + id
}

func TestQueueDedupWindow(t *testing.T) {
	db := dbtest.Open(t)
	wrong, err := queue.New(db, enums.QueueMediaCache, queue.DefaultPolicy())
	require.NoError(t, err)
	_, err = NewQueue(wrong, nil, 0)
	require.Error(t, err)

	q, err := queue.New(db, enums.QueueProfileMonitor, queue.DefaultPolicy())
	require.NoError(t, err)
	dedup := &memoryDedup{keys: map[string]any{}}
	mq, err := NewQueue(q, dedup, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	profileID := uuid.New()
	first, err := mq.AddJob(ctx, MonitorJob{ProfileID: profileID}, queue.Options{})
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := mq.AddJob(ctx, MonitorJob{ProfileID: profileID, SubmittedAt: time.Now().Add(time.Second)}, queue.Options{})
	require.NoError(t, err)
	assert.False(t, second.Created, "same profile inside the window is collapsed")

	_, err = mq.AddJob(ctx, MonitorJob{}, queue.Options{})
	require.Error(t, err, "missing profile id fails validation")
	_, held := dedup.keys[dedup.DedupKey("monitor", uuid.Nil.String())]
	assert.False(t, held, "a rejected submission releases its dedup key")

	results, err := mq.AddBulkJobs(ctx, []MonitorJob{{ProfileID: uuid.New()}, {ProfileID: profileID}}, queue.Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Created)
	assert.False(t, results[1].Created)

	stats, err := mq.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Waiting)

	removed, err := mq.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}

func TestQueueWithoutDedupUsesSubmissionIDs(t *testing.T) {
	db := dbtest.Open(t)
	q, err := queue.New(db, enums.QueueProfileMonitor, queue.DefaultPolicy())
	require.NoError(t, err)
	mq, err := NewQueue(q, nil, 0)
	require.NoError(t, err)
	ctx := context.Background()

	profileID := uuid.New()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	first, err := mq.AddJob(ctx, MonitorJob{ProfileID: profileID, SubmittedAt: at}, queue.Options{})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, profileID.String()+"-1767323045000", first.JobID)

	again, err := mq.AddJob(ctx, MonitorJob{ProfileID: profileID, SubmittedAt: at}, queue.Options{})
	require.NoError(t, err)
	assert.False(t, again.Created, "identical submission ids are deduplicated by the queue")

	later, err := mq.AddJob(ctx, MonitorJob{ProfileID: profileID, SubmittedAt: at.Add(time.Minute)}, queue.Options{})
	require.NoError(t, err)
	assert.True(t, later.Created)
}
