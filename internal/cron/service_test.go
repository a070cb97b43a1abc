package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/angelmondragon/carousel-backend/pkg/metrics"
)

type fakeLock struct {
	held     bool
	err      error
	acquired int
	released int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.err != nil || f.held {
		return false, f.err
	}
	f.acquired++
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.released++
	return nil
}

type testJob struct {
	name  string
	err   error
	panic bool
	runs  int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	if t.panic {
		panic("exploded")
	}
	return t.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func newTestService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.NewRegistry()),
		Interval: time.Minute,
	})
	require.NoError(t, err)
	return svc
}

func TestTickRunsEveryJobDespiteFailures(t *testing.T) {
	ok := &testJob{name: "ok"}
	failing := &testJob{name: "failing", err: errors.New("boom")}
	panicking := &testJob{name: "panicking", panic: true}
	after := &testJob{name: "after"}
	lock := &fakeLock{}
	svc := newTestService(t, lock, ok, failing, panicking, after)

	require.NoError(t, svc.tick(context.Background()))
	for _, job := range []*testJob{ok, failing, panicking, after} {
		require.Equal(t, 1, job.runs, job.name)
	}
	require.Equal(t, 1, lock.acquired)
	require.Equal(t, 1, lock.released)
}

func TestTickHonorsJobCadence(t *testing.T) {
	everyTick := &testJob{name: "tick"}
	hourly := &testJob{name: "hourly"}
	svc := newTestService(t, &fakeLock{}, everyTick, Every(time.Hour, hourly))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	for range 3 {
		require.NoError(t, svc.tick(ctx))
		now = now.Add(time.Minute)
	}
	require.Equal(t, 3, everyTick.runs)
	require.Equal(t, 1, hourly.runs)

	now = now.Add(time.Hour)
	require.NoError(t, svc.tick(ctx))
	require.Equal(t, 2, hourly.runs)
}

func TestTickSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "job"}
	lock := &fakeLock{held: true}
	svc := newTestService(t, lock, job)

	require.NoError(t, svc.tick(context.Background()))
	require.Zero(t, job.runs)
	require.Zero(t, lock.released)
}

func TestTickSurfacesLockErrors(t *testing.T) {
	job := &testJob{name: "job"}
	svc := newTestService(t, &fakeLock{err: errors.New("redis down")}, job)

	require.ErrorContains(t, svc.tick(context.Background()), "redis down")
	require.Zero(t, job.runs)
}

func TestTickWithoutDueJobsSkipsLock(t *testing.T) {
	lock := &fakeLock{}
	svc := newTestService(t, lock)

	require.NoError(t, svc.tick(context.Background()))
	require.Zero(t, lock.acquired)
}

func TestRunStopsOnCancel(t *testing.T) {
	job := &testJob{name: "job"}
	svc := newTestService(t, &fakeLock{}, job)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, svc.Run(ctx), context.Canceled)
	require.Equal(t, 1, job.runs)
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(ServiceParams{Lock: &fakeLock{}})
	require.Error(t, err)
	_, err = NewService(ServiceParams{Logger: testLogger()})
	require.Error(t, err)
}

type fakeLockStore struct {
	value string
	err   error
}

func (f *fakeLockStore) SetNX(_ context.Context, _ string, value any, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.value != "" {
		return false, nil
	}
	f.value = value.(string)
	return true, nil
}

func (f *fakeLockStore) ReleaseIfOwner(_ context.Context, _ string, owner string) (bool, error) {
	if f.value != owner {
		return false, nil
	}
	f.value = ""
	return true, nil
}

func TestRedisLockLifecycle(t *testing.T) {
	store := &fakeLockStore{}
	first, err := NewRedisLock(store, "crsl:lock:cron-worker:test", 0)
	require.NoError(t, err)
	require.Equal(t, defaultLockTTL, first.ttl)
	second, err := NewRedisLock(store, "crsl:lock:cron-worker:test", time.Minute)
	require.NoError(t, err)

	won, err := first.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, won)

	won, err = second.Acquire(context.Background())
	require.NoError(t, err)
	require.False(t, won)

	// a loser's release must not free the holder's lease
	require.NoError(t, second.Release(context.Background()))
	require.NotEmpty(t, store.value)

	require.NoError(t, first.Release(context.Background()))
	require.Empty(t, store.value)

	won, err = second.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, won)
}

func TestNewRedisLockValidates(t *testing.T) {
	_, err := NewRedisLock(nil, "k", 0)
	require.Error(t, err)
	_, err = NewRedisLock(&fakeLockStore{}, "", 0)
	require.Error(t, err)
}
