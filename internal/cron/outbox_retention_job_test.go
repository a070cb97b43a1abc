package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	cutoffs []time.Time
	err     error
}

func (f *fakePurger) purge(cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return 3, f.err
}

func (f *fakePurger) DeletePublishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return f.purge(cutoff)
}

func (f *fakePurger) DeleteFailedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return f.purge(cutoff)
}

func newRetentionJob(t *testing.T, params OutboxRetentionJobParams, now time.Time) *outboxRetentionJob {
	t.Helper()
	params.Logger = testLogger()
	job, err := NewOutboxRetentionJob(params)
	require.NoError(t, err)
	concrete := job.(*outboxRetentionJob)
	concrete.now = func() time.Time { return now }
	return concrete
}

func TestOutboxRetentionPurgesBothTables(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	published := &fakePurger{}
	dead := &fakePurger{}
	job := newRetentionJob(t, OutboxRetentionJobParams{Outbox: published, DeadLetters: dead}, now)

	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, []time.Time{now.Add(-defaultOutboxRetention)}, published.cutoffs)
	require.Equal(t, []time.Time{now.Add(-defaultDLQRetention)}, dead.cutoffs)
}

func TestOutboxRetentionCustomWindows(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	published := &fakePurger{}
	job := newRetentionJob(t, OutboxRetentionJobParams{Outbox: published, Retention: 48 * time.Hour}, now)

	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, []time.Time{now.Add(-48 * time.Hour)}, published.cutoffs)
}

func TestOutboxRetentionStopsOnError(t *testing.T) {
	published := &fakePurger{err: errors.New("boom")}
	dead := &fakePurger{}
	job := newRetentionJob(t, OutboxRetentionJobParams{Outbox: published, DeadLetters: dead}, time.Now())

	require.ErrorContains(t, job.Run(context.Background()), "purge published outbox rows")
	require.Empty(t, dead.cutoffs)
}

func TestOutboxRetentionRequiresRepository(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: testLogger()})
	require.Error(t, err)
}
