package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	values map[string]any
	ttls   map[string]time.Duration
	err    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]any{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	m.ttls[key] = ttl
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return m.err
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "crsl:idempotency:" + scope + ":" + id
}

func TestNewLedgerValidates(t *testing.T) {
	_, err := NewLedger(nil, time.Hour)
	require.ErrorContains(t, err, "store is required")

	_, err = NewLedger(newMemoryStore(), -time.Second)
	require.ErrorContains(t, err, "non-negative")
}

func TestClaimIsExclusivePerConsumer(t *testing.T) {
	store := newMemoryStore()
	ledger, err := NewLedger(store, 7*24*time.Hour)
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return fixed }
	ctx := context.Background()
	eventID := uuid.New()

	first, err := ledger.Claim(ctx, "analytics", eventID)
	require.NoError(t, err)
	require.True(t, first)

	again, err := ledger.Claim(ctx, "analytics", eventID)
	require.NoError(t, err)
	require.False(t, again)

	other, err := ledger.Claim(ctx, "monitor-runs", eventID)
	require.NoError(t, err)
	require.True(t, other, "consumers keep separate claims")

	key := "crsl:idempotency:evt:analytics:" + eventID.String()
	require.Equal(t, "2026-03-01T12:00:00Z", store.values[key])
	require.Equal(t, 7*24*time.Hour, store.ttls[key])
}

func TestReleaseAllowsReprocessing(t *testing.T) {
	ledger, err := NewLedger(newMemoryStore(), time.Hour)
	require.NoError(t, err)
	ctx := context.Background()
	eventID := uuid.New()

	_, err = ledger.Claim(ctx, "analytics", eventID)
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, "analytics", eventID))

	claimed, err := ledger.Claim(ctx, "analytics", eventID)
	require.NoError(t, err)
	require.True(t, claimed)
}

func TestClaimRejectsMissingIdentifiers(t *testing.T) {
	ledger, err := NewLedger(newMemoryStore(), time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = ledger.Claim(ctx, "  ", uuid.New())
	require.ErrorIs(t, err, ErrConsumerRequired)

	_, err = ledger.Claim(ctx, "analytics", uuid.Nil)
	require.ErrorIs(t, err, ErrEventIDRequired)

	require.ErrorIs(t, ledger.Release(ctx, "analytics", uuid.Nil), ErrEventIDRequired)
}

func TestClaimSurfacesStoreErrors(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("connection refused")
	ledger, err := NewLedger(store, time.Hour)
	require.NoError(t, err)

	claimed, err := ledger.Claim(context.Background(), "analytics", uuid.New())
	require.EqualError(t, err, "connection refused")
	require.False(t, claimed)
}
