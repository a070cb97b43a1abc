// Package idempotency records which outbox events a consumer has already
// handled so redelivered messages are acknowledged without side effects.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConsumerRequired = errors.New("consumer name is required")
	ErrEventIDRequired  = errors.New("event id is required")
)

// claimStore is satisfied by pkg/redis.Client.
type claimStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Ledger claims event IDs per consumer. A claim lives for ttl; zero keeps it
// until released.
type Ledger struct {
	store claimStore
	ttl   time.Duration
	now   func() time.Time
}

func NewLedger(store claimStore, ttl time.Duration) (*Ledger, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &Ledger{store: store, ttl: ttl, now: time.Now}, nil
}

// Claim reports true when this call took ownership of the event and false
// when an earlier delivery already holds it. The stored value is the claim
// time, which helps when inspecting keys by hand.
func (l *Ledger) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := l.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	return l.store.SetNX(ctx, key, l.now().UTC().Format(time.RFC3339), l.ttl)
}

// Release drops a claim so the next delivery of the event is processed.
func (l *Ledger) Release(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := l.key(consumer, eventID)
	if err != nil {
		return err
	}
	return l.store.Del(ctx, key)
}

func (l *Ledger) key(consumer string, eventID uuid.UUID) (string, error) {
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return "", ErrConsumerRequired
	}
	if eventID == uuid.Nil {
		return "", ErrEventIDRequired
	}
	return l.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
