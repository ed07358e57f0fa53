package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var errEventIDRequired = errors.New("stripe event id is required")

// ClaimStore is the slice of pkg/redis.Client the guard uses.
type ClaimStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// IdempotencyGuard claims Stripe event ids so a redelivered event never
// reaches the reconciler twice while the claim lives. Claims expire after
// ttl, which should outlast Stripe's retry window.
type IdempotencyGuard struct {
	store ClaimStore
	ttl   time.Duration
	scope string
	now   func() time.Time
}

func NewIdempotencyGuard(store ClaimStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	switch {
	case store == nil:
		return nil, errors.New("claim store is required")
	case ttl <= 0:
		return nil, fmt.Errorf("claim ttl must be positive, got %s", ttl)
	case scope == "":
		return nil, errors.New("claim scope is required")
	}
	return &IdempotencyGuard{store: store, ttl: ttl, scope: scope, now: time.Now}, nil
}

func (g *IdempotencyGuard) key(eventID string) (string, error) {
	if eventID == "" {
		return "", errEventIDRequired
	}
	return g.store.IdempotencyKey(g.scope, eventID), nil
}

// CheckAndMark claims eventID. It reports true when an earlier delivery
// already holds the claim. The claim records when it was taken.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	key, err := g.key(eventID)
	if err != nil {
		return false, err
	}
	claimed, err := g.store.SetNX(ctx, key, g.now().UTC().Format(time.RFC3339), g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim stripe event %s: %w", eventID, err)
	}
	return !claimed, nil
}

// Release drops the claim so Stripe's next delivery is processed again.
func (g *IdempotencyGuard) Release(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	if err := g.store.Del(ctx, key); err != nil {
		return fmt.Errorf("release stripe event %s: %w", eventID, err)
	}
	return nil
}
