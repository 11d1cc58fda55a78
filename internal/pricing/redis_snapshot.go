package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davidbz/embermeter/internal/domain"
)

// RedisSnapshotStore persists the parsed pricing registry in Redis so that
// multiple sidecar instances share one remote fetch per TTL window.
type RedisSnapshotStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisSnapshotStore creates a Redis-backed snapshot store.
func NewRedisSnapshotStore(client *redis.Client, key string, ttl time.Duration) *RedisSnapshotStore {
	return &RedisSnapshotStore{
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

// snapshotPayload is the stored wire form of a registry.
type snapshotPayload struct {
	Pricing   map[string]domain.ModelPricing `json:"pricing"`
	FetchedAt time.Time                      `json:"fetched_at"`
}

// Load returns the stored registry, or (nil, nil) when no snapshot exists.
func (s *RedisSnapshotStore) Load(ctx context.Context) (*domain.PricingRegistry, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load pricing snapshot: %w", err)
	}

	var payload snapshotPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode pricing snapshot: %w", err)
	}

	return domain.NewPricingRegistry(payload.Pricing, payload.FetchedAt), nil
}

// Save stores the registry with the configured TTL.
func (s *RedisSnapshotStore) Save(ctx context.Context, registry *domain.PricingRegistry) error {
	raw, err := json.Marshal(snapshotPayload{
		Pricing:   registry.Pricing,
		FetchedAt: registry.FetchedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode pricing snapshot: %w", err)
	}

	if err := s.client.Set(ctx, s.key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save pricing snapshot: %w", err)
	}

	return nil
}
