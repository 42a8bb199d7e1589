package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm-webhook-engine/internal/core/ports"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

var _ ports.EventDeduplicator = (*EventDedupStore)(nil)

// EventDedupStore implements ports.EventDeduplicator using Redis SET NX.
type EventDedupStore struct {
	client *goredis.Client
	prefix string
}

// NewEventDedupStore creates a new Redis-backed idempotency key store.
func NewEventDedupStore(client *goredis.Client) *EventDedupStore {
	return &EventDedupStore{
		client: client,
		prefix: "event-key:",
	}
}

// Claim atomically records key for the tenant.
// Returns true if the key is new, false if it was already claimed.
func (s *EventDedupStore) Claim(ctx context.Context, tenantID uuid.UUID, key string, ttl time.Duration) (bool, error) {
	redisKey := s.key(tenantID, key)
	result, err := s.client.SetArgs(ctx, redisKey, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			// Key already exists
			return false, nil
		}
		return false, fmt.Errorf("redis event key claim: %w", err)
	}
	return result == "OK", nil
}

// Release deletes the claim so the same key can be submitted again.
func (s *EventDedupStore) Release(ctx context.Context, tenantID uuid.UUID, key string) error {
	if err := s.client.Del(ctx, s.key(tenantID, key)).Err(); err != nil {
		return fmt.Errorf("redis event key release: %w", err)
	}
	return nil
}

func (s *EventDedupStore) key(tenantID uuid.UUID, key string) string {
	return s.prefix + tenantID.String() + ":" + key
}
