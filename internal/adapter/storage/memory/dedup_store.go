package memory

import (
	"context"
	"sync"
	"time"

	"crm-webhook-engine/internal/core/ports"

	"github.com/google/uuid"
)

var _ ports.EventDeduplicator = (*EventDedupStore)(nil)

// EventDedupStore remembers claimed idempotency keys until they expire.
type EventDedupStore struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func NewEventDedupStore() *EventDedupStore {
	return &EventDedupStore{keys: make(map[string]time.Time), now: time.Now}
}

func (s *EventDedupStore) Claim(ctx context.Context, tenantID uuid.UUID, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	k := dedupKey(tenantID, key)
	if exp, ok := s.keys[k]; ok && now.Before(exp) {
		return false, nil
	}
	for other, exp := range s.keys {
		if !now.Before(exp) {
			delete(s.keys, other)
		}
	}
	s.keys[k] = now.Add(ttl)
	return true, nil
}

func (s *EventDedupStore) Release(ctx context.Context, tenantID uuid.UUID, key string) error {
	s.mu.Lock()
	delete(s.keys, dedupKey(tenantID, key))
	s.mu.Unlock()
	return nil
}

func dedupKey(tenantID uuid.UUID, key string) string {
	return tenantID.String() + ":" + key
}
