// Package memory provides process-local stores for single-instance
// deployments and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"crm-webhook-engine/internal/core/domain"
	"crm-webhook-engine/internal/core/ports"

	"github.com/google/uuid"
)

var _ ports.SubscriptionRepository = (*SubscriptionRepo)(nil)

// SubscriptionRepo holds subscriptions in a map guarded by a mutex.
// Returned values are copies; callers never alias stored state.
type SubscriptionRepo struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*domain.Subscription
}

func NewSubscriptionRepo() *SubscriptionRepo {
	return &SubscriptionRepo{subs: make(map[uuid.UUID]*domain.Subscription)}
}

// Save inserts or replaces a subscription.
func (r *SubscriptionRepo) Save(sub domain.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := cloneSubscription(&sub)
	r.subs[sub.ID] = &cp
}

func (r *SubscriptionRepo) ListActiveForEvent(ctx context.Context, tenantID uuid.UUID, event string) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Subscription
	for _, s := range r.subs {
		if s.Matches(tenantID, event) {
			out = append(out, cloneSubscription(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *SubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, nil
	}
	cp := cloneSubscription(s)
	return &cp, nil
}

// RecordAttempt increments under the write lock, so concurrent attempts
// never lose an update.
func (r *SubscriptionRepo) RecordAttempt(ctx context.Context, id uuid.UUID, success bool, at time.Time) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, nil
	}

	if success {
		s.SuccessCount++
	} else {
		s.FailureCount++
	}
	at = at.UTC()
	if s.LastTriggeredAt == nil || at.After(*s.LastTriggeredAt) {
		s.LastTriggeredAt = &at
	}
	s.UpdatedAt = time.Now().UTC()

	cp := cloneSubscription(s)
	return &cp, nil
}

func cloneSubscription(s *domain.Subscription) domain.Subscription {
	cp := *s
	cp.Events = slices.Clone(s.Events)
	if s.LastTriggeredAt != nil {
		t := *s.LastTriggeredAt
		cp.LastTriggeredAt = &t
	}
	return cp
}
