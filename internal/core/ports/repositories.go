package ports

import (
	"context"
	"time"

	"crm-webhook-engine/internal/core/domain"

	"github.com/google/uuid"
)

// SubscriptionRepository is the tenant webhook subscription store.
// Subscriptions are configured elsewhere; the engine only reads them and
// bumps their delivery counters.
type SubscriptionRepository interface {
	// ListActiveForEvent returns active subscriptions of the tenant whose
	// event set contains event.
	ListActiveForEvent(ctx context.Context, tenantID uuid.UUID, event string) ([]domain.Subscription, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	// RecordAttempt atomically increments exactly one counter and moves
	// lastTriggeredAt forward, returning the persisted state.
	RecordAttempt(ctx context.Context, id uuid.UUID, success bool, at time.Time) (*domain.Subscription, error)
}

// DeliveryLogRepository is the append-only delivery audit trail.
type DeliveryLogRepository interface {
	Create(ctx context.Context, log *domain.DeliveryLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.DeliveryLog, error)
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]domain.DeliveryLog, error)
}

// SearchRepository runs the initial server-side search over CRM records.
type SearchRepository interface {
	Search(ctx context.Context, tenantID uuid.UUID, query string, filters domain.SearchFilters, dateFrom *time.Time) (domain.SearchResults, error)
}
