package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm-webhook-engine/internal/core/domain"
	"crm-webhook-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ ports.SubscriptionRepository = (*SubscriptionRepo)(nil)

const subscriptionColumns = `id, tenant_id, url, secret_key, events, active,
	success_count, failure_count, last_triggered_at, created_at, updated_at`

// SubscriptionRepo reads webhook subscriptions and maintains their counters.
type SubscriptionRepo struct {
	pool Pool
}

// NewSubscriptionRepo creates a new SubscriptionRepo.
func NewSubscriptionRepo(pool Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

// ListActiveForEvent returns the tenant's active subscriptions listening for event.
func (r *SubscriptionRepo) ListActiveForEvent(ctx context.Context, tenantID uuid.UUID, event string) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM webhooks
		WHERE tenant_id = $1 AND active = TRUE AND events @> ARRAY[$2::text]
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, tenantID, event)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions for event: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription row: %w", err)
		}
		subs = append(subs, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscription rows: %w", err)
	}

	return subs, nil
}

// GetByID retrieves a subscription by ID. Returns nil, nil when not found.
func (r *SubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM webhooks WHERE id = $1`

	s, err := scanSubscription(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting subscription by id: %w", err)
	}
	return s, nil
}

// RecordAttempt bumps one counter and lastTriggeredAt in a single UPDATE so
// concurrent attempts never lose increments. lastTriggeredAt only moves forward.
func (r *SubscriptionRepo) RecordAttempt(ctx context.Context, id uuid.UUID, success bool, at time.Time) (*domain.Subscription, error) {
	var okInc, failInc int64
	if success {
		okInc = 1
	} else {
		failInc = 1
	}

	query := `UPDATE webhooks SET
			success_count = success_count + $2,
			failure_count = failure_count + $3,
			last_triggered_at = GREATEST(COALESCE(last_triggered_at, $4), $4),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + subscriptionColumns

	s, err := scanSubscription(r.pool.QueryRow(ctx, query, id, okInc, failInc, at.UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("recording delivery attempt: %w", err)
	}
	return s, nil
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var s domain.Subscription
	err := row.Scan(
		&s.ID, &s.TenantID, &s.URL, &s.SecretKey, &s.Events, &s.Active,
		&s.SuccessCount, &s.FailureCount, &s.LastTriggeredAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
