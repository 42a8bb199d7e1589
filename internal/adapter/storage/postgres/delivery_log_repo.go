package postgres

import (
	"context"
	"errors"
	"fmt"

	"crm-webhook-engine/internal/core/domain"
	"crm-webhook-engine/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ ports.DeliveryLogRepository = (*DeliveryLogRepo)(nil)

const deliveryLogColumns = `id, webhook_id, tenant_id, event_type, url, payload,
	response_status, status_text, response_body, success, duration_ms, error_message, created_at`

// DeliveryLogRepo persists the append-only delivery audit trail.
type DeliveryLogRepo struct {
	pool Pool
}

// NewDeliveryLogRepo creates a new DeliveryLogRepo.
func NewDeliveryLogRepo(pool Pool) *DeliveryLogRepo {
	return &DeliveryLogRepo{pool: pool}
}

// Create inserts a delivery log row. Rows are never updated.
func (r *DeliveryLogRepo) Create(ctx context.Context, l *domain.DeliveryLog) error {
	query := `INSERT INTO webhook_logs (` + deliveryLogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, query,
		l.ID, l.SubscriptionID, l.TenantID, l.EventType, l.URL, l.Payload,
		l.ResponseStatus, l.StatusText, l.ResponseBody, l.Success, l.DurationMs,
		l.ErrorMessage, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting delivery log: %w", err)
	}
	return nil
}

// GetByID retrieves a log row. Returns nil, nil when not found.
func (r *DeliveryLogRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.DeliveryLog, error) {
	query := `SELECT ` + deliveryLogColumns + ` FROM webhook_logs WHERE id = $1`

	l, err := scanDeliveryLog(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting delivery log by id: %w", err)
	}
	return l, nil
}

// ListBySubscription returns the newest rows first.
func (r *DeliveryLogRepo) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]domain.DeliveryLog, error) {
	query := `SELECT ` + deliveryLogColumns + `
		FROM webhook_logs
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, subscriptionID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing delivery logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.DeliveryLog{}
	for rows.Next() {
		l, err := scanDeliveryLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery log row: %w", err)
		}
		logs = append(logs, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery log rows: %w", err)
	}

	return logs, nil
}

func scanDeliveryLog(row pgx.Row) (*domain.DeliveryLog, error) {
	var l domain.DeliveryLog
	err := row.Scan(
		&l.ID, &l.SubscriptionID, &l.TenantID, &l.EventType, &l.URL, &l.Payload,
		&l.ResponseStatus, &l.StatusText, &l.ResponseBody, &l.Success, &l.DurationMs,
		&l.ErrorMessage, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
