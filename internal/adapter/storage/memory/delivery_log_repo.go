package memory

import (
	"context"
	"fmt"
	"sync"

	"crm-webhook-engine/internal/core/domain"
	"crm-webhook-engine/internal/core/ports"

	"github.com/google/uuid"
)

var _ ports.DeliveryLogRepository = (*DeliveryLogRepo)(nil)

// DeliveryLogRepo is an append-only slice of log rows.
type DeliveryLogRepo struct {
	mu   sync.RWMutex
	rows []domain.DeliveryLog
	byID map[uuid.UUID]int
}

func NewDeliveryLogRepo() *DeliveryLogRepo {
	return &DeliveryLogRepo{byID: make(map[uuid.UUID]int)}
}

func (r *DeliveryLogRepo) Create(ctx context.Context, log *domain.DeliveryLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byID[log.ID]; dup {
		return fmt.Errorf("delivery log %s already exists", log.ID)
	}
	r.byID[log.ID] = len(r.rows)
	r.rows = append(r.rows, *log)
	return nil
}

func (r *DeliveryLogRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.DeliveryLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	row := r.rows[i]
	return &row, nil
}

// ListBySubscription returns newest first.
func (r *DeliveryLogRepo) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]domain.DeliveryLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.DeliveryLog{}
	for i := len(r.rows) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.rows[i].SubscriptionID == subscriptionID {
			out = append(out, r.rows[i])
		}
	}
	return out, nil
}

// Len returns the total number of rows.
func (r *DeliveryLogRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}
