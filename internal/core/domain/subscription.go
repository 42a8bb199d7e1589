package domain

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is a tenant's registered webhook endpoint.
type Subscription struct {
	ID              uuid.UUID  `json:"id"`
	TenantID        uuid.UUID  `json:"tenantId"`
	URL             string     `json:"url"`
	SecretKey       string     `json:"-"` // Signing only, never serialised
	Events          []string   `json:"events"`
	Active          bool       `json:"active"`
	SuccessCount    int64      `json:"successCount"`
	FailureCount    int64      `json:"failureCount"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Subscribes reports whether the subscription listens for the event.
func (s *Subscription) Subscribes(event string) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Matches reports whether an emitted event should fan out to this subscription.
func (s *Subscription) Matches(tenantID uuid.UUID, event string) bool {
	return s.Active && s.TenantID == tenantID && s.Subscribes(event)
}

// TotalAttempts is the number of delivery attempts ever recorded.
func (s *Subscription) TotalAttempts() int64 {
	return s.SuccessCount + s.FailureCount
}

// BelongsTo reports whether the subscription is owned by the tenant.
func (s *Subscription) BelongsTo(tenantID uuid.UUID) bool {
	return s.TenantID == tenantID
}
