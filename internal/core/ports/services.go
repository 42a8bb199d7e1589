package ports

import (
	"context"
	"time"

	"crm-webhook-engine/internal/core/domain"

	"github.com/google/uuid"
)

// Signer computes and checks HMAC-SHA256 payload signatures.
type Signer interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
}

// DeliveryExecutor performs one bounded HTTP POST attempt. It never retries
// and never returns an error: failures are reported in the attempt result.
type DeliveryExecutor interface {
	Deliver(ctx context.Context, url, secretKey, event string, data any, sentAt time.Time) *domain.Attempt
}

// DeliveryRecorder persists the outcome of an attempt: one log row plus the
// subscription counter update. Persistence failures are observed, not returned.
type DeliveryRecorder interface {
	Record(ctx context.Context, sub *domain.Subscription, attempt *domain.Attempt) RecordOutcome
}

// RecordOutcome is what the recorder managed to persist. Either field is nil
// when the corresponding write failed.
type RecordOutcome struct {
	Log          *domain.DeliveryLog
	Subscription *domain.Subscription
}

// WebhookService fans events out to subscriptions and drives manual sends.
type WebhookService interface {
	Dispatch(ctx context.Context, tenantID uuid.UUID, event string, data any) domain.DispatchResult
	Test(ctx context.Context, tenantID, subscriptionID uuid.UUID) (*domain.TestSendResult, error)
	Retry(ctx context.Context, tenantID, subscriptionID uuid.UUID, event string, data any) (*domain.RetryResult, error)
	RetryLog(ctx context.Context, tenantID, subscriptionID, logID uuid.UUID) (*domain.RetryResult, error)
	ListLogs(ctx context.Context, tenantID, subscriptionID uuid.UUID, limit int) ([]domain.DeliveryLog, error)
}

// DispatchQueue hands events off to background dispatch without blocking.
type DispatchQueue interface {
	Enqueue(tenantID uuid.UUID, event string, data any) error
}

// SearchService answers tenant-scoped CRM searches. A nil tenant means the
// caller is unauthenticated.
type SearchService interface {
	Search(ctx context.Context, tenantID *uuid.UUID, req domain.SearchRequest) (*domain.SearchResponse, error)
}

// TokenService issues and validates tenant bearer tokens.
type TokenService interface {
	Generate(tenantID, userID uuid.UUID) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
}

// EventDeduplicator claims idempotency keys for emitted events.
type EventDeduplicator interface {
	// Claim returns true if the key is new for the tenant, false if it was
	// already claimed within ttl.
	Claim(ctx context.Context, tenantID uuid.UUID, key string, ttl time.Duration) (bool, error)
	// Release forgets a claim whose event was not accepted.
	Release(ctx context.Context, tenantID uuid.UUID, key string) error
}

// HealthChecker is a storage dependency pinged by GET /health.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Name() string
}
