package service

import (
	"context"
	"time"

	"crm-webhook-engine/internal/core/domain"
	"crm-webhook-engine/internal/core/ports"
	"crm-webhook-engine/internal/observability"
	"crm-webhook-engine/pkg/apperror"
	"crm-webhook-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Delivery log page sizes.
const (
	DefaultLogLimit = 50
	MaxLogLimit     = 200
)

// webhookService implements ports.WebhookService.
type webhookService struct {
	subRepo        ports.SubscriptionRepository
	logRepo        ports.DeliveryLogRepository
	executor       ports.DeliveryExecutor
	recorder       ports.DeliveryRecorder
	metrics        *observability.Metrics
	maxConcurrency int
	now            func() time.Time
	log            zerolog.Logger
}

// NewWebhookService creates a new webhook service. maxConcurrency caps the
// number of in-flight deliveries per dispatch; 0 launches all at once.
func NewWebhookService(
	subRepo ports.SubscriptionRepository,
	logRepo ports.DeliveryLogRepository,
	executor ports.DeliveryExecutor,
	recorder ports.DeliveryRecorder,
	metrics *observability.Metrics,
	maxConcurrency int,
	log zerolog.Logger,
) ports.WebhookService {
	return &webhookService{
		subRepo:        subRepo,
		logRepo:        logRepo,
		executor:       executor,
		recorder:       recorder,
		metrics:        metrics,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
		log:            logger.Component(log, "dispatcher"),
	}
}

// Dispatch fans event out to every active subscription of the tenant and
// waits until each attempt has been delivered and recorded. It never fails:
// a lookup error is reported as zero dispatched.
func (s *webhookService) Dispatch(ctx context.Context, tenantID uuid.UUID, event string, data any) domain.DispatchResult {
	subs, err := s.subRepo.ListActiveForEvent(ctx, tenantID, event)
	if err != nil {
		s.metrics.IncLookupFailure()
		s.log.Error().Err(err).
			Str("tenant_id", tenantID.String()).
			Str("event", event).
			Msg("webhook: subscription lookup failed")
		return domain.DispatchResult{Dispatched: 0}
	}

	targets := subs[:0:0]
	for _, sub := range subs {
		if sub.Matches(tenantID, event) {
			targets = append(targets, sub)
		}
	}

	s.metrics.ObserveDispatch(len(targets))
	if len(targets) == 0 {
		s.log.Debug().Str("tenant_id", tenantID.String()).Str("event", event).Msg("webhook: no subscribers")
		return domain.DispatchResult{Dispatched: 0}
	}

	// One timestamp per event occurrence, shared by every subscriber.
	sentAt := s.now().UTC()
	// Attempts run to completion even if the emitter goes away.
	ctx = context.WithoutCancel(ctx)

	var g errgroup.Group
	if s.maxConcurrency > 0 {
		g.SetLimit(s.maxConcurrency)
	}
	for i := range targets {
		sub := &targets[i]
		g.Go(func() error {
			attempt := s.executor.Deliver(ctx, sub.URL, sub.SecretKey, event, data, sentAt)
			attempt.SubscriptionID = sub.ID
			s.recorder.Record(ctx, sub, attempt)
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info().
		Str("tenant_id", tenantID.String()).
		Str("event", event).
		Int("dispatched", len(targets)).
		Msg("webhook: event dispatched")

	return domain.DispatchResult{Dispatched: len(targets)}
}

// Test sends a synthetic webhook.test event to one subscription, active or
// not, and returns the raw result with the refreshed subscription.
func (s *webhookService) Test(ctx context.Context, tenantID, subscriptionID uuid.UUID) (*domain.TestSendResult, error) {
	sub, err := s.ownedSubscription(ctx, tenantID, subscriptionID)
	if err != nil {
		return nil, err
	}

	sentAt := s.now().UTC()
	data := map[string]any{
		"message":        "This is a test webhook delivery",
		"subscriptionId": sub.ID.String(),
	}

	attempt, outcome := s.deliverOne(ctx, sub, domain.EventWebhookTest, data, sentAt)

	refreshed := outcome.Subscription
	if refreshed == nil {
		refreshed = sub
	}
	return &domain.TestSendResult{Result: attempt.Result, Subscription: refreshed}, nil
}

// Retry re-sends an arbitrary event to one subscription with a fresh sentAt.
func (s *webhookService) Retry(ctx context.Context, tenantID, subscriptionID uuid.UUID, event string, data any) (*domain.RetryResult, error) {
	if !domain.IsValidEventName(event) {
		return nil, apperror.ErrInvalidEvent("invalid event name")
	}
	sub, err := s.ownedSubscription(ctx, tenantID, subscriptionID)
	if err != nil {
		return nil, err
	}

	attempt, outcome := s.deliverOne(ctx, sub, event, data, s.now().UTC())
	return &domain.RetryResult{Attempt: attempt, Log: outcome.Log}, nil
}

// RetryLog re-sends the event and data of a stored log entry. The original
// entry is left untouched; the retry appends its own.
func (s *webhookService) RetryLog(ctx context.Context, tenantID, subscriptionID, logID uuid.UUID) (*domain.RetryResult, error) {
	sub, err := s.ownedSubscription(ctx, tenantID, subscriptionID)
	if err != nil {
		return nil, err
	}

	entry, err := s.logRepo.GetByID(ctx, logID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if entry == nil || entry.SubscriptionID != sub.ID || entry.TenantID != tenantID {
		return nil, apperror.ErrDeliveryLogNotFound()
	}

	event, data, err := entry.StoredEvent()
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	attempt, outcome := s.deliverOne(ctx, sub, event, data, s.now().UTC())
	return &domain.RetryResult{Attempt: attempt, Log: outcome.Log}, nil
}

// ListLogs returns the newest delivery log entries of a subscription.
func (s *webhookService) ListLogs(ctx context.Context, tenantID, subscriptionID uuid.UUID, limit int) ([]domain.DeliveryLog, error) {
	sub, err := s.ownedSubscription(ctx, tenantID, subscriptionID)
	if err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = DefaultLogLimit
	case limit > MaxLogLimit:
		limit = MaxLogLimit
	}

	logs, err := s.logRepo.ListBySubscription(ctx, sub.ID, limit)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if logs == nil {
		logs = []domain.DeliveryLog{}
	}
	return logs, nil
}

func (s *webhookService) deliverOne(ctx context.Context, sub *domain.Subscription, event string, data any, sentAt time.Time) (*domain.Attempt, ports.RecordOutcome) {
	ctx = context.WithoutCancel(ctx)
	attempt := s.executor.Deliver(ctx, sub.URL, sub.SecretKey, event, data, sentAt)
	attempt.SubscriptionID = sub.ID
	outcome := s.recorder.Record(ctx, sub, attempt)
	return attempt, outcome
}

// ownedSubscription hides subscriptions of other tenants behind not-found.
func (s *webhookService) ownedSubscription(ctx context.Context, tenantID, subscriptionID uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.subRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if sub == nil || !sub.BelongsTo(tenantID) {
		return nil, apperror.ErrSubscriptionNotFound()
	}
	return sub, nil
}
