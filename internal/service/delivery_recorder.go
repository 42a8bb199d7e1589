package service

import (
	"context"
	"time"

	"crm-webhook-engine/internal/core/domain"
	"crm-webhook-engine/internal/core/ports"
	"crm-webhook-engine/internal/observability"
	"crm-webhook-engine/pkg/logger"

	"github.com/rs/zerolog"
)

// deliveryRecorder implements ports.DeliveryRecorder.
type deliveryRecorder struct {
	subRepo ports.SubscriptionRepository
	logRepo ports.DeliveryLogRepository
	metrics *observability.Metrics
	now     func() time.Time
	log     zerolog.Logger
}

// NewDeliveryRecorder creates a recorder. metrics may be nil.
func NewDeliveryRecorder(
	subRepo ports.SubscriptionRepository,
	logRepo ports.DeliveryLogRepository,
	metrics *observability.Metrics,
	log zerolog.Logger,
) ports.DeliveryRecorder {
	return &deliveryRecorder{
		subRepo: subRepo,
		logRepo: logRepo,
		metrics: metrics,
		now:     time.Now,
		log:     logger.Component(log, "delivery_recorder"),
	}
}

// Record appends one log row and bumps the subscription counters. Neither
// write is rolled back if the other fails; failures are logged and counted.
func (r *deliveryRecorder) Record(ctx context.Context, sub *domain.Subscription, attempt *domain.Attempt) ports.RecordOutcome {
	// The delivery already happened; a cancelled caller must not lose its audit trail.
	ctx = context.WithoutCancel(ctx)

	r.metrics.ObserveDelivery(outcomeOf(attempt.Result), time.Duration(attempt.Result.DurationMs)*time.Millisecond)
	r.logAttempt(sub, attempt)

	var out ports.RecordOutcome

	entry := domain.NewDeliveryLog(sub, attempt, r.now().UTC())
	if err := r.logRepo.Create(ctx, entry); err != nil {
		r.metrics.IncLogWriteFailure()
		r.log.Error().Err(err).
			Str("subscription_id", sub.ID.String()).
			Str("event", attempt.Event).
			Msg("webhook: failed to write delivery log")
	} else {
		out.Log = entry
	}

	updated, err := r.subRepo.RecordAttempt(ctx, sub.ID, attempt.Result.OK, attempt.SentAt)
	switch {
	case err != nil:
		r.metrics.IncCounterFailure()
		r.log.Error().Err(err).
			Str("subscription_id", sub.ID.String()).
			Bool("success", attempt.Result.OK).
			Msg("webhook: failed to update subscription counters")
	case updated == nil:
		// Deleted between lookup and delivery.
		r.log.Warn().Str("subscription_id", sub.ID.String()).Msg("webhook: subscription vanished before counter update")
	default:
		out.Subscription = updated
	}

	return out
}

func (r *deliveryRecorder) logAttempt(sub *domain.Subscription, attempt *domain.Attempt) {
	res := attempt.Result
	if res.OK {
		r.log.Info().
			Str("subscription_id", sub.ID.String()).
			Str("tenant_id", sub.TenantID.String()).
			Str("event", attempt.Event).
			Str("url", sub.URL).
			Int("status", *res.Status).
			Int64("duration_ms", res.DurationMs).
			Msg("webhook: delivered")
		return
	}

	ev := r.log.Warn().
		Str("subscription_id", sub.ID.String()).
		Str("tenant_id", sub.TenantID.String()).
		Str("event", attempt.Event).
		Str("url", sub.URL).
		Int64("duration_ms", res.DurationMs)
	if res.Status != nil {
		ev = ev.Int("status", *res.Status)
	}
	if res.Error != "" {
		ev = ev.Str("error", res.Error)
	}
	ev.Msg("webhook: delivery failed")
}

func outcomeOf(res domain.DeliveryResult) string {
	switch {
	case res.OK:
		return observability.OutcomeSuccess
	case res.Status != nil:
		return observability.OutcomeHTTPError
	default:
		return observability.OutcomeTransportError
	}
}
