package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm-webhook-engine/internal/core/domain"
	"crm-webhook-engine/internal/core/ports/mocks"
	"crm-webhook-engine/internal/observability"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newRecorderWithMocks(t *testing.T) (*deliveryRecorder, *mocks.MockSubscriptionRepository, *mocks.MockDeliveryLogRepository) {
	ctrl := gomock.NewController(t)
	subRepo := mocks.NewMockSubscriptionRepository(ctrl)
	logRepo := mocks.NewMockDeliveryLogRepository(ctrl)
	rec := NewDeliveryRecorder(subRepo, logRepo, observability.NewMetrics(), newTestLogger()).(*deliveryRecorder)
	rec.now = func() time.Time { return time.Date(2025, 5, 5, 5, 5, 5, 0, time.UTC) }
	return rec, subRepo, logRepo
}

func failedAttempt(status int) *domain.Attempt {
	return &domain.Attempt{
		Event:   "proposal.sent",
		Payload: `{"event":"proposal.sent","data":{},"sentAt":"2025-05-05T05:05:00.000Z"}`,
		SentAt:  time.Date(2025, 5, 5, 5, 5, 0, 0, time.UTC),
		Result:  domain.DeliveryResult{Status: &status, StatusText: "Internal Server Error", DurationMs: 12},
	}
}

func TestDeliveryRecorder_WritesLogAndCounters(t *testing.T) {
	rec, subRepo, logRepo := newRecorderWithMocks(t)
	sub := testSubscription(uuid.New(), "proposal.sent")
	attempt := failedAttempt(500)
	updated := sub
	updated.FailureCount = 1

	logRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, l *domain.DeliveryLog) error {
		assert.Equal(t, sub.ID, l.SubscriptionID)
		assert.Equal(t, sub.TenantID, l.TenantID)
		assert.Equal(t, sub.URL, l.URL)
		assert.Equal(t, "proposal.sent", l.EventType)
		assert.Equal(t, attempt.Payload, l.Payload)
		assert.False(t, l.Success)
		require.NotNil(t, l.ResponseStatus)
		assert.Equal(t, 500, *l.ResponseStatus)
		require.NotNil(t, l.ErrorMessage)
		assert.Equal(t, domain.FallbackDeliveryError, *l.ErrorMessage)
		assert.Equal(t, rec.now(), l.CreatedAt)
		return nil
	})
	subRepo.EXPECT().RecordAttempt(gomock.Any(), sub.ID, false, attempt.SentAt).Return(&updated, nil)

	out := rec.Record(context.Background(), &sub, attempt)

	require.NotNil(t, out.Log)
	assert.Equal(t, &updated, out.Subscription)
}

func TestDeliveryRecorder_LogFailureStillUpdatesCounters(t *testing.T) {
	rec, subRepo, logRepo := newRecorderWithMocks(t)
	sub := testSubscription(uuid.New())
	attempt := okAttempt("deal.won", time.Now())

	logRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	subRepo.EXPECT().RecordAttempt(gomock.Any(), sub.ID, true, attempt.SentAt).Return(&sub, nil)

	out := rec.Record(context.Background(), &sub, attempt)

	assert.Nil(t, out.Log)
	assert.NotNil(t, out.Subscription)
}

func TestDeliveryRecorder_CounterFailureKeepsLog(t *testing.T) {
	rec, subRepo, logRepo := newRecorderWithMocks(t)
	sub := testSubscription(uuid.New())

	logRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	subRepo.EXPECT().RecordAttempt(gomock.Any(), sub.ID, false, gomock.Any()).Return(nil, errors.New("deadlock"))

	out := rec.Record(context.Background(), &sub, failedAttempt(502))

	assert.NotNil(t, out.Log)
	assert.Nil(t, out.Subscription)
}

func TestDeliveryRecorder_WritesAfterCancellation(t *testing.T) {
	rec, subRepo, logRepo := newRecorderWithMocks(t)
	sub := testSubscription(uuid.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ *domain.DeliveryLog) error {
		return ctx.Err()
	})
	subRepo.EXPECT().RecordAttempt(gomock.Any(), sub.ID, false, gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ uuid.UUID, _ bool, _ time.Time) (*domain.Subscription, error) {
			return &sub, ctx.Err()
		})

	out := rec.Record(ctx, &sub, failedAttempt(500))
	assert.NotNil(t, out.Log)
	assert.NotNil(t, out.Subscription)
}

func TestOutcomeOf(t *testing.T) {
	status := 404
	assert.Equal(t, observability.OutcomeSuccess, outcomeOf(okAttempt("e", time.Now()).Result))
	assert.Equal(t, observability.OutcomeHTTPError, outcomeOf(domain.DeliveryResult{Status: &status}))
	assert.Equal(t, observability.OutcomeTransportError, outcomeOf(domain.DeliveryResult{Error: "timeout"}))
}
