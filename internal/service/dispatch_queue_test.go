package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"crm-webhook-engine/internal/core/domain"
	"crm-webhook-engine/internal/core/ports/mocks"
	"crm-webhook-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestDispatchQueue_ProcessesEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockWebhookService(ctrl)
	q := NewDispatchQueue(svc, 10, 2, nil, newTestLogger())

	tenantID := uuid.New()
	var wg sync.WaitGroup
	wg.Add(3)
	svc.EXPECT().Dispatch(gomock.Any(), tenantID, "deal.won", gomock.Any()).Times(3).
		DoAndReturn(func(context.Context, uuid.UUID, string, any) domain.DispatchResult {
			wg.Done()
			return domain.DispatchResult{Dispatched: 1}
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(tenantID, "deal.won", map[string]int{"i": i}))
	}
	wg.Wait()

	cancel()
	require.NoError(t, <-done)
}

func TestDispatchQueue_FullQueueRejects(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockWebhookService(ctrl)
	q := NewDispatchQueue(svc, 2, 1, nil, newTestLogger())

	tenantID := uuid.New()
	require.NoError(t, q.Enqueue(tenantID, "a.b", nil))
	require.NoError(t, q.Enqueue(tenantID, "a.b", nil))

	err := q.Enqueue(tenantID, "a.b", nil)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "WHK_003", appErr.Code)
	assert.Equal(t, 2, q.Len())
}

func TestDispatchQueue_DrainsOnShutdown(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockWebhookService(ctrl)
	q := NewDispatchQueue(svc, 10, 1, nil, newTestLogger())

	tenantID := uuid.New()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(tenantID, "deal.won", nil))
	}

	var mu sync.Mutex
	processed := 0
	svc.EXPECT().Dispatch(gomock.Any(), tenantID, "deal.won", nil).Times(5).
		DoAndReturn(func(ctx context.Context, _ uuid.UUID, _ string, _ any) domain.DispatchResult {
			assert.NoError(t, ctx.Err(), "drained work runs with a live context")
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			processed++
			mu.Unlock()
			return domain.DispatchResult{}
		})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, q.Run(ctx))

	assert.Equal(t, 5, processed)
	assert.Equal(t, 0, q.Len())
}

func TestDispatchQueue_ClosedRejects(t *testing.T) {
	ctrl := gomock.NewController(t)
	q := NewDispatchQueue(mocks.NewMockWebhookService(ctrl), 4, 1, nil, newTestLogger())

	q.Close()
	q.Close()

	err := q.Enqueue(uuid.New(), "deal.won", nil)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "WHK_003", appErr.Code)
	assert.Contains(t, appErr.Message, "shutting down")
}
