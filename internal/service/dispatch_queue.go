package service

import (
	"context"
	"sync"

	"crm-webhook-engine/internal/core/ports"
	"crm-webhook-engine/internal/observability"
	"crm-webhook-engine/pkg/apperror"
	"crm-webhook-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type dispatchJob struct {
	tenantID uuid.UUID
	event    string
	data     any
}

var _ ports.DispatchQueue = (*DispatchQueue)(nil)

// DispatchQueue decouples event emission from delivery. Enqueue never
// blocks; a fixed pool of workers drains the queue into Dispatch.
type DispatchQueue struct {
	svc     ports.WebhookService
	jobs    chan dispatchJob
	workers int
	metrics *observability.Metrics
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewDispatchQueue creates a queue holding at most size pending events.
func NewDispatchQueue(svc ports.WebhookService, size, workers int, metrics *observability.Metrics, log zerolog.Logger) *DispatchQueue {
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &DispatchQueue{
		svc:     svc,
		jobs:    make(chan dispatchJob, size),
		workers: workers,
		metrics: metrics,
		log:     logger.Component(log, "dispatch_queue"),
	}
}

// Enqueue hands an event off for background dispatch.
func (q *DispatchQueue) Enqueue(tenantID uuid.UUID, event string, data any) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.metrics.IncQueueDropped()
		return apperror.ErrQueueClosed()
	}

	select {
	case q.jobs <- dispatchJob{tenantID: tenantID, event: event, data: data}:
		q.metrics.SetQueueDepth(len(q.jobs))
		return nil
	default:
		q.metrics.IncQueueDropped()
		q.log.Warn().Str("tenant_id", tenantID.String()).Str("event", event).Msg("webhook: dispatch queue full, event dropped")
		return apperror.ErrQueueFull()
	}
}

// Run processes events until ctx is cancelled, then stops intake and
// drains what is already queued before returning.
func (q *DispatchQueue) Run(ctx context.Context) error {
	// In-flight and drained dispatches must not be cut short by shutdown.
	dispatchCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			for job := range q.jobs {
				q.metrics.SetQueueDepth(len(q.jobs))
				q.svc.Dispatch(dispatchCtx, job.tenantID, job.event, job.data)
			}
			return nil
		})
	}

	q.log.Info().Int("workers", q.workers).Int("capacity", cap(q.jobs)).Msg("dispatch queue started")

	<-ctx.Done()
	q.Close()
	pending := len(q.jobs)
	err := g.Wait()
	q.log.Info().Int("drained", pending).Msg("dispatch queue stopped")
	return err
}

// Close stops accepting events. Safe to call more than once.
func (q *DispatchQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

// Len reports the number of queued events.
func (q *DispatchQueue) Len() int {
	return len(q.jobs)
}
