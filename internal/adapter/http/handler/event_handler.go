package handler

import (
	"context"
	"time"

	"crm-webhook-engine/internal/adapter/http/dto"
	"crm-webhook-engine/internal/core/ports"
	"crm-webhook-engine/pkg/apperror"
	"crm-webhook-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// EventHandler accepts CRM events and fans them out to subscriptions.
type EventHandler struct {
	webhookSvc ports.WebhookService
	queue      ports.DispatchQueue     // nil = always synchronous
	dedup      ports.EventDeduplicator // nil = Idempotency-Key ignored
	dedupTTL   time.Duration
	log        zerolog.Logger
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(
	webhookSvc ports.WebhookService,
	queue ports.DispatchQueue,
	dedup ports.EventDeduplicator,
	dedupTTL time.Duration,
	log zerolog.Logger,
) *EventHandler {
	return &EventHandler{
		webhookSvc: webhookSvc,
		queue:      queue,
		dedup:      dedup,
		dedupTTL:   dedupTTL,
		log:        log,
	}
}

// Emit handles POST /api/v1/events.
func (h *EventHandler) Emit(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}

	var headers dto.EmitEventHeaders
	if err := c.ShouldBindHeader(&headers); err != nil {
		response.Error(c, apperror.Validation("Invalid Idempotency-Key header"))
		return
	}
	var query dto.EmitEventQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	var req dto.EmitEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}

	claimed := false
	if headers.IdempotencyKey != "" && h.dedup != nil {
		fresh, err := h.dedup.Claim(c.Request.Context(), tenantID, headers.IdempotencyKey, h.dedupTTL)
		if err != nil {
			h.log.Warn().Err(err).Str("tenant_id", tenantID.String()).Msg("event dedup check failed, accepting event")
		} else if !fresh {
			response.Error(c, apperror.ErrDuplicateEvent())
			return
		}
		claimed = err == nil
	}

	data := dto.EventData(req.Data)

	if query.Wait || h.queue == nil {
		result := h.webhookSvc.Dispatch(c.Request.Context(), tenantID, req.Event, data)
		response.OK(c, result)
		return
	}

	if err := h.queue.Enqueue(tenantID, req.Event, data); err != nil {
		// The event was not accepted; the client must be able to resubmit it.
		if claimed {
			if relErr := h.dedup.Release(context.WithoutCancel(c.Request.Context()), tenantID, headers.IdempotencyKey); relErr != nil {
				h.log.Error().Err(relErr).Str("tenant_id", tenantID.String()).Msg("event dedup release failed")
			}
		}
		response.Error(c, err)
		return
	}
	response.Accepted(c, dto.QueuedResponse{Queued: true})
}
