package handler

import (
	"crm-webhook-engine/internal/adapter/http/dto"
	"crm-webhook-engine/internal/core/ports"
	"crm-webhook-engine/pkg/apperror"
	"crm-webhook-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WebhookHandler serves manual sends and the delivery log of a subscription.
type WebhookHandler struct {
	webhookSvc ports.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookSvc ports.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// Test handles POST /api/v1/webhooks/:id/test.
func (h *WebhookHandler) Test(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	subID, ok := bindSubscriptionID(c)
	if !ok {
		return
	}

	result, err := h.webhookSvc.Test(c.Request.Context(), tenantID, subID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Retry handles POST /api/v1/webhooks/:id/retry.
func (h *WebhookHandler) Retry(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	subID, ok := bindSubscriptionID(c)
	if !ok {
		return
	}

	var req dto.RetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}

	result, err := h.webhookSvc.Retry(c.Request.Context(), tenantID, subID, req.Event, dto.EventData(req.Data))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// RetryLog handles POST /api/v1/webhooks/:id/logs/:logId/retry.
func (h *WebhookHandler) RetryLog(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}

	var uri dto.LogURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, apperror.Validation("Invalid subscription or log id"))
		return
	}

	result, err := h.webhookSvc.RetryLog(c.Request.Context(), tenantID, uuid.MustParse(uri.ID), uuid.MustParse(uri.LogID))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// ListLogs handles GET /api/v1/webhooks/:id/logs.
func (h *WebhookHandler) ListLogs(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	subID, ok := bindSubscriptionID(c)
	if !ok {
		return
	}

	var query dto.ListLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, apperror.Validation("limit must be a positive integer"))
		return
	}

	logs, err := h.webhookSvc.ListLogs(c.Request.Context(), tenantID, subID, query.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, logs)
}

func bindSubscriptionID(c *gin.Context) (uuid.UUID, bool) {
	var uri dto.SubscriptionURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, apperror.Validation("Invalid subscription id"))
		return uuid.Nil, false
	}
	// The uuid binding tag has already validated the format.
	return uuid.MustParse(uri.ID), true
}
