package handler

import (
	"crm-webhook-engine/internal/adapter/http/dto"
	"crm-webhook-engine/internal/adapter/http/middleware"
	"crm-webhook-engine/internal/core/domain"
	"crm-webhook-engine/internal/core/ports"
	"crm-webhook-engine/pkg/apperror"
	"crm-webhook-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SearchHandler serves the global CRM search.
type SearchHandler struct {
	searchSvc ports.SearchService
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(searchSvc ports.SearchService) *SearchHandler {
	return &SearchHandler{searchSvc: searchSvc}
}

// Search handles POST /api/v1/search. Unauthenticated callers get empty results.
func (h *SearchHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.ErrInvalidSearch(err.Error()))
		return
	}

	var tenant *uuid.UUID
	if id, ok := middleware.TenantID(c); ok {
		tenant = &id
	}

	result, err := h.searchSvc.Search(c.Request.Context(), tenant, domain.SearchRequest{
		Query:   req.Query,
		Filters: req.Filters,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}
