package handler

import (
	"errors"

	"crm-webhook-engine/internal/adapter/http/dto"
	"crm-webhook-engine/internal/core/domain"
	"crm-webhook-engine/pkg/apperror"
	"crm-webhook-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// IntegrationHandler exposes the provider credential registry.
type IntegrationHandler struct{}

// NewIntegrationHandler creates a new IntegrationHandler.
func NewIntegrationHandler() *IntegrationHandler {
	return &IntegrationHandler{}
}

// ListProviders handles GET /api/v1/integrations/providers.
func (h *IntegrationHandler) ListProviders(c *gin.Context) {
	ids := domain.Providers()
	out := make([]dto.ProviderResponse, 0, len(ids))
	for _, id := range ids {
		fields, _ := domain.ProviderFields(id)
		out = append(out, dto.ProviderResponse{ID: string(id), Fields: fields})
	}
	response.OK(c, out)
}

// Validate handles POST /api/v1/integrations/:provider/validate.
func (h *IntegrationHandler) Validate(c *gin.Context) {
	var uri dto.ProviderURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, apperror.ErrUnknownProvider(c.Param("provider")))
		return
	}
	var req dto.ValidateCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	err := domain.ValidateCredentials(domain.ProviderID(uri.Provider), req.Credentials)
	var unknown domain.ErrUnknownProvider
	var invalid domain.CredentialErrors
	switch {
	case err == nil:
		response.OK(c, dto.ValidateCredentialsResponse{Provider: uri.Provider, Valid: true})
	case errors.As(err, &unknown):
		response.Error(c, apperror.ErrUnknownProvider(uri.Provider))
	case errors.As(err, &invalid):
		response.Error(c, apperror.ErrInvalidCredentials(invalid))
	default:
		response.Error(c, apperror.InternalError(err))
	}
}
