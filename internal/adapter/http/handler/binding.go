package handler

import (
	"errors"
	"fmt"

	"crm-webhook-engine/internal/adapter/http/middleware"
	"crm-webhook-engine/pkg/apperror"
	"crm-webhook-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// bindError maps a binding failure to an API error. Event name problems get
// their own code so emitters can tell them apart from malformed bodies.
func bindError(err error) *apperror.AppError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "Event" {
				return apperror.ErrInvalidEvent(fmt.Sprintf("Invalid event name %q", fe.Value()))
			}
		}
	}
	return apperror.Validation(err.Error())
}

// requireTenant returns the authenticated tenant or writes AUTH_001.
func requireTenant(c *gin.Context) (uuid.UUID, bool) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return uuid.Nil, false
	}
	return tenantID, true
}
