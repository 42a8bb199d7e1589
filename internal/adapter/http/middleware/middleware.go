package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"crm-webhook-engine/internal/core/ports"
	"crm-webhook-engine/pkg/apperror"
	"crm-webhook-engine/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	HeaderRequestID     = "X-Request-ID"
	HeaderAuthorization = "Authorization"

	// Context keys
	CtxTenantID = "tenant_id"
	CtxUserID   = "user_id"

	maxRequestIDLength = 128
)

// RequestID propagates the caller's X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		c.Set(response.CtxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// JWTAuth rejects requests without a valid tenant bearer token.
func JWTAuth(tokenSvc ports.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := parseBearer(c, tokenSvc)
		if !ok {
			response.Error(c, apperror.ErrInvalidToken())
			c.Abort()
			return
		}
		setClaims(c, claims)
		c.Next()
	}
}

// OptionalJWTAuth sets the tenant when a valid token is presented and
// otherwise lets the request through unauthenticated.
func OptionalJWTAuth(tokenSvc ports.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, ok := parseBearer(c, tokenSvc); ok {
			setClaims(c, claims)
		}
		c.Next()
	}
}

func parseBearer(c *gin.Context, tokenSvc ports.TokenService) (*ports.TokenClaims, bool) {
	authHeader := c.GetHeader(HeaderAuthorization)
	if len(authHeader) < 8 || authHeader[:7] != "Bearer " {
		return nil, false
	}
	claims, err := tokenSvc.Validate(authHeader[7:])
	if err != nil {
		return nil, false
	}
	return claims, true
}

func setClaims(c *gin.Context, claims *ports.TokenClaims) {
	c.Set(CtxTenantID, claims.TenantID)
	c.Set(CtxUserID, claims.UserID)
}

// TenantID returns the authenticated tenant, if any.
func TenantID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(CtxTenantID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		if tenantID, ok := TenantID(c); ok {
			event = event.Str("tenant_id", tenantID.String())
		}

		event.
			Str("request_id", c.GetString(response.CtxRequestID)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				response.Error(c, apperror.InternalError(fmt.Errorf("panic: %v", r)))
				c.Abort()
			}
		}()
		c.Next()
	}
}
