package handler

import (
	"time"

	"crm-webhook-engine/internal/adapter/http/middleware"
	"crm-webhook-engine/internal/core/ports"
	"crm-webhook-engine/internal/observability"
	"crm-webhook-engine/internal/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Rate limit groups.
const (
	GroupEvents       = "events"
	GroupWebhooks     = "webhooks"
	GroupSearch       = "search"
	GroupIntegrations = "integrations"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WebhookSvc     ports.WebhookService
	Queue          ports.DispatchQueue     // nil = events are dispatched synchronously
	Dedup          ports.EventDeduplicator // nil = Idempotency-Key ignored
	DedupTTL       time.Duration
	SearchSvc      ports.SearchService
	TokenSvc       ports.TokenService
	Limiters       map[string]*ratelimit.Limiter // missing group = not limited
	Metrics        *observability.Metrics        // nil = metrics disabled
	MetricsPath    string
	HealthCheckers []ports.HealthChecker
	MaxBodyBytes   int64
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(deps.MaxBodyBytes))

	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Use(deps.Metrics.HTTPMiddleware(path))
		r.GET(path, gin.WrapH(deps.Metrics.Handler()))
	}

	// Deep health check of the configured stores
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	rl := func(group string) gin.HandlerFunc {
		return middleware.RateLimiter(deps.Limiters[group], group, deps.Metrics, deps.Logger)
	}

	jwtAuth := middleware.JWTAuth(deps.TokenSvc)
	optionalAuth := middleware.OptionalJWTAuth(deps.TokenSvc)

	v1 := r.Group("/api/v1")

	eventHandler := NewEventHandler(deps.WebhookSvc, deps.Queue, deps.Dedup, deps.DedupTTL, deps.Logger)
	v1.POST("/events", jwtAuth, rl(GroupEvents), eventHandler.Emit)

	webhookHandler := NewWebhookHandler(deps.WebhookSvc)
	webhooks := v1.Group("/webhooks/:id", jwtAuth, rl(GroupWebhooks))
	{
		webhooks.POST("/test", webhookHandler.Test)
		webhooks.POST("/retry", webhookHandler.Retry)
		webhooks.GET("/logs", webhookHandler.ListLogs)
		webhooks.POST("/logs/:logId/retry", webhookHandler.RetryLog)
	}

	searchHandler := NewSearchHandler(deps.SearchSvc)
	v1.POST("/search", optionalAuth, rl(GroupSearch), searchHandler.Search)

	integrationHandler := NewIntegrationHandler()
	integrations := v1.Group("/integrations", optionalAuth, rl(GroupIntegrations))
	{
		integrations.GET("/providers", integrationHandler.ListProviders)
		integrations.POST("/:provider/validate", integrationHandler.Validate)
	}

	return r
}
