package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm-webhook-engine/config"
	httpHandler "crm-webhook-engine/internal/adapter/http/handler"
	"crm-webhook-engine/internal/adapter/storage/memory"
	pgStorage "crm-webhook-engine/internal/adapter/storage/postgres"
	redisStorage "crm-webhook-engine/internal/adapter/storage/redis"
	"crm-webhook-engine/internal/core/ports"
	"crm-webhook-engine/internal/observability"
	"crm-webhook-engine/internal/ratelimit"
	"crm-webhook-engine/internal/service"
	"crm-webhook-engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("CWE_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Msg("Starting CRM webhook engine")

	if cfg.JWT.Secret == "" {
		log.Warn().Msg("jwt.secret is empty, bearer tokens are trivially forgeable")
	}

	ctx := context.Background()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	var (
		subRepo    ports.SubscriptionRepository
		logRepo    ports.DeliveryLogRepository
		searchRepo ports.SearchRepository
		checkers   []ports.HealthChecker
	)

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()

		if cfg.Database.Migrate {
			if err := pgStorage.Migrate(ctx, pool, log); err != nil {
				log.Fatal().Err(err).Msg("Failed to migrate database schema")
			}
		}

		subRepo = pgStorage.NewSubscriptionRepo(pool)
		logRepo = pgStorage.NewDeliveryLogRepo(pool)
		searchRepo = pgStorage.NewSearchRepo(pool)
		checkers = append(checkers, pgStorage.NewHealthCheck(pool))

	case config.DriverMemory:
		subs := memory.NewSubscriptionRepo()
		records := memory.NewSearchRepo()
		if cfg.Storage.SeedFile != "" {
			if err := memory.LoadSeed(cfg.Storage.SeedFile, subs, records); err != nil {
				log.Fatal().Err(err).Str("file", cfg.Storage.SeedFile).Msg("Failed to load seed file")
			}
			log.Info().Str("file", cfg.Storage.SeedFile).Msg("Seed data loaded")
		}
		subRepo = subs
		logRepo = memory.NewDeliveryLogRepo()
		searchRepo = records
		log.Warn().Msg("Using in-memory storage, delivery logs are lost on restart")
	}

	// Redis is optional: in-process stores serve single-instance deployments.
	var (
		dedup   ports.EventDeduplicator = memory.NewEventDedupStore()
		rlStore ratelimit.Store         = memory.NewRateLimitStore()
	)
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()

		dedup = redisStorage.NewEventDedupStore(rdb)
		if cfg.RateLimit.Backend == "redis" {
			rlStore = redisStorage.NewRateLimitStore(rdb)
		}
		checkers = append(checkers, redisStorage.NewHealthCheck(rdb))
	}

	var limiters map[string]*ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiters = map[string]*ratelimit.Limiter{
			httpHandler.GroupEvents:       ratelimit.NewLimiter(rlStore, toRule(cfg.RateLimit.Events)),
			httpHandler.GroupWebhooks:     ratelimit.NewLimiter(rlStore, toRule(cfg.RateLimit.Webhooks)),
			httpHandler.GroupSearch:       ratelimit.NewLimiter(rlStore, toRule(cfg.RateLimit.Search)),
			httpHandler.GroupIntegrations: ratelimit.NewLimiter(rlStore, toRule(cfg.RateLimit.Integrations)),
		}
	}

	// Initialize services
	signer := service.NewHMACSigner()
	executor := service.NewDeliveryExecutor(resty.New(), signer, service.DeliveryConfig{
		Timeout:         cfg.Webhook.Timeout,
		SignatureHeader: cfg.Webhook.SignatureHeader,
		EventHeader:     cfg.Webhook.EventHeader,
		UserAgent:       cfg.Webhook.UserAgent,
		MaxResponseBody: cfg.Webhook.MaxResponseBody,
	}, log)
	recorder := service.NewDeliveryRecorder(subRepo, logRepo, metrics, log)
	webhookSvc := service.NewWebhookService(subRepo, logRepo, executor, recorder, metrics, cfg.Webhook.MaxConcurrency, log)
	queue := service.NewDispatchQueue(webhookSvc, cfg.Webhook.QueueSize, cfg.Webhook.QueueWorkers, metrics, log)
	searchSvc := service.NewSearchService(searchRepo, log)
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	queueCtx, stopQueue := context.WithCancel(ctx)
	queueDone := make(chan error, 1)
	go func() {
		queueDone <- queue.Run(queueCtx)
	}()

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WebhookSvc:     webhookSvc,
		Queue:          queue,
		Dedup:          dedup,
		DedupTTL:       cfg.Webhook.DedupTTL,
		SearchSvc:      searchSvc,
		TokenSvc:       tokenSvc,
		Limiters:       limiters,
		Metrics:        metrics,
		MetricsPath:    cfg.Metrics.Path,
		HealthCheckers: checkers,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// No new events can arrive; let workers drain what was accepted.
	stopQueue()
	select {
	case <-queueDone:
		log.Info().Msg("Dispatch queue drained")
	case <-shutdownCtx.Done():
		log.Warn().Int("pending", queue.Len()).Msg("Dispatch queue not drained before shutdown timeout")
	}

	log.Info().Msg("Server exited")
}

func toRule(r config.RateRule) ratelimit.Rule {
	return ratelimit.Rule{Limit: int64(r.Limit), Window: r.Window}
}
