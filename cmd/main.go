package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/viralcut/viralcut-backend/internal/clients/redis"
	"github.com/viralcut/viralcut-backend/internal/config"
	"github.com/viralcut/viralcut-backend/internal/data/repos"
	"github.com/viralcut/viralcut-backend/internal/db"
	"github.com/viralcut/viralcut-backend/internal/gateway"
	httpx "github.com/viralcut/viralcut-backend/internal/http"
	httpH "github.com/viralcut/viralcut-backend/internal/http/handlers"
	httpMW "github.com/viralcut/viralcut-backend/internal/http/middleware"
	"github.com/viralcut/viralcut-backend/internal/observability"
	"github.com/viralcut/viralcut-backend/internal/pipeline"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
	"github.com/viralcut/viralcut-backend/internal/quota"
	"github.com/viralcut/viralcut-backend/internal/services"
	"github.com/viralcut/viralcut-backend/internal/sse"
	"github.com/viralcut/viralcut-backend/internal/storage"
	"github.com/viralcut/viralcut-backend/internal/temporalx"
	"github.com/viralcut/viralcut-backend/internal/temporalx/temporalworker"
	"github.com/viralcut/viralcut-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracing := observability.InitTracing(rootCtx, log, observability.TracingConfig{
		ServiceName: "viralcut-backend",
		Environment: utils.GetEnv("APP_ENV", "development", log),
		Version:     utils.GetEnv("APP_VERSION", "dev", log),
	})

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
	userRepo := repos.NewUserRepo(thePG, log)
	pipelineRepo := repos.NewPipelineRepo(thePG, log)
	clipRepo := repos.NewClipRepo(thePG, log)
	renderJobRepo := repos.NewRenderJobRepo(thePG, log)
	creditLedgerRepo := repos.NewCreditLedgerRepo(thePG, log)

	// Limits
	limits, err := config.Load(log)
	if err != nil {
		log.Error("Failed to load limits config", "error", err)
		os.Exit(1)
	}

	// Upstream gateways
	log.Info("Setting up upstream gateways...")
	resolverClient, err := gateway.NewResolverClient(log, gateway.ResolverConfig{
		BaseURL:      utils.GetEnv("RESOLVER_URL", "", log),
		Token:        utils.GetEnv("RESOLVER_TOKEN", "", log),
		PollInterval: limits.ResolvePollInterval(),
		Timeout:      limits.ResolveTimeout(),
	})
	if err != nil {
		log.Error("Could not init resolver client", "error", err)
		os.Exit(1)
	}
	analysisClient, err := gateway.NewAnalysisClient(log, gateway.AnalysisConfig{
		BaseURL: utils.GetEnv("ANALYSIS_URL", "", log),
		Token:   utils.GetEnv("ANALYSIS_TOKEN", "", log),
		Timeout: limits.AnalysisTimeout(),
	})
	if err != nil {
		log.Error("Could not init analysis client", "error", err)
		os.Exit(1)
	}
	batchClient, err := gateway.NewBatchClient(log, gateway.BatchConfig{
		BaseURL: utils.GetEnv("BATCH_URL", "", log),
		Token:   utils.GetEnv("BATCH_TOKEN", "", log),
		Timeout: limits.BatchTimeout(),
	})
	if err != nil {
		log.Error("Could not init batch client", "error", err)
		os.Exit(1)
	}

	// Redis
	log.Info("Setting up redis clients...")
	renderQueue, err := redis.NewRenderQueue(log)
	if err != nil {
		log.Error("Could not init render queue", "error", err)
		os.Exit(1)
	}
	defer renderQueue.Close()

	progressBus, err := redis.NewProgressBus(log)
	if err != nil {
		log.Warn("Could not init progress bus; progress streaming disabled", "error", err)
		progressBus = nil
	} else {
		defer progressBus.Close()
	}

	// Artifact bucket (optional)
	bucketService, err := storage.NewBucketService(log)
	if err != nil {
		log.Warn("Could not init bucket service; artifact verification disabled", "error", err)
		bucketService = nil
	}

	// Pipeline plane
	log.Info("Setting up pipeline components...")
	guard := quota.NewGuard(log, userRepo, pipelineRepo, limits)
	batcher := pipeline.NewBatcher(log, batchClient, limits.BatchSize, limits.MaxConcurrentBatches)
	settler := pipeline.NewSettler(log, pipelineRepo, userRepo, creditLedgerRepo)

	aggregator := pipeline.NewAggregator(pipeline.AggregatorConfig{
		Log:        log,
		DB:         thePG,
		Pipelines:  pipelineRepo,
		Clips:      clipRepo,
		RenderJobs: renderJobRepo,
		Settler:    settler,
		Bucket:     bucketService,
		Progress:   progressBus,
	})

	webhookBaseURL := utils.GetEnv("PUBLIC_BASE_URL", "http://localhost:8080", log)
	orchestrator := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Log:            log,
		DB:             thePG,
		Pipelines:      pipelineRepo,
		Clips:          clipRepo,
		RenderJobs:     renderJobRepo,
		Users:          userRepo,
		Resolver:       resolverClient,
		Analysis:       analysisClient,
		Batcher:        batcher,
		Queue:          renderQueue,
		Progress:       progressBus,
		Completion:     aggregator,
		Limits:         limits,
		WebhookBaseURL: webhookBaseURL,
	})

	// Temporal
	log.Info("Setting up Temporal...")
	temporalClient, err := temporalx.NewClient(log)
	if err != nil {
		log.Error("Could not init Temporal client", "error", err)
		os.Exit(1)
	}
	var starter services.WorkflowStarter
	if temporalClient != nil {
		defer temporalClient.Close()
		starter = services.NewTemporalStarter(temporalClient)

		runner, err := temporalworker.NewRunner(log, temporalClient, orchestrator, pipelineRepo)
		if err != nil {
			log.Error("Could not init Temporal worker", "error", err)
			os.Exit(1)
		}
		if err := runner.Start(rootCtx); err != nil {
			log.Error("Temporal worker failed to start", "error", err)
			os.Exit(1)
		}
	}

	// Progress fan-out
	progressHub := sse.NewHub(log)
	if progressBus != nil {
		if err := progressBus.StartForwarder(rootCtx, progressHub.Broadcast); err != nil {
			log.Warn("Could not start progress forwarder", "error", err)
		}
	}

	// Services
	log.Info("Setting up services...")
	authService, err := services.NewAuthService(log, thePG, userRepo)
	if err != nil {
		log.Error("Could not init auth service", "error", err)
		os.Exit(1)
	}
	pipelineService := services.NewPipelineService(services.PipelineServiceConfig{
		Log:       log,
		DB:        thePG,
		Users:     userRepo,
		Pipelines: pipelineRepo,
		Clips:     clipRepo,
		Guard:     guard,
		Limits:    limits,
		Starter:   starter,
	})
	creditService := services.NewCreditService(log, thePG, userRepo, creditLedgerRepo)

	// HTTP surface
	log.Info("Setting up HTTP server...")
	server := httpx.NewServer(httpx.RouterConfig{
		Log:             log,
		AuthHandler:     httpH.NewAuthHandler(authService),
		AuthMiddleware:  httpMW.NewAuthMiddleware(log, authService),
		PipelineHandler: httpH.NewPipelineHandler(pipelineService),
		CreditHandler:   httpH.NewCreditHandler(creditService),
		EventsHandler:   httpH.NewEventsHandler(progressHub),
		WebhookHandler:  httpH.NewWebhookHandler(log, aggregator, creditService),
		HealthHandler:   httpH.NewHealthHandler(),
	})

	port := utils.GetEnv("PORT", "8080", log)
	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server listening", "port", port)
		serverErr <- server.Run(":" + port)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			log.Error("Server failed", "error", err)
		}
	case <-rootCtx.Done():
		log.Info("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown failed", "error", err)
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("Tracing shutdown failed", "error", err)
		}
	}
}
