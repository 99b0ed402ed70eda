package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/viralcut/viralcut-backend/internal/http/handlers"
	httpMW "github.com/viralcut/viralcut-backend/internal/http/middleware"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	AuthHandler    *httpH.AuthHandler
	AuthMiddleware *httpMW.AuthMiddleware

	PipelineHandler *httpH.PipelineHandler
	CreditHandler   *httpH.CreditHandler
	EventsHandler   *httpH.EventsHandler
	WebhookHandler  *httpH.WebhookHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(otelgin.Middleware("viralcut-api"))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api/v1")
	{
		// Auth (public)
		if cfg.AuthHandler != nil {
			api.POST("/register", cfg.AuthHandler.Register)
			api.POST("/login", cfg.AuthHandler.Login)
		}

		// Webhooks (shared-secret, not user-authenticated)
		if cfg.WebhookHandler != nil {
			api.POST("/webhooks/render", cfg.WebhookHandler.RenderOutcome)
			api.POST("/webhooks/render-progress", cfg.WebhookHandler.RenderProgress)
			api.POST("/webhooks/checkout", cfg.WebhookHandler.CheckoutCompleted)
		}
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Pipelines
		if cfg.PipelineHandler != nil {
			protected.POST("/pipelines", cfg.PipelineHandler.Submit)
			protected.GET("/pipelines", cfg.PipelineHandler.List)
			protected.GET("/pipelines/:id", cfg.PipelineHandler.Get)
		}

		// Credits
		if cfg.CreditHandler != nil {
			protected.GET("/credits", cfg.CreditHandler.Balance)
			protected.GET("/credits/ledger", cfg.CreditHandler.Ledger)
		}

		// Progress stream (SSE)
		if cfg.EventsHandler != nil {
			protected.GET("/events", cfg.EventsHandler.Stream)
		}
	}

	return r
}
