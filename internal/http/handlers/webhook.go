package handlers

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/viralcut/viralcut-backend/internal/http/response"
	"github.com/viralcut/viralcut-backend/internal/pipeline"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
	"github.com/viralcut/viralcut-backend/internal/services"
)

const webhookSecretHeader = "X-Webhook-Secret"

// renderWebhookPayload mirrors what the render farm posts back. CustomData
// is echoed verbatim from the enqueued job spec.
type renderWebhookPayload struct {
	Type         string `json:"type"`
	RenderID     string `json:"renderId"`
	OutputKey    string `json:"outputKey"`
	ErrorMessage string `json:"errorMessage"`
	CustomData   struct {
		ClipID     string `json:"clipId"`
		PipelineID string `json:"pipelineId"`
		OutputKey  string `json:"outputKey"`
	} `json:"customData"`
}

type renderProgressPayload struct {
	RenderID string `json:"renderId"`
	Progress int    `json:"progress"`
}

type WebhookHandler struct {
	log           *logger.Logger
	aggregator    *pipeline.Aggregator
	creditService services.CreditService

	renderSecret  string
	paymentSecret string
}

func NewWebhookHandler(log *logger.Logger, aggregator *pipeline.Aggregator, creditService services.CreditService) *WebhookHandler {
	h := &WebhookHandler{
		log:           log.With("handler", "WebhookHandler"),
		aggregator:    aggregator,
		creditService: creditService,
		renderSecret:  strings.TrimSpace(os.Getenv("RENDER_WEBHOOK_SECRET")),
		paymentSecret: strings.TrimSpace(os.Getenv("PAYMENT_WEBHOOK_SECRET")),
	}
	if h.renderSecret == "" {
		h.log.Warn("RENDER_WEBHOOK_SECRET unset; render webhooks are unauthenticated")
	}
	if h.paymentSecret == "" {
		h.log.Warn("PAYMENT_WEBHOOK_SECRET unset; payment webhooks are unauthenticated")
	}
	return h
}

func (wh *WebhookHandler) checkSecret(c *gin.Context, want string) bool {
	if want == "" {
		return true
	}
	got := strings.TrimSpace(c.GetHeader(webhookSecretHeader))
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"message": "invalid webhook secret", "code": "unauthorized"},
		})
		return false
	}
	return true
}

// RenderOutcome accepts terminal render notifications. Deliveries are at
// least once; replays are acknowledged with 200 so the farm stops retrying.
func (wh *WebhookHandler) RenderOutcome(c *gin.Context) {
	if !wh.checkSecret(c, wh.renderSecret) {
		return
	}

	var payload renderWebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if payload.Type != pipeline.RenderOutcomeSuccess && payload.Type != pipeline.RenderOutcomeError {
		response.RespondError(c, http.StatusBadRequest, "invalid_request",
			fmt.Errorf("unknown outcome type %q", payload.Type))
		return
	}

	clipID, err := uuid.Parse(payload.CustomData.ClipID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_clip_id", err)
		return
	}
	pipelineID, err := uuid.Parse(payload.CustomData.PipelineID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_pipeline_id", err)
		return
	}

	outputKey := payload.OutputKey
	if outputKey == "" {
		outputKey = payload.CustomData.OutputKey
	}

	err = wh.aggregator.HandleRenderOutcome(c.Request.Context(), pipeline.RenderOutcome{
		Type:         payload.Type,
		RenderID:     payload.RenderID,
		ClipID:       clipID,
		PipelineID:   pipelineID,
		OutputKey:    outputKey,
		ErrorMessage: payload.ErrorMessage,
	})
	if err != nil {
		wh.log.Error("Render webhook processing failed", "render_id", payload.RenderID, "error", err)
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

func (wh *WebhookHandler) RenderProgress(c *gin.Context) {
	if !wh.checkSecret(c, wh.renderSecret) {
		return
	}

	var payload renderProgressPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if payload.RenderID == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("renderId required"))
		return
	}

	if err := wh.aggregator.HandleRenderProgress(c.Request.Context(), payload.RenderID, payload.Progress); err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}

// CheckoutCompleted applies a paid credit top-up. The checkout session id is
// the idempotency key, so replayed deliveries are safe.
func (wh *WebhookHandler) CheckoutCompleted(c *gin.Context) {
	if !wh.checkSecret(c, wh.paymentSecret) {
		return
	}

	var payload struct {
		SessionID string `json:"sessionId"`
		UserID    string `json:"userId"`
		Credits   int    `json:"credits"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	userID, err := uuid.Parse(payload.UserID)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}

	if err := wh.creditService.HandleCheckoutCompleted(c.Request.Context(), userID, payload.SessionID, payload.Credits); err != nil {
		wh.log.Error("Checkout webhook processing failed", "session_id", payload.SessionID, "error", err)
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ok": true})
}
