package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/viralcut/viralcut-backend/internal/data/repos/repostest"
	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pipeline"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
	"github.com/viralcut/viralcut-backend/internal/services"
)

type webhookEnv struct {
	store   *repostest.Store
	handler *WebhookHandler
	router  *gin.Engine
}

func newWebhookEnv(t *testing.T) *webhookEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	store := repostest.NewStore()

	settler := pipeline.NewSettler(log, store.PipelineRepo(), store.UserRepo(), store.CreditLedgerRepo())
	aggregator := pipeline.NewAggregator(pipeline.AggregatorConfig{
		Log:        log,
		Pipelines:  store.PipelineRepo(),
		Clips:      store.ClipRepo(),
		RenderJobs: store.RenderJobRepo(),
		Settler:    settler,
	})
	credits := services.NewCreditService(log, nil, store.UserRepo(), store.CreditLedgerRepo())

	h := NewWebhookHandler(log, aggregator, credits)
	r := gin.New()
	r.POST("/webhooks/render", h.RenderOutcome)
	r.POST("/webhooks/render-progress", h.RenderProgress)
	r.POST("/webhooks/checkout", h.CheckoutCompleted)

	return &webhookEnv{store: store, handler: h, router: r}
}

func (env *webhookEnv) post(t *testing.T, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func seedRenderingPipeline(t *testing.T, store *repostest.Store, clipCount int) (*domain.User, *domain.Pipeline, []*domain.Clip) {
	t.Helper()
	dbc := dbctx.Context{Ctx: context.Background()}

	u := &domain.User{ID: uuid.New(), Credits: 10}
	if err := store.UserRepo().Create(dbc, u); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	p := &domain.Pipeline{
		ID:         uuid.New(),
		UserID:     u.ID,
		SourceURL:  "https://youtube.com/watch?v=abc",
		Status:     domain.PipelineStatusRenderQueued,
		TotalClips: clipCount,
	}
	if err := store.PipelineRepo().Create(dbc, p); err != nil {
		t.Fatalf("seed pipeline: %v", err)
	}

	clips := make([]*domain.Clip, 0, clipCount)
	for i := 0; i < clipCount; i++ {
		clips = append(clips, &domain.Clip{
			ID:         uuid.New(),
			PipelineID: p.ID,
			Idx:        i,
			Status:     domain.ClipStatusQueued,
		})
	}
	if err := store.ClipRepo().CreateMany(dbc, clips); err != nil {
		t.Fatalf("seed clips: %v", err)
	}
	return u, p, clips
}

func renderPayload(p *domain.Pipeline, clip *domain.Clip, outcome string) map[string]any {
	payload := map[string]any{
		"type":     outcome,
		"renderId": "render-" + clip.ID.String(),
		"customData": map[string]string{
			"clipId":     clip.ID.String(),
			"pipelineId": p.ID.String(),
			"outputKey":  fmt.Sprintf("final/%s/%d.mp4", p.ID, clip.Idx),
		},
	}
	if outcome == pipeline.RenderOutcomeError {
		payload["errorMessage"] = "render crashed"
	}
	return payload
}

func TestRenderWebhookCompletesPipeline(t *testing.T) {
	env := newWebhookEnv(t)
	u, p, clips := seedRenderingPipeline(t, env.store, 2)

	for _, clip := range clips {
		rec := env.post(t, "/webhooks/render", renderPayload(p, clip, pipeline.RenderOutcomeSuccess), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("render webhook status = %d, body %s", rec.Code, rec.Body.String())
		}
	}

	dbc := dbctx.Context{Ctx: context.Background()}
	after, err := env.store.PipelineRepo().GetByID(dbc, p.ID)
	if err != nil || after == nil {
		t.Fatalf("reload pipeline: %v", err)
	}
	if after.Status != domain.PipelineStatusCompleted {
		t.Fatalf("status = %q, want completed", after.Status)
	}
	if after.SuccessfulClips != 2 || !after.CreditsSettled {
		t.Fatalf("counts/settlement: %+v", after)
	}

	user, _ := env.store.UserRepo().GetByID(dbc, u.ID)
	if user.Credits != 8 {
		t.Fatalf("balance = %d, want 8", user.Credits)
	}
}

func TestRenderWebhookReplaySafe(t *testing.T) {
	env := newWebhookEnv(t)
	u, p, clips := seedRenderingPipeline(t, env.store, 1)

	for i := 0; i < 3; i++ {
		rec := env.post(t, "/webhooks/render", renderPayload(p, clips[0], pipeline.RenderOutcomeSuccess), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("replay %d status = %d", i, rec.Code)
		}
	}

	dbc := dbctx.Context{Ctx: context.Background()}
	user, _ := env.store.UserRepo().GetByID(dbc, u.ID)
	if user.Credits != 9 {
		t.Fatalf("balance = %d, want 9", user.Credits)
	}
	entries, _ := env.store.CreditLedgerRepo().ListByUser(dbc, u.ID, 0)
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
}

func TestRenderWebhookRejectsMalformedPayload(t *testing.T) {
	env := newWebhookEnv(t)
	_, p, clips := seedRenderingPipeline(t, env.store, 1)

	payload := renderPayload(p, clips[0], pipeline.RenderOutcomeSuccess)
	payload["type"] = "maybe"
	if rec := env.post(t, "/webhooks/render", payload, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad type: status = %d", rec.Code)
	}

	payload = renderPayload(p, clips[0], pipeline.RenderOutcomeSuccess)
	payload["customData"] = map[string]string{"clipId": "nope", "pipelineId": p.ID.String()}
	if rec := env.post(t, "/webhooks/render", payload, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad clip id: status = %d", rec.Code)
	}
}

func TestWebhookSecretEnforced(t *testing.T) {
	t.Setenv("RENDER_WEBHOOK_SECRET", "hush")
	env := newWebhookEnv(t)
	_, p, clips := seedRenderingPipeline(t, env.store, 1)

	payload := renderPayload(p, clips[0], pipeline.RenderOutcomeSuccess)
	if rec := env.post(t, "/webhooks/render", payload, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret: status = %d", rec.Code)
	}
	if rec := env.post(t, "/webhooks/render", payload, map[string]string{webhookSecretHeader: "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status = %d", rec.Code)
	}
	if rec := env.post(t, "/webhooks/render", payload, map[string]string{webhookSecretHeader: "hush"}); rec.Code != http.StatusOK {
		t.Fatalf("correct secret: status = %d", rec.Code)
	}
}

func TestCheckoutWebhookAddsCredits(t *testing.T) {
	env := newWebhookEnv(t)
	u, _, _ := seedRenderingPipeline(t, env.store, 1)

	payload := map[string]any{
		"sessionId": "cs_live_1",
		"userId":    u.ID.String(),
		"credits":   25,
	}
	for i := 0; i < 2; i++ {
		if rec := env.post(t, "/webhooks/checkout", payload, nil); rec.Code != http.StatusOK {
			t.Fatalf("delivery %d status = %d", i, rec.Code)
		}
	}

	dbc := dbctx.Context{Ctx: context.Background()}
	user, _ := env.store.UserRepo().GetByID(dbc, u.ID)
	if user.Credits != 35 {
		t.Fatalf("balance = %d, want 35", user.Credits)
	}
}
