package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
	"github.com/viralcut/viralcut-backend/internal/storage"
)

func renderedPipeline(t *testing.T, env *orchestratorEnv, credits, clipCount int) (*domain.Pipeline, []*domain.Clip, *domain.User) {
	t.Helper()
	env.analysis.out.ViralMoments = moments(clipCount)
	u := seedEnvUser(t, env, credits)
	p := seedEnvPipeline(t, env, u.ID)
	tickUntil(t, env, p.ID, domain.PipelineStatusRenderQueued)

	clips, err := env.store.ClipRepo().ListByPipeline(dbctx.Context{Ctx: context.Background()}, p.ID)
	if err != nil || len(clips) != clipCount {
		t.Fatalf("clips: n=%d err=%v", len(clips), err)
	}
	return p, clips, u
}

func successOutcome(p *domain.Pipeline, c *domain.Clip) RenderOutcome {
	return RenderOutcome{
		Type:       RenderOutcomeSuccess,
		RenderID:   "render-" + c.ID.String(),
		ClipID:     c.ID,
		PipelineID: p.ID,
		OutputKey:  "final/" + c.ID.String() + ".mp4",
	}
}

func TestDuplicateCompletionsSettleOnce(t *testing.T) {
	env := newOrchestratorEnv(t)
	p, clips, u := renderedPipeline(t, env, 10, 2)

	// Every webhook delivered twice, interleaved.
	for _, c := range []*domain.Clip{clips[0], clips[0], clips[1], clips[1], clips[0]} {
		if err := env.aggregator.HandleRenderOutcome(context.Background(), successOutcome(p, c)); err != nil {
			t.Fatalf("HandleRenderOutcome: %v", err)
		}
	}

	final := getPipeline(t, env, p.ID)
	if final.Status != domain.PipelineStatusCompleted || final.SuccessfulClips != 2 {
		t.Fatalf("final pipeline: %+v", final)
	}

	user, _ := env.store.UserRepo().GetByID(dbctx.Context{Ctx: context.Background()}, u.ID)
	if user.Credits != 8 {
		t.Fatalf("duplicate completions double-charged: balance=%d", user.Credits)
	}
	entries, _ := env.store.CreditLedgerRepo().ListByUser(dbctx.Context{Ctx: context.Background()}, u.ID, 0)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(entries))
	}
}

func TestMixedRenderOutcomes(t *testing.T) {
	env := newOrchestratorEnv(t)
	p, clips, u := renderedPipeline(t, env, 10, 3)

	if err := env.aggregator.HandleRenderOutcome(context.Background(), successOutcome(p, clips[0])); err != nil {
		t.Fatalf("success 0: %v", err)
	}
	if err := env.aggregator.HandleRenderOutcome(context.Background(), RenderOutcome{
		Type:         RenderOutcomeError,
		RenderID:     "render-" + clips[1].ID.String(),
		ClipID:       clips[1].ID,
		PipelineID:   p.ID,
		ErrorMessage: "render crashed",
	}); err != nil {
		t.Fatalf("error 1: %v", err)
	}
	if err := env.aggregator.HandleRenderOutcome(context.Background(), successOutcome(p, clips[2])); err != nil {
		t.Fatalf("success 2: %v", err)
	}

	final := getPipeline(t, env, p.ID)
	if final.Status != domain.PipelineStatusCompleted {
		t.Fatalf("expected completed, got %q", final.Status)
	}
	if final.SuccessfulClips != 2 || final.FailedClips != 1 {
		t.Fatalf("counts: successful=%d failed=%d", final.SuccessfulClips, final.FailedClips)
	}

	// Only produced clips are billed.
	user, _ := env.store.UserRepo().GetByID(dbctx.Context{Ctx: context.Background()}, u.ID)
	if user.Credits != 8 {
		t.Fatalf("expected 10-2=8 credits, got %d", user.Credits)
	}

	failed, _ := env.store.ClipRepo().GetByID(dbctx.Context{Ctx: context.Background()}, clips[1].ID)
	if failed.Status != domain.ClipStatusFailed || failed.Error != "render crashed" {
		t.Fatalf("failed clip not recorded: %+v", failed)
	}
}

func TestConcurrentCompletionsSettleOnce(t *testing.T) {
	env := newOrchestratorEnv(t)
	p, clips, u := renderedPipeline(t, env, 10, 4)

	// Every clip's webhook lands twice, all in flight at once.
	var wg sync.WaitGroup
	errs := make(chan error, 2*len(clips))
	for _, c := range clips {
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(c *domain.Clip) {
				defer wg.Done()
				errs <- env.aggregator.HandleRenderOutcome(context.Background(), successOutcome(p, c))
			}(c)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("HandleRenderOutcome: %v", err)
		}
	}

	final := getPipeline(t, env, p.ID)
	if final.Status != domain.PipelineStatusCompleted || final.SuccessfulClips != 4 {
		t.Fatalf("final pipeline: %+v", final)
	}
	user, _ := env.store.UserRepo().GetByID(dbctx.Context{Ctx: context.Background()}, u.ID)
	if user.Credits != 6 {
		t.Fatalf("expected 10-4=6 credits, got %d", user.Credits)
	}
	entries, _ := env.store.CreditLedgerRepo().ListByUser(dbctx.Context{Ctx: context.Background()}, u.ID, 0)
	if len(entries) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(entries))
	}
}

func TestRenderQueuedTickReconcilesCompletion(t *testing.T) {
	env := newOrchestratorEnv(t)
	p, clips, u := renderedPipeline(t, env, 10, 2)

	// Every clip is finished but no notification flipped the pipeline, as
	// when the final deliveries each commit after the other's count.
	dbc := dbctx.Context{Ctx: context.Background()}
	for _, c := range clips {
		ok, err := env.store.ClipRepo().TransitionStatus(dbc, c.ID,
			[]string{domain.ClipStatusPending, domain.ClipStatusQueued, domain.ClipStatusRendering},
			map[string]interface{}{
				"status":          domain.ClipStatusCompleted,
				"final_video_key": "final/" + c.ID.String() + ".mp4",
			})
		if err != nil || !ok {
			t.Fatalf("clip transition: ok=%v err=%v", ok, err)
		}
	}

	res, err := env.orch.Tick(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !res.Done {
		t.Fatalf("expected the tick to finish the pipeline")
	}

	final := getPipeline(t, env, p.ID)
	if final.Status != domain.PipelineStatusCompleted || !final.CreditsSettled {
		t.Fatalf("tick did not reconcile completion: %+v", final)
	}
	if final.SuccessfulClips != 2 {
		t.Fatalf("successful clips: %d", final.SuccessfulClips)
	}
	user, _ := env.store.UserRepo().GetByID(dbc, u.ID)
	if user.Credits != 8 {
		t.Fatalf("expected 10-2=8 credits, got %d", user.Credits)
	}
}

func TestSuccessWithoutOutputKeyFailsClip(t *testing.T) {
	env := newOrchestratorEnv(t)
	p, clips, u := renderedPipeline(t, env, 10, 1)

	out := successOutcome(p, clips[0])
	out.OutputKey = ""
	if err := env.aggregator.HandleRenderOutcome(context.Background(), out); err != nil {
		t.Fatalf("HandleRenderOutcome: %v", err)
	}

	dbc := dbctx.Context{Ctx: context.Background()}
	clip, _ := env.store.ClipRepo().GetByID(dbc, clips[0].ID)
	if clip.Status != domain.ClipStatusFailed {
		t.Fatalf("keyless success must fail the clip, got %q", clip.Status)
	}
	if clip.FinalVideoKey != "" {
		t.Fatalf("failed clip carries an artifact pointer: %q", clip.FinalVideoKey)
	}

	final := getPipeline(t, env, p.ID)
	if final.SuccessfulClips != 0 || final.FailedClips != 1 {
		t.Fatalf("counts: successful=%d failed=%d", final.SuccessfulClips, final.FailedClips)
	}
	// Nothing produced, nothing billed.
	user, _ := env.store.UserRepo().GetByID(dbc, u.ID)
	if user.Credits != 10 {
		t.Fatalf("expected untouched balance, got %d", user.Credits)
	}
}

func TestPartialCompletionDoesNotFlip(t *testing.T) {
	env := newOrchestratorEnv(t)
	p, clips, _ := renderedPipeline(t, env, 10, 3)

	if err := env.aggregator.HandleRenderOutcome(context.Background(), successOutcome(p, clips[0])); err != nil {
		t.Fatalf("HandleRenderOutcome: %v", err)
	}

	cur := getPipeline(t, env, p.ID)
	if cur.Status != domain.PipelineStatusRenderQueued {
		t.Fatalf("pipeline flipped early: %q", cur.Status)
	}
	if cur.CreditsSettled {
		t.Fatalf("settled before completion")
	}
}

func TestCompletionForUnknownPipeline(t *testing.T) {
	env := newOrchestratorEnv(t)
	err := env.aggregator.HandleRenderOutcome(context.Background(), RenderOutcome{
		Type:       RenderOutcomeSuccess,
		ClipID:     uuid.New(),
		PipelineID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("unknown pipeline must be a logged no-op, got %v", err)
	}
}

type fakeBucket struct {
	exists map[string]bool
}

func (b *fakeBucket) ObjectExists(ctx context.Context, key string) (bool, error) {
	return b.exists[key], nil
}

func (b *fakeBucket) GetObjectAttrs(ctx context.Context, key string) (*storage.ObjectAttrs, error) {
	if b.exists[key] {
		return &storage.ObjectAttrs{Size: 1}, nil
	}
	return nil, nil
}

func (b *fakeBucket) GetPublicURL(key string) string { return "https://cdn.test/" + key }

func (b *fakeBucket) Close() error { return nil }

func TestMissingArtifactDemotesSuccess(t *testing.T) {
	env := newOrchestratorEnv(t)
	p, clips, _ := renderedPipeline(t, env, 10, 1)

	env.aggregator.bucket = &fakeBucket{exists: map[string]bool{}}

	if err := env.aggregator.HandleRenderOutcome(context.Background(), successOutcome(p, clips[0])); err != nil {
		t.Fatalf("HandleRenderOutcome: %v", err)
	}

	clip, _ := env.store.ClipRepo().GetByID(dbctx.Context{Ctx: context.Background()}, clips[0].ID)
	if clip.Status != domain.ClipStatusFailed {
		t.Fatalf("missing artifact should fail the clip, got %q", clip.Status)
	}
	final := getPipeline(t, env, p.ID)
	if final.SuccessfulClips != 0 || final.FailedClips != 1 {
		t.Fatalf("counts: %+v", final)
	}
}

func TestRenderProgressMonotonic(t *testing.T) {
	env := newOrchestratorEnv(t)
	p, clips, _ := renderedPipeline(t, env, 10, 1)
	_ = p

	renderID := "render-" + clips[0].ID.String()
	if err := env.aggregator.HandleRenderProgress(context.Background(), renderID, 50); err != nil {
		t.Fatalf("progress 50: %v", err)
	}
	if err := env.aggregator.HandleRenderProgress(context.Background(), renderID, 30); err != nil {
		t.Fatalf("progress 30: %v", err)
	}

	job, err := env.store.RenderJobRepo().GetByRenderID(dbctx.Context{Ctx: context.Background()}, renderID)
	if err != nil || job == nil {
		t.Fatalf("render job: %v", err)
	}
	if job.Progress != 50 || job.Status != domain.RenderJobStatusRendering {
		t.Fatalf("progress regressed: %+v", job)
	}
}
