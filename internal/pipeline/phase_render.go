package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	redisclients "github.com/viralcut/viralcut-backend/internal/clients/redis"
	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/apperr"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
)

func (o *Orchestrator) runRenderDispatch(ctx context.Context, p *domain.Pipeline) error {
	dbc := dbctx.Context{Ctx: ctx}

	now := time.Now()
	ok, err := o.pipelines.TransitionStatus(dbc, p.ID, []string{domain.PipelineStatusBatchDone}, map[string]interface{}{
		"status":            domain.PipelineStatusRendering,
		"phase3_started_at": now,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "phase3: claim pipeline", err)
	}
	if !ok {
		return nil
	}
	p.Status = domain.PipelineStatusRendering
	p.Phase3StartedAt = &now
	o.publishProgress(ctx, p, domain.PipelineStatusRendering, PhaseRenderDispatch, "")

	return o.execRenderDispatch(ctx, p)
}

// execRenderDispatch queues every pending clip exactly once and then leaves
// the pipeline waiting on webhooks. The render id is derived from the clip
// id so a re-executed step reuses the same dispatch record and the farm can
// dedupe repeats.
func (o *Orchestrator) execRenderDispatch(ctx context.Context, p *domain.Pipeline) error {
	dbc := dbctx.Context{Ctx: ctx}
	log := o.log.With("pipeline_id", p.ID.String(), "phase", PhaseRenderDispatch)

	clips, err := o.clips.ListByPipeline(dbc, p.ID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "phase3: list clips", err)
	}
	if len(clips) == 0 {
		log.Warn("No clips to dispatch, completing pipeline")
		return o.completeEmpty(dbc, p)
	}

	dispatched := 0
	for _, clip := range clips {
		if clip.Status != domain.ClipStatusPending {
			continue
		}
		if err := o.dispatchClip(ctx, dbc, p, clip); err != nil {
			o.failPhase(dbc, p, PhaseRenderDispatch, err)
			return nil
		}
		dispatched++
	}

	ok, err := o.pipelines.TransitionStatus(dbc, p.ID, []string{domain.PipelineStatusRendering}, map[string]interface{}{
		"status": domain.PipelineStatusRenderQueued,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "phase3: mark render queued", err)
	}
	if !ok {
		log.Warn("Lost phase 3 completion race")
		return nil
	}

	log.Info("Render dispatch completed", "dispatched", dispatched, "clips", len(clips))
	o.publishProgress(ctx, p, domain.PipelineStatusRenderQueued, PhaseRenderDispatch, "")
	return nil
}

func (o *Orchestrator) dispatchClip(ctx context.Context, dbc dbctx.Context, p *domain.Pipeline, clip *domain.Clip) error {
	renderID := "render-" + clip.ID.String()
	outputKey := fmt.Sprintf("final/%s/%d.mp4", p.ID.String(), clip.Idx)

	job := &domain.RenderJob{
		ID:               uuid.New(),
		RenderID:         renderID,
		ClipID:           clip.ID,
		PipelineID:       p.ID,
		Status:           domain.RenderJobStatusQueued,
		InputVideoKey:    clip.RawVideoKey,
		InputCaptionsKey: clip.CaptionsKey,
		OutputKey:        outputKey,
	}
	if err := o.renderJobs.Create(dbc, job); err != nil {
		return apperr.Wrap(apperr.KindInternal, "phase3: persist render job", err)
	}

	spec := redisclients.RenderSpec{
		RenderID:         renderID,
		InputVideoKey:    clip.RawVideoKey,
		InputCaptionsKey: clip.CaptionsKey,
		OutputKey:        outputKey,
		FontFamily:       p.FontFamily,
		WebhookURL:       strings.TrimRight(o.webhookURL, "/") + "/api/v1/webhooks/render",
		CustomData: redisclients.RenderCustomData{
			ClipID:     clip.ID.String(),
			PipelineID: p.ID.String(),
			OutputKey:  outputKey,
		},
	}
	if err := o.queue.Enqueue(ctx, spec); err != nil {
		return apperr.Wrap(apperr.KindUpstreamServer, "phase3: enqueue render", err)
	}

	if _, err := o.clips.TransitionStatus(dbc, clip.ID, []string{domain.ClipStatusPending}, map[string]interface{}{
		"status": domain.ClipStatusQueued,
	}); err != nil {
		return apperr.Wrap(apperr.KindInternal, "phase3: mark clip queued", err)
	}
	return nil
}
