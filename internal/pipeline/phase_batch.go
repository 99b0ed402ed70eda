package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/apperr"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
)

func (o *Orchestrator) runBatchPhase(ctx context.Context, p *domain.Pipeline) error {
	dbc := dbctx.Context{Ctx: ctx}

	now := time.Now()
	ok, err := o.pipelines.TransitionStatus(dbc, p.ID, []string{domain.PipelineStatusAnalysisDone}, map[string]interface{}{
		"status":            domain.PipelineStatusBatchRunning,
		"phase2_started_at": now,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "phase2: claim pipeline", err)
	}
	if !ok {
		return nil
	}
	p.Status = domain.PipelineStatusBatchRunning
	p.Phase2StartedAt = &now
	o.publishProgress(ctx, p, domain.PipelineStatusBatchRunning, PhaseBatchProcess, "")

	return o.execBatchPhase(ctx, p)
}

func (o *Orchestrator) execBatchPhase(ctx context.Context, p *domain.Pipeline) error {
	dbc := dbctx.Context{Ctx: ctx}
	log := o.log.With("pipeline_id", p.ID.String(), "phase", PhaseBatchProcess)

	var candidates []domain.Moment
	if len(p.Moments) > 0 {
		if err := json.Unmarshal(p.Moments, &candidates); err != nil {
			o.failPhase(dbc, p, PhaseBatchProcess, apperr.Wrap(apperr.KindInternal, "decode persisted moments", err))
			return nil
		}
	}

	// Zero candidates means nothing to render: the pipeline completes
	// immediately with empty counts, settled at zero cost.
	if len(candidates) == 0 {
		log.Info("No candidate moments, completing pipeline")
		return o.completeEmpty(dbc, p)
	}

	outcome := o.batcher.ProcessBatches(ctx, p.ID.String(), p.DownloadURL, p.FontFamily, candidates)

	// Every produced descriptor becomes a clip row keyed by its original
	// index, so a re-executed step upserts instead of duplicating.
	clips := make([]*domain.Clip, 0, len(outcome.Processed))
	for _, pc := range outcome.Processed {
		clips = append(clips, &domain.Clip{
			ID:              uuid.New(),
			PipelineID:      p.ID,
			Idx:             pc.OriginalIndex,
			Title:           pc.Title,
			StartSeconds:    pc.StartSeconds,
			EndSeconds:      pc.EndSeconds,
			DurationSeconds: pc.DurationSeconds,
			ViralScore:      pc.ViralScore,
			HookType:        pc.HookType,
			Status:          domain.ClipStatusPending,
			RawVideoKey:     pc.RawVideoKey,
			CaptionsKey:     pc.CaptionsKey,
		})
	}
	if err := o.clips.CreateMany(dbc, clips); err != nil {
		return apperr.Wrap(apperr.KindInternal, "phase2: persist clips", err)
	}

	if len(outcome.Processed) == 0 {
		// All batches failed; there is nothing to dispatch.
		o.failPhase(dbc, p, PhaseBatchProcess, apperr.Newf(apperr.KindPartialBatch,
			"all %d candidates failed batch processing", len(outcome.Failed)))
		return nil
	}

	ok, err := o.pipelines.TransitionStatus(dbc, p.ID, []string{domain.PipelineStatusBatchRunning}, map[string]interface{}{
		"status":              domain.PipelineStatusBatchDone,
		"total_clips":         len(outcome.Processed),
		"failed_clips":        len(outcome.Failed),
		"phase2_completed_at": time.Now(),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "phase2: persist batch result", err)
	}
	if !ok {
		log.Warn("Lost phase 2 completion race")
		return nil
	}

	log.Info("Batch processing completed", "processed", len(outcome.Processed), "failed", len(outcome.Failed))
	o.publishProgress(ctx, p, domain.PipelineStatusBatchDone, PhaseBatchProcess, "")
	return nil
}

func (o *Orchestrator) completeEmpty(dbc dbctx.Context, p *domain.Pipeline) error {
	ok, err := o.pipelines.TransitionStatus(dbc, p.ID, domain.ActivePipelineStatuses, map[string]interface{}{
		"status":           domain.PipelineStatusCompleted,
		"total_clips":      0,
		"successful_clips": 0,
		"failed_clips":     0,
		"completed_at":     time.Now(),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "phase2: complete empty pipeline", err)
	}
	if !ok {
		return nil
	}
	// Nothing was produced, so settlement only stamps the marker.
	if _, err := o.pipelines.MarkSettled(dbc, p.ID); err != nil {
		o.log.Error("Failed to mark empty pipeline settled", "pipeline_id", p.ID.String(), "error", err)
	}
	o.publishProgress(dbc.Ctx, p, domain.PipelineStatusCompleted, PhaseBatchProcess, "no candidate moments found")
	return nil
}
