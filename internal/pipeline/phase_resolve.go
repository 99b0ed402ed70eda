package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/gateway"
	"github.com/viralcut/viralcut-backend/internal/pkg/apperr"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
)

// runResolveAnalyze claims phase 1 and executes it. Losing the claim means
// another worker already has the pipeline; that tick becomes a no-op.
func (o *Orchestrator) runResolveAnalyze(ctx context.Context, p *domain.Pipeline) error {
	dbc := dbctx.Context{Ctx: ctx}

	now := time.Now()
	ok, err := o.pipelines.TransitionStatus(dbc, p.ID, []string{domain.PipelineStatusPending}, map[string]interface{}{
		"status":            domain.PipelineStatusProcessing,
		"phase1_started_at": now,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "phase1: claim pipeline", err)
	}
	if !ok {
		return nil
	}
	p.Status = domain.PipelineStatusProcessing
	p.Phase1StartedAt = &now
	o.publishProgress(ctx, p, domain.PipelineStatusProcessing, PhaseResolveAnalyze, "")

	return o.execResolveAnalyze(ctx, p)
}

func (o *Orchestrator) execResolveAnalyze(ctx context.Context, p *domain.Pipeline) error {
	dbc := dbctx.Context{Ctx: ctx}
	log := o.log.With("pipeline_id", p.ID.String(), "phase", PhaseResolveAnalyze)

	if p.SourceURL == "" {
		o.failPhase(dbc, p, PhaseResolveAnalyze, apperr.New(apperr.KindValidation, "source url missing"))
		return nil
	}

	// Admission can have changed since submit; a drained balance exits to
	// no_credits instead of burning analysis time.
	user, err := o.users.GetByID(dbc, p.UserID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "phase1: load user", err)
	}
	if user == nil || user.Blocked {
		o.failPhase(dbc, p, PhaseResolveAnalyze, apperr.New(apperr.KindAuth, "user unavailable or blocked"))
		return nil
	}
	if user.Credits <= 0 {
		log.Warn("User out of credits, exiting")
		ok, terr := o.pipelines.TransitionStatus(dbc, p.ID, domain.ActivePipelineStatuses, map[string]interface{}{
			"status":      domain.PipelineStatusNoCredits,
			"error":       "no credits remaining",
			"error_phase": PhaseResolveAnalyze,
		})
		if terr != nil {
			return apperr.Wrap(apperr.KindInternal, "phase1: mark no_credits", terr)
		}
		if ok {
			o.publishProgress(ctx, p, domain.PipelineStatusNoCredits, PhaseResolveAnalyze, "no credits remaining")
		}
		return nil
	}

	// Resolution may already be persisted when this step is re-executed
	// after a crash.
	downloadURL := p.DownloadURL
	if downloadURL == "" {
		res, rerr := o.resolver.Resolve(ctx, p.SourceURL)
		if rerr != nil {
			o.failPhase(dbc, p, PhaseResolveAnalyze, rerr)
			return nil
		}
		downloadURL = res.DownloadURL
		if uerr := o.pipelines.UpdateFields(dbc, p.ID, map[string]interface{}{
			"download_url": res.DownloadURL,
			"media_id":     res.MediaID,
			"video_title":  res.Title,
		}); uerr != nil {
			return apperr.Wrap(apperr.KindInternal, "phase1: persist resolution", uerr)
		}
	}

	analysis, aerr := o.analysis.Run(ctx, gateway.AnalysisRequest{
		DownloadURL: downloadURL,
		JobID:       p.ID.String(),
		UserID:      p.UserID.String(),
	})
	if aerr != nil {
		o.failPhase(dbc, p, PhaseResolveAnalyze, aerr)
		return nil
	}

	raw, merr := json.Marshal(withOriginalIndices(analysis.ViralMoments))
	if merr != nil {
		return apperr.Wrap(apperr.KindInternal, "phase1: encode moments", merr)
	}

	ok, terr := o.pipelines.TransitionStatus(dbc, p.ID, []string{domain.PipelineStatusProcessing}, map[string]interface{}{
		"status":              domain.PipelineStatusAnalysisDone,
		"moments":             datatypes.JSON(raw),
		"total_clips":         len(analysis.ViralMoments),
		"analysis_seconds":    analysis.Performance.AnalysisSeconds,
		"cost_cents":          analysis.Performance.CostCents,
		"phase1_completed_at": time.Now(),
	})
	if terr != nil {
		return apperr.Wrap(apperr.KindInternal, "phase1: persist analysis result", terr)
	}
	if !ok {
		log.Warn("Lost phase 1 completion race")
		return nil
	}

	log.Info("Analysis completed", "moments", len(analysis.ViralMoments))
	o.publishProgress(ctx, p, domain.PipelineStatusAnalysisDone, PhaseResolveAnalyze, "")
	return nil
}

func withOriginalIndices(moments []domain.Moment) []domain.Moment {
	out := make([]domain.Moment, len(moments))
	for i, m := range moments {
		m.OriginalIndex = i
		out[i] = m
	}
	return out
}
