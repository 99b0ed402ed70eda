package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	redisclients "github.com/viralcut/viralcut-backend/internal/clients/redis"
	"github.com/viralcut/viralcut-backend/internal/data/repos"
	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/apperr"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
	"github.com/viralcut/viralcut-backend/internal/storage"
)

const (
	RenderOutcomeSuccess = "success"
	RenderOutcomeError   = "error"
)

// RenderOutcome is one render completion notification, success or failure,
// delivered at least once and in no particular order.
type RenderOutcome struct {
	Type         string
	RenderID     string
	ClipID       uuid.UUID
	PipelineID   uuid.UUID
	OutputKey    string
	ErrorMessage string
}

type AggregatorConfig struct {
	Log        *logger.Logger
	DB         *gorm.DB
	Pipelines  repos.PipelineRepo
	Clips      repos.ClipRepo
	RenderJobs repos.RenderJobRepo
	Settler    *Settler
	Bucket     storage.BucketService
	Progress   redisclients.ProgressBus
}

// Aggregator turns per-clip render notifications into the single pipeline
// completion action. It must be correct under duplicate and out-of-order
// delivery: the terminal flip and settlement run exactly once per pipeline.
type Aggregator struct {
	log        *logger.Logger
	db         *gorm.DB
	pipelines  repos.PipelineRepo
	clips      repos.ClipRepo
	renderJobs repos.RenderJobRepo
	settler    *Settler
	bucket     storage.BucketService
	progress   redisclients.ProgressBus
}

func NewAggregator(cfg AggregatorConfig) *Aggregator {
	return &Aggregator{
		log:        cfg.Log.With("component", "CompletionAggregator"),
		db:         cfg.DB,
		pipelines:  cfg.Pipelines,
		clips:      cfg.Clips,
		renderJobs: cfg.RenderJobs,
		settler:    cfg.Settler,
		bucket:     cfg.Bucket,
		progress:   cfg.Progress,
	}
}

func (a *Aggregator) inTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if a.db == nil {
		return fn(dbctx.Context{Ctx: ctx})
	}
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx})
	})
}

// HandleRenderOutcome is the aggregator's single entry point.
func (a *Aggregator) HandleRenderOutcome(ctx context.Context, out RenderOutcome) error {
	log := a.log.With(
		"pipeline_id", out.PipelineID.String(),
		"clip_id", out.ClipID.String(),
		"render_id", out.RenderID,
		"type", out.Type,
	)

	success := out.Type == RenderOutcomeSuccess
	if success && out.OutputKey == "" {
		// A completed clip always carries a final artifact pointer.
		log.Warn("Success webhook without an output key, treating as failure")
		success = false
		out.ErrorMessage = "render reported success without an output key"
	}
	if success && a.bucket != nil {
		exists, err := a.bucket.ObjectExists(ctx, out.OutputKey)
		if err != nil {
			log.Warn("Artifact probe failed, trusting webhook", "error", err)
		} else if !exists {
			log.Warn("Success webhook but final artifact missing, treating as failure")
			success = false
			out.ErrorMessage = "final artifact missing from bucket"
		}
	}

	// The clip write commits in its own transaction before the completion
	// check runs, so a concurrent notification counting clips can see it.
	// Counting inside the same transaction would let the final two
	// notifications each miss the other's uncommitted update and neither
	// would flip the pipeline.
	err := a.inTx(ctx, func(dbc dbctx.Context) error {
		a.recordRenderJob(dbc, out, success)
		return a.updateClip(dbc, out, success)
	})
	if err != nil {
		return err
	}

	completedNow, err := a.tryComplete(ctx, out.PipelineID, log)
	if err != nil {
		return err
	}
	if completedNow != nil {
		log.Info("Pipeline completed")
		a.publishCompleted(ctx, completedNow)
	}
	return nil
}

// tryComplete flips the pipeline terminal once every clip is finished. It is
// safe to call any number of times; the conditional transition makes the flip
// and the settlement exactly-once.
func (a *Aggregator) tryComplete(ctx context.Context, pipelineID uuid.UUID, log *logger.Logger) (*domain.Pipeline, error) {
	var completedNow *domain.Pipeline
	err := a.inTx(ctx, func(dbc dbctx.Context) error {
		p, err := a.pipelines.GetByID(dbc, pipelineID)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "completion: load pipeline", err)
		}
		if p == nil {
			log.Warn("Completion for unknown pipeline")
			return nil
		}
		if domain.PipelineStatusTerminal(p.Status) {
			// Duplicate or late signal for a finished pipeline; a no-op.
			log.Debug("Pipeline already terminal, ignoring")
			return nil
		}

		counts, err := a.clips.CountByStatus(dbc, p.ID)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "completion: count clips", err)
		}
		if !counts.AllFinished() {
			log.Debug("Pipeline not finished yet", "finished", counts.Finished(), "total", counts.Total)
			return nil
		}

		// batch-stage failures were persisted in failed_clips during phase 2;
		// render failures stack on top.
		won, err := a.pipelines.TransitionStatus(dbc, p.ID, domain.ActivePipelineStatuses, map[string]interface{}{
			"status":           domain.PipelineStatusCompleted,
			"successful_clips": int(counts.Completed),
			"failed_clips":     p.FailedClips + int(counts.Failed),
			"completed_at":     time.Now(),
		})
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "completion: flip pipeline", err)
		}
		if !won {
			log.Debug("Lost completion race")
			return nil
		}

		if err := a.settler.Settle(dbc, p, int(counts.Completed)); err != nil {
			return err
		}
		completedNow = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return completedNow, nil
}

// Reconcile re-runs the completion check for a pipeline waiting on render
// notifications. The render-queued tick calls it so a pipeline whose final
// notifications interleaved still reaches its terminal status. Returns true
// when this call performed the flip.
func (a *Aggregator) Reconcile(ctx context.Context, pipelineID uuid.UUID) (bool, error) {
	log := a.log.With("pipeline_id", pipelineID.String())
	completedNow, err := a.tryComplete(ctx, pipelineID, log)
	if err != nil {
		return false, err
	}
	if completedNow == nil {
		return false, nil
	}
	log.Info("Pipeline completed")
	a.publishCompleted(ctx, completedNow)
	return true, nil
}

// HandleRenderProgress records an intermediate progress report. Monotonicity
// is enforced by the conditional update, so stale reports are dropped.
func (a *Aggregator) HandleRenderProgress(ctx context.Context, renderID string, progress int) error {
	dbc := dbctx.Context{Ctx: ctx}
	if err := a.renderJobs.UpdateProgress(dbc, renderID, progress); err != nil {
		return apperr.Wrap(apperr.KindInternal, "completion: update progress", err)
	}
	return nil
}

func (a *Aggregator) recordRenderJob(dbc dbctx.Context, out RenderOutcome, success bool) {
	if out.RenderID == "" {
		return
	}
	job, err := a.renderJobs.GetByRenderID(dbc, out.RenderID)
	if err != nil || job == nil {
		if err != nil {
			a.log.Warn("Failed to load render job", "render_id", out.RenderID, "error", err)
		}
		return
	}
	status := domain.RenderJobStatusFailed
	updates := map[string]interface{}{
		"finished_at": time.Now(),
		"error":       out.ErrorMessage,
	}
	if success {
		status = domain.RenderJobStatusCompleted
		updates["progress"] = 100
		updates["output_key"] = out.OutputKey
		updates["error"] = ""
	}
	updates["status"] = status
	if _, err := a.renderJobs.UpdateFieldsUnlessStatus(dbc, job.ID,
		[]string{domain.RenderJobStatusCompleted, domain.RenderJobStatusFailed}, updates); err != nil {
		a.log.Warn("Failed to update render job", "render_id", out.RenderID, "error", err)
	}
}

func (a *Aggregator) updateClip(dbc dbctx.Context, out RenderOutcome, success bool) error {
	fromStatuses := []string{domain.ClipStatusPending, domain.ClipStatusQueued, domain.ClipStatusRendering}
	updates := map[string]interface{}{}
	if success {
		updates["status"] = domain.ClipStatusCompleted
		updates["final_video_key"] = out.OutputKey
	} else {
		updates["status"] = domain.ClipStatusFailed
		updates["error"] = out.ErrorMessage
	}
	ok, err := a.clips.TransitionStatus(dbc, out.ClipID, fromStatuses, updates)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "completion: update clip", err)
	}
	if !ok {
		// Already terminal; duplicates fall through to the completion check
		// so a crash between clip update and pipeline flip self-heals.
		a.log.Debug("Clip already terminal", "clip_id", out.ClipID.String())
	}
	return nil
}

func (a *Aggregator) publishCompleted(ctx context.Context, p *domain.Pipeline) {
	if a.progress == nil {
		return
	}
	ev := redisclients.ProgressEvent{
		PipelineID: p.ID.String(),
		UserID:     p.UserID.String(),
		Status:     domain.PipelineStatusCompleted,
	}
	if err := a.progress.Publish(ctx, ev); err != nil {
		a.log.Warn("Failed to publish completion event", "pipeline_id", p.ID.String(), "error", err)
	}
}
