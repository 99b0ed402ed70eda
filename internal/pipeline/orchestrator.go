package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	redisclients "github.com/viralcut/viralcut-backend/internal/clients/redis"
	"github.com/viralcut/viralcut-backend/internal/config"
	"github.com/viralcut/viralcut-backend/internal/data/repos"
	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/gateway"
	"github.com/viralcut/viralcut-backend/internal/pkg/apperr"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

// Phase names recorded on the pipeline row when a phase fails.
const (
	PhaseResolveAnalyze = "resolve_analyze"
	PhaseBatchProcess   = "batch_process"
	PhaseRenderDispatch = "render_dispatch"
	PhaseSettle         = "settle"
)

// TickResult tells the caller what to do after one advancement attempt.
// Done means the pipeline reached a terminal status. WaitFor asks the
// caller to sleep before ticking again; zero means tick again immediately.
type TickResult struct {
	Done    bool
	WaitFor time.Duration
}

type OrchestratorConfig struct {
	Log        *logger.Logger
	DB         *gorm.DB
	Pipelines  repos.PipelineRepo
	Clips      repos.ClipRepo
	RenderJobs repos.RenderJobRepo
	Users      repos.UserRepo

	Resolver gateway.ResolverClient
	Analysis gateway.AnalysisClient
	Batcher  *Batcher
	Queue    redisclients.RenderQueue
	Progress redisclients.ProgressBus

	// Completion re-checks webhook-driven aggregation from the render-queued
	// tick; see Aggregator.Reconcile.
	Completion *Aggregator

	Limits config.Limits

	// WebhookBaseURL is the public base of this service; the render farm
	// posts completion callbacks to it.
	WebhookBaseURL string
}

// Orchestrator advances one pipeline one phase at a time. It keeps no state
// between ticks; the pipeline row is the only source of truth, so any worker
// can pick up any tick.
type Orchestrator struct {
	log        *logger.Logger
	db         *gorm.DB
	pipelines  repos.PipelineRepo
	clips      repos.ClipRepo
	renderJobs repos.RenderJobRepo
	users      repos.UserRepo
	resolver   gateway.ResolverClient
	analysis   gateway.AnalysisClient
	batcher    *Batcher
	queue      redisclients.RenderQueue
	progress   redisclients.ProgressBus
	completion *Aggregator
	limits     config.Limits
	webhookURL string
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		log:        cfg.Log.With("component", "Orchestrator"),
		db:         cfg.DB,
		pipelines:  cfg.Pipelines,
		clips:      cfg.Clips,
		renderJobs: cfg.RenderJobs,
		users:      cfg.Users,
		resolver:   cfg.Resolver,
		analysis:   cfg.Analysis,
		batcher:    cfg.Batcher,
		queue:      cfg.Queue,
		progress:   cfg.Progress,
		completion: cfg.Completion,
		limits:     cfg.Limits,
		webhookURL: cfg.WebhookBaseURL,
	}
}

// Tick advances the pipeline by at most one phase. It is safe to call
// repeatedly and concurrently: every transition is a conditional update, so
// a tick that lost the race degrades to a no-op.
func (o *Orchestrator) Tick(ctx context.Context, pipelineID uuid.UUID) (TickResult, error) {
	dbc := dbctx.Context{Ctx: ctx}

	p, err := o.pipelines.GetByID(dbc, pipelineID)
	if err != nil {
		return TickResult{}, apperr.Wrap(apperr.KindInternal, "tick: load pipeline", err)
	}
	if p == nil {
		return TickResult{}, apperr.New(apperr.KindNotFound, "pipeline not found")
	}
	if domain.PipelineStatusTerminal(p.Status) {
		return TickResult{Done: true}, nil
	}

	log := o.log.With("pipeline_id", p.ID.String(), "status", p.Status)

	switch p.Status {
	case domain.PipelineStatusPending:
		if err := o.runResolveAnalyze(ctx, p); err != nil {
			return TickResult{}, err
		}
		return TickResult{}, nil

	case domain.PipelineStatusProcessing:
		// A worker died mid phase 1; the step is idempotent, run it again.
		if err := o.execResolveAnalyze(ctx, p); err != nil {
			return TickResult{}, err
		}
		return TickResult{}, nil

	case domain.PipelineStatusAnalysisDone:
		if err := o.runBatchPhase(ctx, p); err != nil {
			return TickResult{}, err
		}
		return TickResult{}, nil

	case domain.PipelineStatusBatchRunning:
		if err := o.execBatchPhase(ctx, p); err != nil {
			return TickResult{}, err
		}
		return TickResult{}, nil

	case domain.PipelineStatusBatchDone:
		if err := o.runRenderDispatch(ctx, p); err != nil {
			return TickResult{}, err
		}
		return TickResult{}, nil

	case domain.PipelineStatusRendering:
		if err := o.execRenderDispatch(ctx, p); err != nil {
			return TickResult{}, err
		}
		return TickResult{}, nil

	case domain.PipelineStatusRenderQueued:
		// Waiting on webhook-driven completion. Re-run the completion check
		// first: it catches a pipeline whose final notifications raced each
		// other, each committing after the other's count.
		if o.completion != nil {
			done, err := o.completion.Reconcile(ctx, p.ID)
			if err != nil {
				log.Warn("Completion recheck failed", "error", err)
			} else if done {
				return TickResult{Done: true}, nil
			}
		}
		if o.renderDeadlineExceeded(p) {
			log.Warn("Render deadline exceeded, marking timeout")
			o.exitTimeout(dbc, p, PhaseRenderDispatch, "render deadline exceeded")
			return TickResult{Done: true}, nil
		}
		return TickResult{WaitFor: 30 * time.Second}, nil
	}

	log.Warn("Tick saw unknown status")
	return TickResult{WaitFor: time.Minute}, nil
}

func (o *Orchestrator) renderDeadlineExceeded(p *domain.Pipeline) bool {
	if p.Phase3StartedAt == nil {
		return false
	}
	return time.Since(*p.Phase3StartedAt) > o.limits.RenderTimeout()
}

// failPhase applies the retry policy to a phase failure. Transient upstream
// failures get at most one automatic retry; everything else is terminal.
// Returns true when the pipeline reached a terminal status.
func (o *Orchestrator) failPhase(dbc dbctx.Context, p *domain.Pipeline, phase string, err error) bool {
	log := o.log.With("pipeline_id", p.ID.String(), "phase", phase)

	if apperr.Retriable(err) && p.RetryCount < o.limits.MaxPhaseRetries {
		log.Warn("Phase failed, will retry", "error", err, "retry", p.RetryCount+1)
		if uerr := o.pipelines.UpdateFields(dbc, p.ID, map[string]interface{}{
			"retry_count": p.RetryCount + 1,
		}); uerr != nil {
			log.Error("Failed to bump retry count", "error", uerr)
		}
		return false
	}

	status := domain.PipelineStatusFailed
	if apperr.IsTimeout(err) {
		status = domain.PipelineStatusTimeout
	}
	log.Warn("Phase failed terminally", "error", err, "terminal_status", status)

	ok, terr := o.pipelines.TransitionStatus(dbc, p.ID, domain.ActivePipelineStatuses, map[string]interface{}{
		"status":      status,
		"error":       err.Error(),
		"error_phase": phase,
	})
	if terr != nil {
		log.Error("Failed to persist terminal status", "error", terr)
		return true
	}
	if ok {
		o.publishProgress(dbc.Ctx, p, status, phase, err.Error())
	}
	return true
}

func (o *Orchestrator) exitTimeout(dbc dbctx.Context, p *domain.Pipeline, phase, msg string) {
	ok, err := o.pipelines.TransitionStatus(dbc, p.ID, domain.ActivePipelineStatuses, map[string]interface{}{
		"status":      domain.PipelineStatusTimeout,
		"error":       msg,
		"error_phase": phase,
	})
	if err != nil {
		o.log.Error("Failed to mark timeout", "pipeline_id", p.ID.String(), "error", err)
		return
	}
	if ok {
		o.publishProgress(dbc.Ctx, p, domain.PipelineStatusTimeout, phase, msg)
	}
}

func (o *Orchestrator) publishProgress(ctx context.Context, p *domain.Pipeline, status, phase, msg string) {
	if o.progress == nil {
		return
	}
	ev := redisclients.ProgressEvent{
		PipelineID: p.ID.String(),
		UserID:     p.UserID.String(),
		Status:     status,
		Phase:      phase,
		Message:    msg,
	}
	if err := o.progress.Publish(ctx, ev); err != nil {
		o.log.Warn("Failed to publish progress event", "pipeline_id", p.ID.String(), "error", err)
	}
}

// ReapStuck marks pipelines that sat in an in-flight status past their phase
// deadline as timed out. Run periodically by the worker; it is the safety
// net for pipelines whose workflow died.
func (o *Orchestrator) ReapStuck(ctx context.Context) (int, error) {
	dbc := dbctx.Context{Ctx: ctx}
	reaped := 0

	windows := []struct {
		statuses []string
		phase    string
		deadline time.Duration
	}{
		{[]string{domain.PipelineStatusPending, domain.PipelineStatusProcessing}, PhaseResolveAnalyze, o.limits.ResolveTimeout() + o.limits.AnalysisTimeout()},
		{[]string{domain.PipelineStatusAnalysisDone, domain.PipelineStatusBatchRunning}, PhaseBatchProcess, o.limits.BatchTimeout()},
		{[]string{domain.PipelineStatusBatchDone, domain.PipelineStatusRendering, domain.PipelineStatusRenderQueued}, PhaseRenderDispatch, o.limits.RenderTimeout()},
	}

	for _, w := range windows {
		stuck, err := o.pipelines.ListStuckSince(dbc, w.statuses, time.Now().Add(-w.deadline))
		if err != nil {
			return reaped, apperr.Wrap(apperr.KindInternal, "reap: list stuck pipelines", err)
		}
		for _, p := range stuck {
			ok, err := o.pipelines.TransitionStatus(dbc, p.ID, w.statuses, map[string]interface{}{
				"status":      domain.PipelineStatusTimeout,
				"error":       "phase deadline exceeded",
				"error_phase": w.phase,
			})
			if err != nil {
				o.log.Error("Reap transition failed", "pipeline_id", p.ID.String(), "error", err)
				continue
			}
			if ok {
				reaped++
				o.log.Warn("Reaped stuck pipeline", "pipeline_id", p.ID.String(), "phase", w.phase)
				o.publishProgress(ctx, p, domain.PipelineStatusTimeout, w.phase, "phase deadline exceeded")
			}
		}
	}
	return reaped, nil
}
