// Package temporalworker hosts the worker process side of the pipeline
// plane: the tick workflow, its activity, and the stuck-pipeline reaper.
package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/viralcut/viralcut-backend/internal/data/repos"
	"github.com/viralcut/viralcut-backend/internal/pipeline"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
	"github.com/viralcut/viralcut-backend/internal/temporalx"
	"github.com/viralcut/viralcut-backend/internal/temporalx/pipelinerun"
	"github.com/viralcut/viralcut-backend/internal/utils"
)

type Runner struct {
	log *logger.Logger

	tc           temporalsdkclient.Client
	orchestrator *pipeline.Orchestrator
	pipelines    repos.PipelineRepo
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, orchestrator *pipeline.Orchestrator, pipelines repos.PipelineRepo) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if orchestrator == nil || pipelines == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	return &Runner{log: log, tc: tc, orchestrator: orchestrator, pipelines: pipelines}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.tc == nil {
		return fmt.Errorf("temporal worker not initialized")
	}

	cfg := temporalx.LoadConfig()
	r.log.Info("Starting Temporal worker", "address", cfg.Address, "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)

	maxWait := utils.GetEnvAsDuration("TEMPORAL_WORKER_START_MAX_WAIT", time.Minute, r.log)
	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.startReaper(ctx)
			r.log.Info("Temporal worker started", "task_queue", cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		if errors.As(startErr, &nfe) {
			if err := temporalx.EnsureNamespace(ctx, cfg, r.log); err != nil {
				r.log.Warn("Temporal namespace ensure failed", "namespace", cfg.Namespace, "error", err)
			}
		}

		if maxWait <= 0 || time.Now().After(deadline) {
			if errors.As(startErr, &nfe) {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
			}
			return startErr
		}

		r.log.Warn("Temporal worker failed to start; retrying", "attempt", attempt, "error", startErr)
		time.Sleep(backoffFor(attempt))
	}
}

func (r *Runner) newWorker() worker.Worker {
	cfg := temporalx.LoadConfig()

	concurrency := utils.GetEnvAsInt("WORKER_CONCURRENCY", 4, r.log)
	if concurrency < 1 {
		concurrency = 1
	}

	w := worker.New(r.tc, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})

	acts := &pipelinerun.Activities{
		Log:          r.log,
		Orchestrator: r.orchestrator,
		Pipelines:    r.pipelines,
	}
	w.RegisterWorkflowWithOptions(pipelinerun.Workflow, workflow.RegisterOptions{Name: pipelinerun.WorkflowName})
	w.RegisterActivityWithOptions(acts.Tick, activity.RegisterOptions{Name: pipelinerun.ActivityTick})
	return w
}

// startReaper periodically times out pipelines whose workflow died between
// ticks. Harmless to run on every worker; the transition is a compare-and-set.
func (r *Runner) startReaper(ctx context.Context) {
	interval := utils.GetEnvAsDuration("REAPER_INTERVAL", time.Minute, r.log)
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n, err := r.orchestrator.ReapStuck(ctx); err != nil {
					r.log.Warn("Reaper pass failed", "error", err)
				} else if n > 0 {
					r.log.Info("Reaper pass finished", "reaped", n)
				}
			}
		}
	}()
}

func backoffFor(attempt int) time.Duration {
	sleep := 250 * time.Millisecond
	for i := 1; i < attempt; i++ {
		sleep *= 2
		if sleep >= 5*time.Second {
			return 5 * time.Second
		}
	}
	return sleep
}
