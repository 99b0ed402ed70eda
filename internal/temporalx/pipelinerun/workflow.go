package pipelinerun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Workflow drives one pipeline to a terminal status by looping a single
// tick activity. All domain state lives in the database; the workflow only
// carries the loop, so continue-as-new loses nothing.
func Workflow(ctx workflow.Context) error {
	wfID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	pipelineID := strings.TrimPrefix(wfID, WorkflowIDPrefix)
	if pipelineID == "" {
		return fmt.Errorf("pipelinerun: missing pipeline id")
	}

	const (
		defaultPollInterval  = 2 * time.Second
		maxPollInterval      = 5 * time.Minute
		continueTickLimit    = 2000
		continueHistoryLimit = 15000
	)

	// Ticks are idempotent against the persisted row, so a retried activity
	// is safe; phase retries stay with the orchestrator. Attempts are bounded
	// so a tick that always fails surfaces as a workflow failure instead of
	// retrying on the server default forever.
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Hour,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	})

	tickCount := 0
	for {
		tickCount++
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, pipelineID).Get(ctx, &out); err != nil {
			return err
		}
		if out.Done {
			return nil
		}

		wait := defaultPollInterval
		if out.WaitSeconds > 0 {
			wait = time.Duration(out.WaitSeconds) * time.Second
			if wait > maxPollInterval {
				wait = maxPollInterval
			}
		}
		if err := workflow.Sleep(ctx, wait); err != nil {
			return err
		}

		if shouldContinueAsNew(ctx, tickCount, continueTickLimit, continueHistoryLimit) {
			return workflow.NewContinueAsNewError(ctx, Workflow)
		}
	}
}

func shouldContinueAsNew(ctx workflow.Context, ticks, maxTicks, maxHistory int) bool {
	if maxTicks > 0 && ticks >= maxTicks {
		return true
	}
	info := workflow.GetInfo(ctx)
	if info == nil || maxHistory <= 0 {
		return false
	}
	return info.GetCurrentHistoryLength() >= maxHistory
}
