package pipelinerun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/viralcut/viralcut-backend/internal/data/repos"
	"github.com/viralcut/viralcut-backend/internal/pipeline"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

type Activities struct {
	Log          *logger.Logger
	Orchestrator *pipeline.Orchestrator
	Pipelines    repos.PipelineRepo
}

// Tick advances the pipeline by at most one phase. Long phases heartbeat so
// a dead worker is detected and the tick re-dispatched.
func (a *Activities) Tick(ctx context.Context, pipelineID string) (TickResult, error) {
	res := TickResult{PipelineID: strings.TrimSpace(pipelineID)}
	if a == nil || a.Orchestrator == nil || a.Pipelines == nil {
		return res, fmt.Errorf("pipelinerun: activity not configured")
	}

	id, err := uuid.Parse(res.PipelineID)
	if err != nil || id == uuid.Nil {
		return res, fmt.Errorf("pipelinerun: invalid pipeline id")
	}

	stopHB := startHeartbeat(ctx)
	defer stopHB()

	tick, err := a.Orchestrator.Tick(ctx, id)
	if err != nil {
		return res, err
	}

	if p, perr := a.Pipelines.GetByID(dbctx.Context{Ctx: ctx}, id); perr == nil && p != nil {
		res.Status = p.Status
	}
	res.Done = tick.Done
	res.WaitSeconds = int(tick.WaitFor / time.Second)
	return res, nil
}

func startHeartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		hb := time.NewTicker(10 * time.Second)
		defer hb.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-hb.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
