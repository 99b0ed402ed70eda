// Package pipeline holds the orchestration core: the per-pipeline phase
// state machine, the batch fan-out controller, the completion aggregator
// and credit settlement.
package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/gateway"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

// BatchOutcome aggregates every batch's result. Every input candidate ends
// up in exactly one of the two lists.
type BatchOutcome struct {
	Processed []gateway.ProcessedClip
	Failed    []gateway.FailedClip
}

type Batcher struct {
	log           *logger.Logger
	client        gateway.BatchClient
	batchSize     int
	maxConcurrent int
}

func NewBatcher(log *logger.Logger, client gateway.BatchClient, batchSize, maxConcurrent int) *Batcher {
	if batchSize < 1 {
		batchSize = 1
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Batcher{
		log:           log.With("component", "Batcher"),
		client:        client,
		batchSize:     batchSize,
		maxConcurrent: maxConcurrent,
	}
}

// ProcessBatches partitions candidates into contiguous fixed-size batches
// and dispatches them with bounded concurrency. A failing batch contributes
// its candidates to Failed without aborting siblings, so the method itself
// never returns an error for upstream failures.
func (b *Batcher) ProcessBatches(ctx context.Context, jobID, downloadURL, fontFamily string, candidates []domain.Moment) BatchOutcome {
	if len(candidates) == 0 {
		return BatchOutcome{}
	}

	// Ordinal indices downstream refer to the candidate's position in the
	// full list, so the tag is assigned before partitioning.
	tagged := make([]domain.Moment, len(candidates))
	for i, m := range candidates {
		m.OriginalIndex = i
		tagged[i] = m
	}

	batches := partition(tagged, b.batchSize)
	results := make([]*gateway.BatchResult, len(batches))
	errs := make([]error, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.maxConcurrent)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			out, err := b.client.Run(gctx, gateway.BatchRequest{
				JobID:       jobID,
				BatchIndex:  i,
				DownloadURL: downloadURL,
				FontFamily:  fontFamily,
				Moments:     batch,
			})
			results[i] = out
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	var outcome BatchOutcome
	for i, batch := range batches {
		if err := errs[i]; err != nil {
			b.log.Warn("Batch failed", "job_id", jobID, "batch_index", i, "error", err)
			for _, m := range batch {
				outcome.Failed = append(outcome.Failed, gateway.FailedClip{
					OriginalIndex: m.OriginalIndex,
					Title:         m.Title,
					Reason:        err.Error(),
				})
			}
			continue
		}
		outcome.Processed = append(outcome.Processed, results[i].ProcessedClips...)
		outcome.Failed = append(outcome.Failed, results[i].FailedClips...)
	}
	return outcome
}

func partition(moments []domain.Moment, size int) [][]domain.Moment {
	var out [][]domain.Moment
	for start := 0; start < len(moments); start += size {
		end := start + size
		if end > len(moments) {
			end = len(moments)
		}
		out = append(out, moments[start:end])
	}
	return out
}
