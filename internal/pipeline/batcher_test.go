package pipeline

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/gateway"
)

func moments(n int) []domain.Moment {
	out := make([]domain.Moment, n)
	for i := range out {
		out[i] = domain.Moment{
			Title:        fmt.Sprintf("moment-%d", i),
			StartSeconds: float64(i * 30),
			EndSeconds:   float64(i*30 + 25),
		}
	}
	return out
}

func TestProcessBatchesEmpty(t *testing.T) {
	fb := &fakeBatch{fn: echoBatch}
	b := NewBatcher(testLog(t), fb, 3, 2)

	out := b.ProcessBatches(context.Background(), "job", "https://cdn/v.mp4", "", nil)
	if len(out.Processed) != 0 || len(out.Failed) != 0 {
		t.Fatalf("expected empty outcome, got %+v", out)
	}
	if len(fb.requests) != 0 {
		t.Fatalf("expected no upstream calls, got %d", len(fb.requests))
	}
}

func TestProcessBatchesPartitioning(t *testing.T) {
	fb := &fakeBatch{fn: echoBatch}
	b := NewBatcher(testLog(t), fb, 3, 2)

	out := b.ProcessBatches(context.Background(), "job", "https://cdn/v.mp4", "", moments(7))
	if len(out.Processed) != 7 || len(out.Failed) != 0 {
		t.Fatalf("expected 7 processed, got %d processed %d failed", len(out.Processed), len(out.Failed))
	}

	// 7 candidates at size 3 make batches of 3, 3, 1.
	if len(fb.requests) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(fb.requests))
	}
	sizes := map[int]int{}
	for _, req := range fb.requests {
		sizes[len(req.Moments)]++
	}
	if sizes[3] != 2 || sizes[1] != 1 {
		t.Fatalf("unexpected batch sizes: %v", sizes)
	}

	// Original indices cover 0..6 exactly once regardless of batch layout.
	var indices []int
	for _, pc := range out.Processed {
		indices = append(indices, pc.OriginalIndex)
	}
	sort.Ints(indices)
	for i, idx := range indices {
		if idx != i {
			t.Fatalf("original indices not preserved: %v", indices)
		}
	}
}

func TestProcessBatchesIsolation(t *testing.T) {
	// Batch 1 (the middle one) fails; its three candidates land in Failed
	// while both siblings still deliver.
	fb := &fakeBatch{}
	fb.fn = func(req gateway.BatchRequest) (*gateway.BatchResult, error) {
		if req.BatchIndex == 1 {
			return nil, fmt.Errorf("upstream exploded")
		}
		return echoBatch(req)
	}
	b := NewBatcher(testLog(t), fb, 3, 2)

	out := b.ProcessBatches(context.Background(), "job", "https://cdn/v.mp4", "", moments(9))
	if len(out.Processed) != 6 {
		t.Fatalf("expected 6 processed, got %d", len(out.Processed))
	}
	if len(out.Failed) != 3 {
		t.Fatalf("expected 3 failed, got %d", len(out.Failed))
	}
	if got := len(out.Processed) + len(out.Failed); got != 9 {
		t.Fatalf("candidates in != candidates out: %d", got)
	}
	for _, fc := range out.Failed {
		if fc.OriginalIndex < 3 || fc.OriginalIndex > 5 {
			t.Fatalf("failed candidate from wrong batch: %+v", fc)
		}
	}
}

func TestProcessBatchesConcurrencyCap(t *testing.T) {
	fb := &fakeBatch{}
	fb.fn = func(req gateway.BatchRequest) (*gateway.BatchResult, error) {
		time.Sleep(20 * time.Millisecond)
		return echoBatch(req)
	}
	b := NewBatcher(testLog(t), fb, 1, 2)

	b.ProcessBatches(context.Background(), "job", "https://cdn/v.mp4", "", moments(6))
	if fb.maxActive > 2 {
		t.Fatalf("concurrency cap exceeded: %d", fb.maxActive)
	}
	if len(fb.requests) != 6 {
		t.Fatalf("expected 6 batches, got %d", len(fb.requests))
	}
}
