package pipeline

import (
	"context"
	"sync"
	"testing"

	redisclients "github.com/viralcut/viralcut-backend/internal/clients/redis"
	"github.com/viralcut/viralcut-backend/internal/config"
	"github.com/viralcut/viralcut-backend/internal/data/repos/repostest"
	"github.com/viralcut/viralcut-backend/internal/gateway"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

type fakeResolver struct {
	mu    sync.Mutex
	res   *gateway.Resolution
	err   error
	calls int
}

func (f *fakeResolver) Resolve(ctx context.Context, sourceURL string) (*gateway.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

// fakeAnalysis replays a scripted error sequence before succeeding, which is
// how the single-retry policy gets exercised.
type fakeAnalysis struct {
	mu    sync.Mutex
	out   *gateway.AnalysisResult
	errs  []error
	calls int
}

func (f *fakeAnalysis) Run(ctx context.Context, req gateway.AnalysisRequest) (*gateway.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.out, nil
}

type fakeBatch struct {
	mu        sync.Mutex
	fn        func(req gateway.BatchRequest) (*gateway.BatchResult, error)
	requests  []gateway.BatchRequest
	active    int
	maxActive int
}

func (f *fakeBatch) Run(ctx context.Context, req gateway.BatchRequest) (*gateway.BatchResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	fn := f.fn
	f.mu.Unlock()

	out, err := fn(req)

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return out, err
}

func echoBatch(req gateway.BatchRequest) (*gateway.BatchResult, error) {
	var processed []gateway.ProcessedClip
	for _, m := range req.Moments {
		processed = append(processed, gateway.ProcessedClip{
			OriginalIndex:   m.OriginalIndex,
			Title:           m.Title,
			StartSeconds:    m.StartSeconds,
			EndSeconds:      m.EndSeconds,
			DurationSeconds: m.EndSeconds - m.StartSeconds,
			RawVideoKey:     "raw/" + m.Title + ".mp4",
			CaptionsKey:     "captions/" + m.Title + ".srt",
		})
	}
	return &gateway.BatchResult{ProcessedClips: processed, ClipsProcessed: len(processed)}, nil
}

type fakeQueue struct {
	mu    sync.Mutex
	specs []redisclients.RenderSpec
	err   error
}

func (q *fakeQueue) Enqueue(ctx context.Context, spec redisclients.RenderSpec) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.specs = append(q.specs, spec)
	return nil
}

func (q *fakeQueue) Close() error { return nil }

type fakeBus struct {
	mu     sync.Mutex
	events []redisclients.ProgressEvent
}

func (b *fakeBus) Publish(ctx context.Context, ev redisclients.ProgressEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *fakeBus) StartForwarder(ctx context.Context, onEvent func(ev redisclients.ProgressEvent)) error {
	return nil
}

func (b *fakeBus) Close() error { return nil }

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func testOrchestratorLimits() config.Limits {
	return config.Limits{
		DailyRequestsPerUser:   10,
		ConcurrentPerUser:      2,
		GlobalActivePipelines:  20,
		BatchSize:              3,
		MaxConcurrentBatches:   2,
		MaxPhaseRetries:        1,
		ResolvePollSeconds:     1,
		ResolveTimeoutMinutes:  1,
		AnalysisTimeoutMinutes: 1,
		BatchTimeoutMinutes:    1,
		RenderTimeoutMinutes:   1,
	}
}

type orchestratorEnv struct {
	store      *repostest.Store
	resolver   *fakeResolver
	analysis   *fakeAnalysis
	batch      *fakeBatch
	queue      *fakeQueue
	bus        *fakeBus
	orch       *Orchestrator
	aggregator *Aggregator
}

func newOrchestratorEnv(t *testing.T) *orchestratorEnv {
	t.Helper()
	log := testLog(t)
	store := repostest.NewStore()
	limits := testOrchestratorLimits()

	resolver := &fakeResolver{res: &gateway.Resolution{
		DownloadURL: "https://cdn/video.mp4",
		MediaID:     "media-1",
		Title:       "Source Video",
	}}
	analysis := &fakeAnalysis{out: &gateway.AnalysisResult{
		RunID:       "run-1",
		Performance: gateway.AnalysisPerformance{AnalysisSeconds: 30, CostCents: 9},
	}}
	batch := &fakeBatch{fn: echoBatch}
	queue := &fakeQueue{}
	bus := &fakeBus{}

	settler := NewSettler(log, store.PipelineRepo(), store.UserRepo(), store.CreditLedgerRepo())
	aggregator := NewAggregator(AggregatorConfig{
		Log:        log,
		Pipelines:  store.PipelineRepo(),
		Clips:      store.ClipRepo(),
		RenderJobs: store.RenderJobRepo(),
		Settler:    settler,
		Progress:   bus,
	})
	orch := NewOrchestrator(OrchestratorConfig{
		Log:            log,
		Pipelines:      store.PipelineRepo(),
		Clips:          store.ClipRepo(),
		RenderJobs:     store.RenderJobRepo(),
		Users:          store.UserRepo(),
		Resolver:       resolver,
		Analysis:       analysis,
		Batcher:        NewBatcher(log, batch, limits.BatchSize, limits.MaxConcurrentBatches),
		Queue:          queue,
		Progress:       bus,
		Completion:     aggregator,
		Limits:         limits,
		WebhookBaseURL: "https://api.viralcut.test",
	})

	return &orchestratorEnv{
		store:      store,
		resolver:   resolver,
		analysis:   analysis,
		batch:      batch,
		queue:      queue,
		bus:        bus,
		orch:       orch,
		aggregator: aggregator,
	}
}
