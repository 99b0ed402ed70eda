package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/viralcut/viralcut-backend/internal/data/repos"
	"github.com/viralcut/viralcut-backend/internal/data/repos/testutil"
	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
)

// Exercises the transactional aggregation path against a real database,
// where a concurrent notification's clip update is invisible until its
// transaction commits. Runs only when TEST_POSTGRES_DSN is set; the rows
// are created outside a wrapping transaction and cleaned up afterwards.
func TestConcurrentWebhooksCompleteOnce(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}

	users := repos.NewUserRepo(db, log)
	pipelines := repos.NewPipelineRepo(db, log)
	clips := repos.NewClipRepo(db, log)
	renderJobs := repos.NewRenderJobRepo(db, log)
	ledger := repos.NewCreditLedgerRepo(db, log)

	u := &domain.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Password: "pw", Credits: 10}
	if err := users.Create(dbc, u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	p := &domain.Pipeline{
		ID:        uuid.New(),
		UserID:    u.ID,
		SourceURL: "https://youtube.com/watch?v=abc",
		Status:    domain.PipelineStatusRenderQueued,
		Moments:   datatypes.JSON([]byte("[]")),
	}
	if err := pipelines.Create(dbc, p); err != nil {
		t.Fatalf("seed pipeline: %v", err)
	}
	rows := []*domain.Clip{
		{ID: uuid.New(), PipelineID: p.ID, Idx: 0, Title: "hook", StartSeconds: 0, EndSeconds: 30, DurationSeconds: 30, Status: domain.ClipStatusQueued},
		{ID: uuid.New(), PipelineID: p.ID, Idx: 1, Title: "payoff", StartSeconds: 40, EndSeconds: 75, DurationSeconds: 35, Status: domain.ClipStatusQueued},
	}
	if err := clips.CreateMany(dbc, rows); err != nil {
		t.Fatalf("seed clips: %v", err)
	}
	t.Cleanup(func() {
		db.Unscoped().Where("user_id = ?", u.ID).Delete(&domain.CreditLedger{})
		db.Unscoped().Where("pipeline_id = ?", p.ID).Delete(&domain.Clip{})
		db.Unscoped().Where("id = ?", p.ID).Delete(&domain.Pipeline{})
		db.Unscoped().Where("id = ?", u.ID).Delete(&domain.User{})
	})

	agg := NewAggregator(AggregatorConfig{
		Log:        log,
		DB:         db,
		Pipelines:  pipelines,
		Clips:      clips,
		RenderJobs: renderJobs,
		Settler:    NewSettler(log, pipelines, users, ledger),
	})

	// Both final notifications in flight at once.
	var wg sync.WaitGroup
	errs := make(chan error, len(rows))
	for _, c := range rows {
		wg.Add(1)
		go func(c *domain.Clip) {
			defer wg.Done()
			errs <- agg.HandleRenderOutcome(ctx, RenderOutcome{
				Type:       RenderOutcomeSuccess,
				RenderID:   "render-" + c.ID.String(),
				ClipID:     c.ID,
				PipelineID: p.ID,
				OutputKey:  "final/" + c.ID.String() + ".mp4",
			})
		}(c)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("HandleRenderOutcome: %v", err)
		}
	}

	final, err := pipelines.GetByID(dbc, p.ID)
	if err != nil || final == nil {
		t.Fatalf("load pipeline: %v", err)
	}
	if final.Status != domain.PipelineStatusCompleted || final.SuccessfulClips != 2 {
		t.Fatalf("final pipeline: status=%q successful=%d", final.Status, final.SuccessfulClips)
	}
	if !final.CreditsSettled {
		t.Fatalf("pipeline completed but never settled")
	}

	billed, err := users.GetByID(dbc, u.ID)
	if err != nil || billed == nil {
		t.Fatalf("load user: %v", err)
	}
	if billed.Credits != 8 {
		t.Fatalf("expected 10-2=8 credits, got %d", billed.Credits)
	}
	entries, err := ledger.ListByUser(dbc, u.ID, 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %d", len(entries))
	}
}
