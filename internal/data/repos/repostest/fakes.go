// Package repostest provides in-memory implementations of the repo
// interfaces with the same conditional-update semantics as the Postgres
// versions, so orchestration logic can be tested without a database.
package repostest

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/viralcut/viralcut-backend/internal/data/repos"
	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
)

type Store struct {
	mu         sync.Mutex
	Users      map[uuid.UUID]*domain.User
	Pipelines  map[uuid.UUID]*domain.Pipeline
	Clips      map[uuid.UUID]*domain.Clip
	RenderJobs map[uuid.UUID]*domain.RenderJob
	Ledger     []*domain.CreditLedger
}

func NewStore() *Store {
	return &Store{
		Users:      map[uuid.UUID]*domain.User{},
		Pipelines:  map[uuid.UUID]*domain.Pipeline{},
		Clips:      map[uuid.UUID]*domain.Clip{},
		RenderJobs: map[uuid.UUID]*domain.RenderJob{},
	}
}

func (s *Store) UserRepo() repos.UserRepo                 { return &userRepo{s} }
func (s *Store) PipelineRepo() repos.PipelineRepo         { return &pipelineRepo{s} }
func (s *Store) ClipRepo() repos.ClipRepo                 { return &clipRepo{s} }
func (s *Store) RenderJobRepo() repos.RenderJobRepo       { return &renderJobRepo{s} }
func (s *Store) CreditLedgerRepo() repos.CreditLedgerRepo { return &ledgerRepo{s} }

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func asInt(v interface{}) int {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	}
	return 0
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asBool(v interface{}) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return false
}

func asTimePtr(v interface{}) *time.Time {
	switch x := v.(type) {
	case *time.Time:
		return x
	case time.Time:
		return &x
	}
	return nil
}

// ---- users ----

type userRepo struct{ s *Store }

func (r *userRepo) Create(dbc dbctx.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *u
	r.s.Users[u.ID] = &cp
	return nil
}

func (r *userRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.Users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *userRepo) GetByEmail(dbc dbctx.Context, email string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.Users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *userRepo) IncrementDailyRequests(dbc dbctx.Context, id uuid.UUID, limit int, windowStart time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.Users[id]
	if !ok {
		return false, nil
	}
	if u.DailyWindowAt == nil || u.DailyWindowAt.Before(windowStart) {
		w := windowStart
		u.DailyWindowAt = &w
		u.DailyRequests = 1
		return true, nil
	}
	if u.DailyRequests < limit {
		u.DailyRequests++
		return true, nil
	}
	return false, nil
}

func (r *userRepo) DeductCredits(dbc dbctx.Context, id uuid.UUID, amount int) (int, int, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.Users[id]
	if !ok || u.Credits < amount {
		return 0, 0, false, nil
	}
	old := u.Credits
	u.Credits -= amount
	return old, u.Credits, true, nil
}

func (r *userRepo) AddCredits(dbc dbctx.Context, id uuid.UUID, amount int) (int, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.Users[id]
	if !ok {
		return 0, 0, nil
	}
	old := u.Credits
	u.Credits += amount
	return old, u.Credits, nil
}

// ---- pipelines ----

type pipelineRepo struct{ s *Store }

func (r *pipelineRepo) Create(dbc dbctx.Context, p *domain.Pipeline) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *p
	r.s.Pipelines[p.ID] = &cp
	return nil
}

func (r *pipelineRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Pipeline, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.Pipelines[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *pipelineRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*domain.Pipeline, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Pipeline
	for _, p := range r.s.Pipelines {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *pipelineRepo) CountActiveByUser(dbc dbctx.Context, userID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, p := range r.s.Pipelines {
		if p.UserID == userID && contains(domain.ActivePipelineStatuses, p.Status) {
			n++
		}
	}
	return n, nil
}

func (r *pipelineRepo) CountActive(dbc dbctx.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, p := range r.s.Pipelines {
		if contains(domain.ActivePipelineStatuses, p.Status) {
			n++
		}
	}
	return n, nil
}

func (r *pipelineRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p, ok := r.s.Pipelines[id]; ok {
		applyPipelineUpdates(p, updates)
	}
	return nil
}

func (r *pipelineRepo) TransitionStatus(dbc dbctx.Context, id uuid.UUID, fromStatuses []string, updates map[string]interface{}) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.Pipelines[id]
	if !ok || !contains(fromStatuses, p.Status) {
		return false, nil
	}
	applyPipelineUpdates(p, updates)
	return true, nil
}

func (r *pipelineRepo) MarkSettled(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.Pipelines[id]
	if !ok || p.CreditsSettled {
		return false, nil
	}
	p.CreditsSettled = true
	return true, nil
}

func (r *pipelineRepo) ListStuckSince(dbc dbctx.Context, statuses []string, startedBefore time.Time) ([]*domain.Pipeline, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Pipeline
	for _, p := range r.s.Pipelines {
		if contains(statuses, p.Status) && p.UpdatedAt.Before(startedBefore) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func applyPipelineUpdates(p *domain.Pipeline, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			p.Status = asString(v)
		case "error":
			p.Error = asString(v)
		case "error_phase":
			p.ErrorPhase = asString(v)
		case "retry_count":
			p.RetryCount = asInt(v)
		case "video_title":
			p.VideoTitle = asString(v)
		case "media_id":
			p.MediaID = asString(v)
		case "download_url":
			p.DownloadURL = asString(v)
		case "moments":
			if raw, ok := v.(datatypes.JSON); ok {
				p.Moments = raw
			} else if raw, ok := v.([]byte); ok {
				p.Moments = datatypes.JSON(raw)
			}
		case "total_clips":
			p.TotalClips = asInt(v)
		case "successful_clips":
			p.SuccessfulClips = asInt(v)
		case "failed_clips":
			p.FailedClips = asInt(v)
		case "cost_cents":
			p.CostCents = asInt(v)
		case "analysis_seconds":
			p.AnalysisSeconds = asInt(v)
		case "credits_settled":
			p.CreditsSettled = asBool(v)
		case "phase1_started_at":
			p.Phase1StartedAt = asTimePtr(v)
		case "phase1_completed_at":
			p.Phase1CompletedAt = asTimePtr(v)
		case "phase2_started_at":
			p.Phase2StartedAt = asTimePtr(v)
		case "phase2_completed_at":
			p.Phase2CompletedAt = asTimePtr(v)
		case "phase3_started_at":
			p.Phase3StartedAt = asTimePtr(v)
		case "completed_at":
			p.CompletedAt = asTimePtr(v)
		case "updated_at":
			if t := asTimePtr(v); t != nil {
				p.UpdatedAt = *t
			}
		}
	}
}

// ---- clips ----

type clipRepo struct{ s *Store }

func (r *clipRepo) CreateMany(dbc dbctx.Context, clips []*domain.Clip) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range clips {
		dup := false
		for _, existing := range r.s.Clips {
			if existing.PipelineID == c.PipelineID && existing.Idx == c.Idx {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		cp := *c
		r.s.Clips[c.ID] = &cp
	}
	return nil
}

func (r *clipRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Clip, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.Clips[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *clipRepo) ListByPipeline(dbc dbctx.Context, pipelineID uuid.UUID) ([]*domain.Clip, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Clip
	for _, c := range r.s.Clips {
		if c.PipelineID == pipelineID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *clipRepo) TransitionStatus(dbc dbctx.Context, id uuid.UUID, fromStatuses []string, updates map[string]interface{}) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.Clips[id]
	if !ok || !contains(fromStatuses, c.Status) {
		return false, nil
	}
	for k, v := range updates {
		switch k {
		case "status":
			c.Status = asString(v)
		case "error":
			c.Error = asString(v)
		case "raw_video_key":
			c.RawVideoKey = asString(v)
		case "captions_key":
			c.CaptionsKey = asString(v)
		case "final_video_key":
			c.FinalVideoKey = asString(v)
		case "updated_at":
			if t := asTimePtr(v); t != nil {
				c.UpdatedAt = *t
			}
		}
	}
	return true, nil
}

func (r *clipRepo) CountByStatus(dbc dbctx.Context, pipelineID uuid.UUID) (repos.ClipStatusCounts, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var counts repos.ClipStatusCounts
	for _, c := range r.s.Clips {
		if c.PipelineID != pipelineID {
			continue
		}
		counts.Total++
		switch c.Status {
		case domain.ClipStatusCompleted:
			counts.Completed++
		case domain.ClipStatusFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

// ---- render jobs ----

type renderJobRepo struct{ s *Store }

func (r *renderJobRepo) Create(dbc dbctx.Context, job *domain.RenderJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.RenderJobs {
		if existing.RenderID == job.RenderID {
			return nil
		}
	}
	cp := *job
	r.s.RenderJobs[job.ID] = &cp
	return nil
}

func (r *renderJobRepo) GetByRenderID(dbc dbctx.Context, renderID string) (*domain.RenderJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, job := range r.s.RenderJobs {
		if job.RenderID == renderID {
			cp := *job
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *renderJobRepo) GetByClipID(dbc dbctx.Context, clipID uuid.UUID) (*domain.RenderJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, job := range r.s.RenderJobs {
		if job.ClipID == clipID {
			cp := *job
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *renderJobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.RenderJobs[id]
	if !ok || contains(disallowedStatuses, job.Status) {
		return false, nil
	}
	applyRenderJobUpdates(job, updates)
	return true, nil
}

func (r *renderJobRepo) UpdateProgress(dbc dbctx.Context, renderID string, progress int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, job := range r.s.RenderJobs {
		if job.RenderID != renderID {
			continue
		}
		terminal := job.Status == domain.RenderJobStatusCompleted || job.Status == domain.RenderJobStatusFailed
		if !terminal && job.Progress < progress {
			job.Status = domain.RenderJobStatusRendering
			job.Progress = progress
		}
	}
	return nil
}

func applyRenderJobUpdates(job *domain.RenderJob, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			job.Status = asString(v)
		case "progress":
			job.Progress = asInt(v)
		case "error":
			job.Error = asString(v)
		case "output_key":
			job.OutputKey = asString(v)
		case "attempts":
			job.Attempts = asInt(v)
		case "started_at":
			job.StartedAt = asTimePtr(v)
		case "finished_at":
			job.FinishedAt = asTimePtr(v)
		case "updated_at":
			if t := asTimePtr(v); t != nil {
				job.UpdatedAt = *t
			}
		}
	}
}

// ---- ledger ----

type ledgerRepo struct{ s *Store }

func (r *ledgerRepo) Create(dbc dbctx.Context, entry *domain.CreditLedger) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.Ledger {
		if existing.ExternalRef == entry.ExternalRef {
			return false, nil
		}
	}
	cp := *entry
	r.s.Ledger = append(r.s.Ledger, &cp)
	return true, nil
}

func (r *ledgerRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*domain.CreditLedger, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.CreditLedger
	for _, e := range r.s.Ledger {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
