package services

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/gorm"

	"github.com/viralcut/viralcut-backend/internal/config"
	"github.com/viralcut/viralcut-backend/internal/data/repos"
	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/apperr"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
	"github.com/viralcut/viralcut-backend/internal/quota"
	"github.com/viralcut/viralcut-backend/internal/temporalx"
	"github.com/viralcut/viralcut-backend/internal/temporalx/pipelinerun"
)

// ErrAtCapacity distinguishes the global concurrency ceiling from per-user
// quota failures; callers surface it as a retryable 503 rather than a 429.
var ErrAtCapacity = apperr.New(apperr.KindQuotaExceeded, "system is at capacity, try again later")

const defaultFontFamily = "Inter"

type SubmitRequest struct {
	SourceURL  string `json:"source_url"`
	FontFamily string `json:"font_family,omitempty"`
}

type PipelineDetail struct {
	Pipeline *domain.Pipeline `json:"pipeline"`
	Clips    []*domain.Clip   `json:"clips"`
}

// WorkflowStarter abstracts the durable execution backend so the service can
// be exercised without a Temporal server.
type WorkflowStarter interface {
	Start(ctx context.Context, pipelineID uuid.UUID) error
}

type temporalStarter struct {
	tc  temporalsdkclient.Client
	cfg temporalx.Config
}

func NewTemporalStarter(tc temporalsdkclient.Client) WorkflowStarter {
	if tc == nil {
		return nil
	}
	return &temporalStarter{tc: tc, cfg: temporalx.LoadConfig()}
}

func (s *temporalStarter) Start(ctx context.Context, pipelineID uuid.UUID) error {
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                       pipelinerun.WorkflowIDPrefix + pipelineID.String(),
		TaskQueue:                s.cfg.TaskQueue,
		WorkflowExecutionTimeout: 24 * time.Hour,
	}
	_, err := s.tc.ExecuteWorkflow(ctx, opts, pipelinerun.WorkflowName)
	return err
}

type PipelineService interface {
	Submit(ctx context.Context, userID uuid.UUID, req SubmitRequest) (*domain.Pipeline, error)
	Get(ctx context.Context, userID, pipelineID uuid.UUID) (*PipelineDetail, error)
	List(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Pipeline, error)
}

type pipelineService struct {
	log       *logger.Logger
	db        *gorm.DB
	users     repos.UserRepo
	pipelines repos.PipelineRepo
	clips     repos.ClipRepo
	guard     *quota.Guard
	limits    config.Limits
	starter   WorkflowStarter
}

type PipelineServiceConfig struct {
	Log       *logger.Logger
	DB        *gorm.DB
	Users     repos.UserRepo
	Pipelines repos.PipelineRepo
	Clips     repos.ClipRepo
	Guard     *quota.Guard
	Limits    config.Limits
	Starter   WorkflowStarter
}

func NewPipelineService(cfg PipelineServiceConfig) PipelineService {
	return &pipelineService{
		log:       cfg.Log.With("service", "PipelineService"),
		db:        cfg.DB,
		users:     cfg.Users,
		pipelines: cfg.Pipelines,
		clips:     cfg.Clips,
		guard:     cfg.Guard,
		limits:    cfg.Limits,
		starter:   cfg.Starter,
	}
}

func (s *pipelineService) inTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if s.db == nil {
		return fn(dbctx.Context{Ctx: ctx})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx})
	})
}

// Submit admits the request, creates the pipeline row and bumps the daily
// counter in one transaction, then starts the driving workflow. The counter
// increment re-checks the limit conditionally so two concurrent submits
// cannot both slip past a nearly-exhausted quota.
func (s *pipelineService) Submit(ctx context.Context, userID uuid.UUID, req SubmitRequest) (*domain.Pipeline, error) {
	sourceURL, err := normalizeSourceURL(req.SourceURL)
	if err != nil {
		return nil, err
	}

	decision, err := s.guard.Admit(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		if decision.AtCapacity {
			return nil, ErrAtCapacity
		}
		return nil, apperr.New(apperr.KindQuotaExceeded, decision.Reason)
	}

	font := strings.TrimSpace(req.FontFamily)
	if font == "" {
		font = defaultFontFamily
	}

	p := &domain.Pipeline{
		ID:         uuid.New(),
		UserID:     userID,
		SourceURL:  sourceURL,
		FontFamily: font,
		Status:     domain.PipelineStatusPending,
	}

	err = s.inTx(ctx, func(dbc dbctx.Context) error {
		ok, ierr := s.users.IncrementDailyRequests(dbc, userID, s.limits.DailyRequestsPerUser, quota.DayWindow(time.Now()))
		if ierr != nil {
			return apperr.Wrap(apperr.KindInternal, "submit: bump daily counter", ierr)
		}
		if !ok {
			return apperr.New(apperr.KindQuotaExceeded, "daily request limit reached")
		}
		if cerr := s.pipelines.Create(dbc, p); cerr != nil {
			return apperr.Wrap(apperr.KindInternal, "submit: create pipeline", cerr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.starter != nil {
		if serr := s.starter.Start(ctx, p.ID); serr != nil {
			s.log.Error("Failed to start pipeline workflow", "pipeline_id", p.ID.String(), "error", serr)
			_, _ = s.pipelines.TransitionStatus(dbctx.Context{Ctx: ctx}, p.ID,
				[]string{domain.PipelineStatusPending},
				map[string]interface{}{
					"status": domain.PipelineStatusFailed,
					"error":  "failed to start processing",
				})
			return nil, apperr.Wrap(apperr.KindInternal, "submit: start workflow", serr)
		}
	} else {
		// No durable backend wired; the row stays pending until the reaper
		// times it out. Only hit in stripped-down dev setups.
		s.log.Warn("No workflow starter configured; pipeline will not advance", "pipeline_id", p.ID.String())
	}

	s.log.Info("Pipeline submitted", "pipeline_id", p.ID.String(), "user_id", userID.String())
	return p, nil
}

func (s *pipelineService) Get(ctx context.Context, userID, pipelineID uuid.UUID) (*PipelineDetail, error) {
	dbc := dbctx.Context{Ctx: ctx}

	p, err := s.pipelines.GetByID(dbc, pipelineID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "get pipeline", err)
	}
	if p == nil || p.UserID != userID {
		return nil, apperr.New(apperr.KindNotFound, "pipeline not found")
	}

	clips, err := s.clips.ListByPipeline(dbc, pipelineID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list pipeline clips", err)
	}
	return &PipelineDetail{Pipeline: p, Clips: clips}, nil
}

func (s *pipelineService) List(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Pipeline, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	out, err := s.pipelines.ListByUser(dbctx.Context{Ctx: ctx}, userID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list pipelines", err)
	}
	return out, nil
}

// normalizeSourceURL accepts only the hosts the downstream resolver knows how
// to fetch from.
func normalizeSourceURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperr.New(apperr.KindValidation, "source url required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", apperr.New(apperr.KindValidation, "source url must be a valid http(s) url")
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch {
	case host == "youtube.com", strings.HasSuffix(host, ".youtube.com"), host == "youtu.be":
		return u.String(), nil
	}
	return "", apperr.New(apperr.KindValidation, "only YouTube source urls are supported")
}
