package repos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

type RenderJobRepo interface {
	Create(dbc dbctx.Context, job *domain.RenderJob) error
	GetByRenderID(dbc dbctx.Context, renderID string) (*domain.RenderJob, error)
	GetByClipID(dbc dbctx.Context, clipID uuid.UUID) (*domain.RenderJob, error)
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	UpdateProgress(dbc dbctx.Context, renderID string, progress int) error
}

type renderJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRenderJobRepo(db *gorm.DB, baseLog *logger.Logger) RenderJobRepo {
	return &renderJobRepo{db: db, log: baseLog.With("repo", "RenderJobRepo")}
}

func (r *renderJobRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

// Create is idempotent on render_id so a re-dispatched phase step cannot
// duplicate dispatch records.
func (r *renderJobRepo) Create(dbc dbctx.Context, job *domain.RenderJob) error {
	if job == nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "render_id"}},
			DoNothing: true,
		}).
		Create(job).Error
}

func (r *renderJobRepo) GetByRenderID(dbc dbctx.Context, renderID string) (*domain.RenderJob, error) {
	if renderID == "" {
		return nil, nil
	}
	var job domain.RenderJob
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("render_id = ?", renderID).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *renderJobRepo) GetByClipID(dbc dbctx.Context, clipID uuid.UUID) (*domain.RenderJob, error) {
	if clipID == uuid.Nil {
		return nil, nil
	}
	var job domain.RenderJob
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("clip_id = ?", clipID).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *renderJobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.RenderJob{}).
		Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UpdateProgress keeps progress monotonically non-decreasing until terminal.
func (r *renderJobRepo) UpdateProgress(dbc dbctx.Context, renderID string, progress int) error {
	if renderID == "" {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.RenderJob{}).
		Where("render_id = ? AND status IN ? AND progress < ?",
			renderID,
			[]string{domain.RenderJobStatusQueued, domain.RenderJobStatusRendering},
			progress,
		).
		Updates(map[string]interface{}{
			"status":     domain.RenderJobStatusRendering,
			"progress":   progress,
			"updated_at": time.Now(),
		}).Error
}
