package repos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

type PipelineRepo interface {
	Create(dbc dbctx.Context, p *domain.Pipeline) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Pipeline, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*domain.Pipeline, error)
	CountActiveByUser(dbc dbctx.Context, userID uuid.UUID) (int64, error)
	CountActive(dbc dbctx.Context) (int64, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	TransitionStatus(dbc dbctx.Context, id uuid.UUID, fromStatuses []string, updates map[string]interface{}) (bool, error)
	MarkSettled(dbc dbctx.Context, id uuid.UUID) (bool, error)
	ListStuckSince(dbc dbctx.Context, statuses []string, startedBefore time.Time) ([]*domain.Pipeline, error)
}

type pipelineRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPipelineRepo(db *gorm.DB, baseLog *logger.Logger) PipelineRepo {
	return &pipelineRepo{db: db, log: baseLog.With("repo", "PipelineRepo")}
}

func (r *pipelineRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *pipelineRepo) Create(dbc dbctx.Context, p *domain.Pipeline) error {
	return r.handle(dbc).WithContext(dbc.Ctx).Create(p).Error
}

func (r *pipelineRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Pipeline, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var p domain.Pipeline
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == uuid.Nil {
		return nil, nil
	}
	return &p, nil
}

func (r *pipelineRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*domain.Pipeline, error) {
	var out []*domain.Pipeline
	if userID == uuid.Nil {
		return out, nil
	}
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *pipelineRepo) CountActiveByUser(dbc dbctx.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, nil
	}
	var count int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.Pipeline{}).
		Where("user_id = ? AND status IN ?", userID, domain.ActivePipelineStatuses).
		Count(&count).Error
	return count, err
}

func (r *pipelineRepo) CountActive(dbc dbctx.Context) (int64, error) {
	var count int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.Pipeline{}).
		Where("status IN ?", domain.ActivePipelineStatuses).
		Count(&count).Error
	return count, err
}

func (r *pipelineRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.Pipeline{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// TransitionStatus applies updates only while the row is still in one of
// fromStatuses. This is the compare-and-set every phase transition and the
// terminal completion flip go through; a false return means someone else
// moved the row first.
func (r *pipelineRepo) TransitionStatus(dbc dbctx.Context, id uuid.UUID, fromStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil || len(fromStatuses) == 0 {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.Pipeline{}).
		Where("id = ?", id)
	if len(fromStatuses) == 1 {
		q = q.Where("status = ?", fromStatuses[0])
	} else {
		q = q.Where("status IN ?", fromStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkSettled flips credits_settled false -> true exactly once.
func (r *pipelineRepo) MarkSettled(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.Pipeline{}).
		Where("id = ? AND credits_settled = ?", id, false).
		Updates(map[string]interface{}{
			"credits_settled": true,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *pipelineRepo) ListStuckSince(dbc dbctx.Context, statuses []string, startedBefore time.Time) ([]*domain.Pipeline, error) {
	var out []*domain.Pipeline
	if len(statuses) == 0 {
		return out, nil
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("status IN ? AND updated_at < ?", statuses, startedBefore).
		Order("updated_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
