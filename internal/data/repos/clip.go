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

// ClipStatusCounts is the per-pipeline tally the completion aggregator
// decides on.
type ClipStatusCounts struct {
	Total     int64
	Completed int64
	Failed    int64
}

func (c ClipStatusCounts) Finished() int64 { return c.Completed + c.Failed }

func (c ClipStatusCounts) AllFinished() bool {
	return c.Total > 0 && c.Finished() == c.Total
}

type ClipRepo interface {
	CreateMany(dbc dbctx.Context, clips []*domain.Clip) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Clip, error)
	ListByPipeline(dbc dbctx.Context, pipelineID uuid.UUID) ([]*domain.Clip, error)
	TransitionStatus(dbc dbctx.Context, id uuid.UUID, fromStatuses []string, updates map[string]interface{}) (bool, error)
	CountByStatus(dbc dbctx.Context, pipelineID uuid.UUID) (ClipStatusCounts, error)
}

type clipRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewClipRepo(db *gorm.DB, baseLog *logger.Logger) ClipRepo {
	return &clipRepo{db: db, log: baseLog.With("repo", "ClipRepo")}
}

func (r *clipRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

// CreateMany inserts in bulk, ignoring rows whose (pipeline_id, idx) already
// exist so a retried phase step cannot duplicate clips.
func (r *clipRepo) CreateMany(dbc dbctx.Context, clips []*domain.Clip) error {
	if len(clips) == 0 {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pipeline_id"}, {Name: "idx"}},
			DoNothing: true,
		}).
		Create(&clips).Error
}

func (r *clipRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Clip, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var c domain.Clip
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&c).Error
	if err != nil {
		return nil, err
	}
	if c.ID == uuid.Nil {
		return nil, nil
	}
	return &c, nil
}

func (r *clipRepo) ListByPipeline(dbc dbctx.Context, pipelineID uuid.UUID) ([]*domain.Clip, error) {
	var out []*domain.Clip
	if pipelineID == uuid.Nil {
		return out, nil
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("pipeline_id = ?", pipelineID).
		Order("idx ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *clipRepo) TransitionStatus(dbc dbctx.Context, id uuid.UUID, fromStatuses []string, updates map[string]interface{}) (bool, error) {
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
		Model(&domain.Clip{}).
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

func (r *clipRepo) CountByStatus(dbc dbctx.Context, pipelineID uuid.UUID) (ClipStatusCounts, error) {
	var counts ClipStatusCounts
	if pipelineID == uuid.Nil {
		return counts, nil
	}
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.Clip{}).
		Select("status, count(*) as n").
		Where("pipeline_id = ?", pipelineID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return counts, err
	}
	for _, rw := range rows {
		counts.Total += rw.N
		switch rw.Status {
		case domain.ClipStatusCompleted:
			counts.Completed += rw.N
		case domain.ClipStatusFailed:
			counts.Failed += rw.N
		}
	}
	return counts, nil
}
