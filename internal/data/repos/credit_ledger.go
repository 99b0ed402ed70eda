package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

type CreditLedgerRepo interface {
	// Create inserts the entry unless its external_ref was already recorded.
	// Returns false on the duplicate path.
	Create(dbc dbctx.Context, entry *domain.CreditLedger) (bool, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*domain.CreditLedger, error)
}

type creditLedgerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCreditLedgerRepo(db *gorm.DB, baseLog *logger.Logger) CreditLedgerRepo {
	return &creditLedgerRepo{db: db, log: baseLog.With("repo", "CreditLedgerRepo")}
}

func (r *creditLedgerRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *creditLedgerRepo) Create(dbc dbctx.Context, entry *domain.CreditLedger) (bool, error) {
	if entry == nil {
		return false, nil
	}
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_ref"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *creditLedgerRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID, limit int) ([]*domain.CreditLedger, error) {
	var out []*domain.CreditLedger
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
