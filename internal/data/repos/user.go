package repos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

type UserRepo interface {
	Create(dbc dbctx.Context, u *domain.User) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(dbc dbctx.Context, email string) (*domain.User, error)
	IncrementDailyRequests(dbc dbctx.Context, id uuid.UUID, limit int, windowStart time.Time) (bool, error)
	DeductCredits(dbc dbctx.Context, id uuid.UUID, amount int) (int, int, bool, error)
	AddCredits(dbc dbctx.Context, id uuid.UUID, amount int) (int, int, error)
}

type userRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo {
	return &userRepo{db: db, log: baseLog.With("repo", "UserRepo")}
}

func (r *userRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *userRepo) Create(dbc dbctx.Context, u *domain.User) error {
	return r.handle(dbc).WithContext(dbc.Ctx).Create(u).Error
}

func (r *userRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.User, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var u domain.User
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&u).Error
	if err != nil {
		return nil, err
	}
	if u.ID == uuid.Nil {
		return nil, nil
	}
	return &u, nil
}

func (r *userRepo) GetByEmail(dbc dbctx.Context, email string) (*domain.User, error) {
	if email == "" {
		return nil, nil
	}
	var u domain.User
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("email = ?", email).
		Limit(1).
		Find(&u).Error
	if err != nil {
		return nil, err
	}
	if u.ID == uuid.Nil {
		return nil, nil
	}
	return &u, nil
}

// IncrementDailyRequests bumps the user's daily counter in one conditional
// update. A stale window resets the counter to 1; a current window only
// increments while still under the limit. Returns false when the user is at
// the limit, without mutating anything.
func (r *userRepo) IncrementDailyRequests(dbc dbctx.Context, id uuid.UUID, limit int, windowStart time.Time) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	res := r.handle(dbc).WithContext(dbc.Ctx).Exec(`
    UPDATE "user"
    SET
      daily_requests = CASE
        WHEN daily_window_at IS NULL OR daily_window_at < ? THEN 1
        ELSE daily_requests + 1
      END,
      daily_window_at = CASE
        WHEN daily_window_at IS NULL OR daily_window_at < ? THEN ?
        ELSE daily_window_at
      END,
      updated_at = now()
    WHERE id = ?
      AND (
        daily_window_at IS NULL
        OR daily_window_at < ?
        OR daily_requests < ?
      )
  `, windowStart, windowStart, windowStart, id, windowStart, limit)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeductCredits debits atomically, guarded by credits >= amount.
// Returns (oldBalance, newBalance, ok).
func (r *userRepo) DeductCredits(dbc dbctx.Context, id uuid.UUID, amount int) (int, int, bool, error) {
	if id == uuid.Nil || amount < 0 {
		return 0, 0, false, nil
	}
	var newBalance *int
	err := r.handle(dbc).WithContext(dbc.Ctx).Raw(`
    UPDATE "user"
    SET credits = credits - ?, updated_at = now()
    WHERE id = ? AND credits >= ?
    RETURNING credits
  `, amount, id, amount).Scan(&newBalance).Error
	if err != nil {
		return 0, 0, false, err
	}
	if newBalance == nil {
		return 0, 0, false, nil
	}
	return *newBalance + amount, *newBalance, true, nil
}

func (r *userRepo) AddCredits(dbc dbctx.Context, id uuid.UUID, amount int) (int, int, error) {
	if id == uuid.Nil || amount <= 0 {
		return 0, 0, nil
	}
	var newBalance *int
	err := r.handle(dbc).WithContext(dbc.Ctx).Raw(`
    UPDATE "user"
    SET credits = credits + ?, updated_at = now()
    WHERE id = ?
    RETURNING credits
  `, amount, id).Scan(&newBalance).Error
	if err != nil {
		return 0, 0, err
	}
	if newBalance == nil {
		return 0, 0, nil
	}
	return *newBalance - amount, *newBalance, nil
}
