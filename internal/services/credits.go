package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/viralcut/viralcut-backend/internal/data/repos"
	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/apperr"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

type CreditService interface {
	// HandleCheckoutCompleted applies a paid top-up exactly once per checkout
	// session. Replayed webhook deliveries are acknowledged without effect.
	HandleCheckoutCompleted(ctx context.Context, userID uuid.UUID, sessionID string, credits int) error
	Balance(ctx context.Context, userID uuid.UUID) (int, error)
	Ledger(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.CreditLedger, error)
}

type creditService struct {
	log    *logger.Logger
	db     *gorm.DB
	users  repos.UserRepo
	ledger repos.CreditLedgerRepo
}

func NewCreditService(log *logger.Logger, db *gorm.DB, users repos.UserRepo, ledger repos.CreditLedgerRepo) CreditService {
	return &creditService{
		log:    log.With("service", "CreditService"),
		db:     db,
		users:  users,
		ledger: ledger,
	}
}

func (s *creditService) inTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if s.db == nil {
		return fn(dbctx.Context{Ctx: ctx})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx})
	})
}

// errReplayedTopUp marks a duplicate delivery; the surrounding transaction
// is rolled back with nothing applied.
var errReplayedTopUp = errors.New("topup already recorded")

func (s *creditService) HandleCheckoutCompleted(ctx context.Context, userID uuid.UUID, sessionID string, credits int) error {
	sessionID = strings.TrimSpace(sessionID)
	if userID == uuid.Nil || sessionID == "" {
		return apperr.New(apperr.KindValidation, "topup: user id and session id required")
	}
	if credits <= 0 {
		return apperr.New(apperr.KindValidation, "topup: credit amount must be positive")
	}

	err := s.inTx(ctx, func(dbc dbctx.Context) error {
		u, uerr := s.users.GetByID(dbc, userID)
		if uerr != nil {
			return apperr.Wrap(apperr.KindInternal, "topup: load user", uerr)
		}
		if u == nil {
			return apperr.New(apperr.KindNotFound, "topup: user not found")
		}

		// The unique external_ref is the idempotency gate; it must win or
		// lose before the balance is touched.
		created, lerr := s.ledger.Create(dbc, &domain.CreditLedger{
			UserID:      userID,
			Delta:       credits,
			OldBalance:  u.Credits,
			NewBalance:  u.Credits + credits,
			Reason:      domain.CreditReasonTopUp,
			ExternalRef: sessionID,
		})
		if lerr != nil {
			return apperr.Wrap(apperr.KindInternal, "topup: write ledger", lerr)
		}
		if !created {
			return errReplayedTopUp
		}

		_, newBal, aerr := s.users.AddCredits(dbc, userID, credits)
		if aerr != nil {
			return apperr.Wrap(apperr.KindInternal, "topup: add credits", aerr)
		}

		s.log.Info("Credits added",
			"user_id", userID.String(),
			"session_id", sessionID,
			"credits", credits,
			"new_balance", newBal,
		)
		return nil
	})
	if errors.Is(err, errReplayedTopUp) {
		s.log.Debug("Ignoring replayed checkout session", "session_id", sessionID)
		return nil
	}
	return err
}

func (s *creditService) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	u, err := s.users.GetByID(dbctx.Context{Ctx: ctx}, userID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "load user balance", err)
	}
	if u == nil {
		return 0, apperr.New(apperr.KindNotFound, "user not found")
	}
	return u.Credits, nil
}

func (s *creditService) Ledger(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.CreditLedger, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, err := s.ledger.ListByUser(dbctx.Context{Ctx: ctx}, userID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "list credit ledger", err)
	}
	return entries, nil
}
