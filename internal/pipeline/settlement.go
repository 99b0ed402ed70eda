package pipeline

import (
	"github.com/viralcut/viralcut-backend/internal/data/repos"
	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/apperr"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
)

// Settler debits one credit per successfully produced clip, exactly once
// per pipeline. The settled marker on the pipeline row is the idempotency
// gate; the ledger's unique external_ref backs it up.
type Settler struct {
	log       *logger.Logger
	pipelines repos.PipelineRepo
	users     repos.UserRepo
	ledger    repos.CreditLedgerRepo
}

func NewSettler(log *logger.Logger, pipelines repos.PipelineRepo, users repos.UserRepo, ledger repos.CreditLedgerRepo) *Settler {
	return &Settler{
		log:       log.With("component", "Settler"),
		pipelines: pipelines,
		users:     users,
		ledger:    ledger,
	}
}

func (s *Settler) Settle(dbc dbctx.Context, p *domain.Pipeline, clipsProduced int) error {
	log := s.log.With("pipeline_id", p.ID.String(), "user_id", p.UserID.String())

	ok, err := s.pipelines.MarkSettled(dbc, p.ID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "settle: mark settled", err)
	}
	if !ok {
		log.Debug("Pipeline already settled")
		return nil
	}
	if clipsProduced <= 0 {
		log.Info("Nothing produced, settled at zero cost")
		return nil
	}

	oldBal, newBal, deducted, err := s.users.DeductCredits(dbc, p.UserID, clipsProduced)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "settle: deduct credits", err)
	}
	if !deducted {
		// Balance dropped below the bill since admission. The pipeline stays
		// settled so completion is not retried forever; the shortfall is an
		// operator concern, not a correctness one.
		log.Error("Insufficient balance at settlement", "clips_produced", clipsProduced)
		return nil
	}

	pid := p.ID
	created, err := s.ledger.Create(dbc, &domain.CreditLedger{
		UserID:      p.UserID,
		PipelineID:  &pid,
		Delta:       -clipsProduced,
		OldBalance:  oldBal,
		NewBalance:  newBal,
		Reason:      domain.CreditReasonSettlement,
		ExternalRef: "settlement:" + p.ID.String(),
	})
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "settle: write ledger", err)
	}
	if !created {
		log.Warn("Ledger entry already existed for settlement")
	}

	log.Info("Credits settled", "clips_produced", clipsProduced, "old_balance", oldBal, "new_balance", newBal)
	return nil
}
