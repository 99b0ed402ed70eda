package services

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/viralcut/viralcut-backend/internal/data/repos/repostest"
	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/apperr"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
)

func newCreditService(t *testing.T, store *repostest.Store) CreditService {
	t.Helper()
	return NewCreditService(testLog(t), nil, store.UserRepo(), store.CreditLedgerRepo())
}

func TestTopUpAppliesOnce(t *testing.T) {
	store := repostest.NewStore()
	svc := newCreditService(t, store)
	u := seedUser(t, store, &domain.User{Credits: 2})

	for i := 0; i < 3; i++ {
		if err := svc.HandleCheckoutCompleted(context.Background(), u.ID, "cs_test_abc", 10); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	balance, err := svc.Balance(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 12 {
		t.Fatalf("balance = %d, want 12", balance)
	}

	entries, err := store.CreditLedgerRepo().ListByUser(dbctx.Context{Ctx: context.Background()}, u.ID, 0)
	if err != nil || len(entries) != 1 {
		t.Fatalf("ledger entries: n=%d err=%v", len(entries), err)
	}
	e := entries[0]
	if e.Delta != 10 || e.OldBalance != 2 || e.NewBalance != 12 || e.Reason != domain.CreditReasonTopUp {
		t.Fatalf("ledger entry: %+v", e)
	}
	if e.ExternalRef != "cs_test_abc" {
		t.Fatalf("external ref = %q", e.ExternalRef)
	}
}

func TestTopUpDistinctSessionsAccumulate(t *testing.T) {
	store := repostest.NewStore()
	svc := newCreditService(t, store)
	u := seedUser(t, store, &domain.User{Credits: 0})

	if err := svc.HandleCheckoutCompleted(context.Background(), u.ID, "cs_1", 5); err != nil {
		t.Fatalf("first topup: %v", err)
	}
	if err := svc.HandleCheckoutCompleted(context.Background(), u.ID, "cs_2", 7); err != nil {
		t.Fatalf("second topup: %v", err)
	}

	balance, _ := svc.Balance(context.Background(), u.ID)
	if balance != 12 {
		t.Fatalf("balance = %d, want 12", balance)
	}
}

func TestTopUpValidation(t *testing.T) {
	store := repostest.NewStore()
	svc := newCreditService(t, store)
	u := seedUser(t, store, &domain.User{Credits: 0})

	if err := svc.HandleCheckoutCompleted(context.Background(), u.ID, "", 5); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("missing session: %v", err)
	}
	if err := svc.HandleCheckoutCompleted(context.Background(), u.ID, "cs_x", 0); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("zero credits: %v", err)
	}
	if err := svc.HandleCheckoutCompleted(context.Background(), uuid.New(), "cs_y", 5); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("unknown user: %v", err)
	}
}
