package services

import (
	"context"
	"testing"

	"github.com/viralcut/viralcut-backend/internal/data/repos/repostest"
	"github.com/viralcut/viralcut-backend/internal/pkg/apperr"
)

func newAuthService(t *testing.T, store *repostest.Store) AuthService {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-key")
	svc, err := NewAuthService(testLog(t), nil, store.UserRepo())
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	return svc
}

func TestRegisterLoginRoundtrip(t *testing.T) {
	store := repostest.NewStore()
	svc := newAuthService(t, store)

	u, token, err := svc.Register(context.Background(), "Person@Example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Email != "person@example.com" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if u.Credits <= 0 {
		t.Fatalf("expected signup credits, got %d", u.Credits)
	}
	if u.Password == "hunter2hunter2" {
		t.Fatal("password stored in plaintext")
	}

	id, err := svc.ParseToken(token)
	if err != nil || id != u.ID {
		t.Fatalf("ParseToken: id=%s err=%v", id, err)
	}

	logged, token2, err := svc.Login(context.Background(), "person@example.com", "hunter2hunter2")
	if err != nil || logged.ID != u.ID || token2 == "" {
		t.Fatalf("Login: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	store := repostest.NewStore()
	svc := newAuthService(t, store)

	if _, _, err := svc.Register(context.Background(), "nonsense", "hunter2hunter2"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("bad email: %v", err)
	}
	if _, _, err := svc.Register(context.Background(), "a@b.com", "short"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("short password: %v", err)
	}

	if _, _, err := svc.Register(context.Background(), "a@b.com", "hunter2hunter2"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, _, err := svc.Register(context.Background(), "a@b.com", "hunter2hunter2"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("duplicate email: %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	store := repostest.NewStore()
	svc := newAuthService(t, store)

	if _, _, err := svc.Register(context.Background(), "a@b.com", "hunter2hunter2"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, _, err := svc.Login(context.Background(), "a@b.com", "wrong-password"); !apperr.IsKind(err, apperr.KindAuth) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "missing@b.com", "hunter2hunter2"); !apperr.IsKind(err, apperr.KindAuth) {
		t.Fatalf("unknown email: %v", err)
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	store := repostest.NewStore()
	svc := newAuthService(t, store)

	for _, tok := range []string{"", "not.a.jwt", "eyJhbGciOiJub25lIn0.e30."} {
		if _, err := svc.ParseToken(tok); !apperr.IsKind(err, apperr.KindAuth) {
			t.Fatalf("token %q: expected auth error, got %v", tok, err)
		}
	}
}
