package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWalksChain(t *testing.T) {
	base := New(KindTimeout, "analysis deadline exceeded")
	wrapped := fmt.Errorf("phase1: %w", base)
	if got := KindOf(wrapped); got != KindTimeout {
		t.Fatalf("KindOf: expected %s got %s", KindTimeout, got)
	}
	if !IsTimeout(wrapped) {
		t.Fatalf("IsTimeout: expected true")
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Fatalf("KindOf: expected %s got %s", KindInternal, got)
	}
}

func TestRetriable(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{KindUpstreamServer, true},
		{KindUpstreamClient, false},
		{KindAuth, false},
		{KindTimeout, false},
		{KindValidation, false},
		{KindQuotaExceeded, false},
	}
	for _, tc := range cases {
		err := New(tc.kind, "x")
		if got := Retriable(err); got != tc.want {
			t.Fatalf("Retriable(%s): expected %v got %v", tc.kind, tc.want, got)
		}
	}
	if Retriable(nil) {
		t.Fatalf("Retriable(nil): expected false")
	}
}

func TestErrorStringAndUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := Wrap(KindUpstreamServer, "batch backend", inner)
	if err.Error() != "batch backend: connection refused" {
		t.Fatalf("Error(): got %q", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Fatalf("Unwrap: expected inner error in chain")
	}
}
