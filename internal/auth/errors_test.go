package auth

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesKindAndReason(t *testing.T) {
	if !errors.Is(ErrAPIKeyExpired, ErrAPIKeyInvalid) {
		t.Fatalf("reasoned error should match its bare kind")
	}
	if errors.Is(ErrAPIKeyExpired, ErrAPIKeyInactive) {
		t.Fatalf("different reasons must not match")
	}
	if errors.Is(ErrTokenExpired, ErrAPIKeyExpired) {
		t.Fatalf("different kinds must not match")
	}
	wrapped := fmt.Errorf("handler: %w", ErrSessionRevoked)
	if KindOf(wrapped) != KindTokenInvalid || ReasonOf(wrapped) != ReasonSessionRevoked {
		t.Fatalf("kind and reason must survive wrapping")
	}
}

func TestUnavailableWrapsOnlyForeignErrors(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := unavailable("find user", cause)
	if !IsRetryable(err) || !errors.Is(err, cause) {
		t.Fatalf("expected retryable wrapper around cause, got %v", err)
	}
	if got := unavailable("find user", ErrNotFound); got != ErrNotFound {
		t.Fatalf("auth errors must pass through, got %v", got)
	}
	if unavailable("noop", nil) != nil {
		t.Fatalf("nil stays nil")
	}
	if IsRetryable(ErrInvalidCredentials) {
		t.Fatalf("credential failures are not retryable")
	}
}

func TestIsSuspicious(t *testing.T) {
	for _, err := range []error{ErrTokenSignatureInvalid, ErrTokenMalformed, ErrAPIKeySignatureMismatch, ErrTokenIssuerMismatch} {
		if !IsSuspicious(err) {
			t.Fatalf("%v should be suspicious", err)
		}
	}
	for _, err := range []error{ErrTokenExpired, ErrSessionRevoked, ErrAPIKeyExpired} {
		if IsSuspicious(err) {
			t.Fatalf("%v should not be suspicious", err)
		}
	}
}

func TestPublicReason(t *testing.T) {
	if got := PublicReason(ErrTokenExpired); got != ReasonExpired {
		t.Fatalf("expired should be public, got %q", got)
	}
	for _, err := range []error{ErrAPIKeyNotFound, ErrAPIKeySignatureMismatch, ErrTokenSignatureInvalid, ErrInvalidCredentials} {
		if got := PublicReason(err); got != "" {
			t.Fatalf("%v: reason %q must be withheld", err, got)
		}
	}
}
