package auth

import (
	"errors"
	"fmt"
)

// Kind classifies an auth failure so transports can render distinct statuses.
type Kind string

const (
	KindInvalidCredentials         Kind = "invalid_credentials"
	KindAPIKeyInvalid              Kind = "api_key_invalid"
	KindTokenInvalid               Kind = "token_invalid"
	KindTwoFactorRequired          Kind = "two_factor_required"
	KindInvalidTwoFactorCode       Kind = "invalid_two_factor_code"
	KindChallengeExpiredOrConsumed Kind = "challenge_expired_or_consumed"
	KindForbidden                  Kind = "forbidden"
	KindUnavailable                Kind = "unavailable"
	KindInvalidInput               Kind = "invalid_input"
	KindNotFound                   Kind = "not_found"
	KindConflict                   Kind = "conflict"
)

// Reason narrows a Kind, e.g. an API key that is expired versus one whose
// signature does not match.
type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonInactive          Reason = "inactive"
	ReasonExpired           Reason = "expired"
	ReasonNotYetActive      Reason = "not_yet_active"
	ReasonSignatureMismatch Reason = "signature_mismatch"

	ReasonMalformed         Reason = "malformed"
	ReasonSignatureInvalid  Reason = "signature_invalid"
	ReasonNotYetValid       Reason = "not_yet_valid"
	ReasonAudienceMismatch  Reason = "audience_mismatch"
	ReasonIssuerMismatch    Reason = "issuer_mismatch"
	ReasonSessionRevoked    Reason = "session_revoked"
	ReasonConcurrentRefresh Reason = "concurrent_refresh"
)

// Error is the tagged error value returned by every core operation.
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Kind, and on Reason when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Reason == "" || e.Reason == t.Reason
}

func newError(kind Kind, reason Reason, msg string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: msg}
}

var (
	ErrInvalidCredentials = newError(KindInvalidCredentials, "", "auth: invalid credentials")

	ErrAPIKeyInvalid           = newError(KindAPIKeyInvalid, "", "auth: api key invalid")
	ErrAPIKeyNotFound          = newError(KindAPIKeyInvalid, ReasonNotFound, "auth: api key not found")
	ErrAPIKeyInactive          = newError(KindAPIKeyInvalid, ReasonInactive, "auth: api key inactive")
	ErrAPIKeyExpired           = newError(KindAPIKeyInvalid, ReasonExpired, "auth: api key expired")
	ErrAPIKeyNotYetActive      = newError(KindAPIKeyInvalid, ReasonNotYetActive, "auth: api key not yet active")
	ErrAPIKeySignatureMismatch = newError(KindAPIKeyInvalid, ReasonSignatureMismatch, "auth: api key signature mismatch")

	ErrTokenInvalid           = newError(KindTokenInvalid, "", "auth: token invalid")
	ErrTokenMalformed         = newError(KindTokenInvalid, ReasonMalformed, "auth: token malformed")
	ErrTokenSignatureInvalid  = newError(KindTokenInvalid, ReasonSignatureInvalid, "auth: token signature invalid")
	ErrTokenExpired           = newError(KindTokenInvalid, ReasonExpired, "auth: token expired")
	ErrTokenNotYetValid       = newError(KindTokenInvalid, ReasonNotYetValid, "auth: token not yet valid")
	ErrTokenAudienceMismatch  = newError(KindTokenInvalid, ReasonAudienceMismatch, "auth: token audience mismatch")
	ErrTokenIssuerMismatch    = newError(KindTokenInvalid, ReasonIssuerMismatch, "auth: token issuer mismatch")
	ErrSessionRevoked         = newError(KindTokenInvalid, ReasonSessionRevoked, "auth: session revoked")
	ErrConcurrentRefresh      = newError(KindTokenInvalid, ReasonConcurrentRefresh, "auth: concurrent refresh")
	ErrTwoFactorRequired      = newError(KindTwoFactorRequired, "", "auth: two factor authentication required")
	ErrInvalidTwoFactorCode   = newError(KindInvalidTwoFactorCode, "", "auth: invalid two factor code")
	ErrChallengeExpired       = newError(KindChallengeExpiredOrConsumed, "", "auth: challenge expired or consumed")
	ErrForbidden              = newError(KindForbidden, "", "auth: forbidden")
	ErrUnavailable            = newError(KindUnavailable, "", "auth: unavailable")
	ErrInvalidInput           = newError(KindInvalidInput, "", "auth: invalid input")
	ErrNotFound               = newError(KindNotFound, "", "auth: not found")
	ErrConflict               = newError(KindConflict, "", "auth: conflict")
	errTwoFactorNotConfigured = newError(KindInvalidInput, "", "auth: two factor not configured")
	errTwoFactorUnavailable   = newError(KindUnavailable, "", "auth: two factor engine not configured")
)

// invalidInput returns a KindInvalidInput error with a specific message.
func invalidInput(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Message: "auth: " + fmt.Sprintf(format, args...)}
}

// unavailable wraps an infrastructure failure. Not-found and conflict errors
// produced by stores pass through untouched since callers branch on them.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: KindUnavailable, Message: "auth: " + op, Cause: err}
}

// KindOf returns the kind of err, or "" when err is not an auth error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// ReasonOf returns the reason of err, or "".
func ReasonOf(err error) Reason {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}

// IsRetryable reports whether err is a transient failure. A caller must never
// treat it as a security decision.
func IsRetryable(err error) bool {
	return KindOf(err) == KindUnavailable
}

// IsSuspicious reports whether err hints at tampering rather than an ordinary
// expired or revoked credential.
func IsSuspicious(err error) bool {
	switch ReasonOf(err) {
	case ReasonSignatureMismatch, ReasonSignatureInvalid, ReasonMalformed, ReasonAudienceMismatch, ReasonIssuerMismatch:
		return true
	}
	return false
}

// PublicReason returns the reason safe to show a caller. Reasons that hint at
// tampering, or that would tell a missing API key from a wrong secret, are
// withheld.
func PublicReason(err error) Reason {
	if IsSuspicious(err) || ReasonOf(err) == ReasonNotFound {
		return ""
	}
	return ReasonOf(err)
}
