package httpapi

import (
	"net/http"

	"authcore.dev/internal/auth"
)

// StatusFor maps an auth error to an HTTP status and a stable error code.
// Unknown errors are reported as 500 without detail.
func StatusFor(err error) (int, string) {
	switch auth.KindOf(err) {
	case auth.KindInvalidCredentials, auth.KindTokenInvalid,
		auth.KindTwoFactorRequired, auth.KindInvalidTwoFactorCode, auth.KindChallengeExpiredOrConsumed:
		return http.StatusUnauthorized, string(auth.KindOf(err))
	case auth.KindAPIKeyInvalid:
		switch auth.ReasonOf(err) {
		case auth.ReasonInactive, auth.ReasonExpired, auth.ReasonNotYetActive:
			return http.StatusForbidden, "api_key_" + string(auth.ReasonOf(err))
		}
		return http.StatusUnauthorized, string(auth.KindAPIKeyInvalid)
	case auth.KindForbidden:
		return http.StatusForbidden, string(auth.KindForbidden)
	case auth.KindUnavailable:
		return http.StatusServiceUnavailable, string(auth.KindUnavailable)
	case auth.KindInvalidInput:
		return http.StatusBadRequest, string(auth.KindInvalidInput)
	case auth.KindNotFound:
		return http.StatusNotFound, string(auth.KindNotFound)
	case auth.KindConflict:
		return http.StatusConflict, string(auth.KindConflict)
	}
	return http.StatusInternalServerError, "internal"
}

// messages never echo the underlying cause. Reasons that hint at tampering
// stay in logs and metrics.
var messages = map[int]string{
	http.StatusUnauthorized:        "authentication failed",
	http.StatusForbidden:           "access denied",
	http.StatusServiceUnavailable:  "service temporarily unavailable",
	http.StatusNotFound:            "not found",
	http.StatusConflict:            "conflict",
	http.StatusInternalServerError: "internal error",
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	code, errCode := StatusFor(err)
	msg, ok := messages[code]
	if !ok {
		// invalid input messages are safe to show and help the caller
		msg = err.Error()
	}
	switch code {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	}
	body := map[string]any{
		"error":   errCode,
		"message": msg,
	}
	if reason := auth.PublicReason(err); reason != "" {
		body["reason"] = string(reason)
	}
	if rid := RequestIDFromContext(r); rid != "" {
		body["request_id"] = rid
	}
	writeJSON(w, code, body)
}
