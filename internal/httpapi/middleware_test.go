package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"authcore.dev/internal/audit"
	"authcore.dev/internal/auth"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		code int
		name string
	}{
		{auth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{auth.ErrAPIKeySignatureMismatch, http.StatusUnauthorized, "api_key_invalid"},
		{auth.ErrAPIKeyNotFound, http.StatusUnauthorized, "api_key_invalid"},
		{auth.ErrAPIKeyExpired, http.StatusForbidden, "api_key_expired"},
		{auth.ErrAPIKeyNotYetActive, http.StatusForbidden, "api_key_not_yet_active"},
		{auth.ErrTokenExpired, http.StatusUnauthorized, "token_invalid"},
		{auth.ErrConcurrentRefresh, http.StatusUnauthorized, "token_invalid"},
		{auth.ErrChallengeExpired, http.StatusUnauthorized, "challenge_expired_or_consumed"},
		{auth.ErrForbidden, http.StatusForbidden, "forbidden"},
		{auth.ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
		{auth.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{auth.ErrNotFound, http.StatusNotFound, "not_found"},
		{auth.ErrConflict, http.StatusConflict, "conflict"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		code, name := StatusFor(tc.err)
		if code != tc.code || name != tc.name {
			t.Fatalf("%v: got %d %s, want %d %s", tc.err, code, name, tc.code, tc.name)
		}
	}
}

func TestRateLimiterRefillsAndEvicts(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(60, 1)
	l.now = func() time.Time { return now }

	if ok, _ := l.Allow("a"); !ok {
		t.Fatalf("first request must pass")
	}
	ok, wait := l.Allow("a")
	if ok || wait <= 0 || wait > time.Second {
		t.Fatalf("second request must wait about a second, got %v %v", ok, wait)
	}
	now = now.Add(time.Second)
	if ok, _ := l.Allow("a"); !ok {
		t.Fatalf("bucket must refill")
	}

	now = now.Add(time.Hour)
	l.Allow("b")
	l.mu.Lock()
	_, stale := l.buckets["a"]
	l.mu.Unlock()
	if stale {
		t.Fatalf("idle bucket must be evicted")
	}
}

func TestRequestIDReachesAuditContext(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = audit.RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "req-123" || rr.Header().Get("X-Request-Id") != "req-123" {
		t.Fatalf("request id not propagated: %q %q", seen, rr.Header().Get("X-Request-Id"))
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/auth/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || rr.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("preflight: %d %v", rr.Code, rr.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unlisted origin must not be allowed")
	}
}

func TestDecodeJSONRejectsTrailingData(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"1"}{"code":"2"}`))
	var dst codeRequest
	if err := decodeJSON(req, &dst); err == nil {
		t.Fatalf("expected error for trailing object")
	}
}
