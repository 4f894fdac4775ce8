package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	apiKeyPrefix      = "ak_"
	apiKeyRandomBytes = 16
	apiSecretBytes    = 32
)

// APIKeyHeader is the header carrying "key:secret".
const APIKeyHeader = "x-api-key"

// CreateKeyPair generates a public key identifier and a raw secret. The secret
// is shown to the caller once and only its signature is persisted.
func CreateKeyPair() (key, secret string, err error) {
	kb := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(kb); err != nil {
		return "", "", fmt.Errorf("auth: generate api key: %w", err)
	}
	sb := make([]byte, apiSecretBytes)
	if _, err := rand.Read(sb); err != nil {
		return "", "", fmt.Errorf("auth: generate api secret: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(kb), base64.RawURLEncoding.EncodeToString(sb), nil
}

// SignAPIKey returns hex(HMAC-SHA256(secret, key)). It is deterministic so the
// stored value can be recomputed from a presented pair.
func SignAPIKey(key, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyAPIKey checks a presented pair against its record. The signature is
// compared first so an attacker without the secret learns nothing about the
// key's activation state.
func VerifyAPIKey(key, secret string, rec *APIKeyRecord, now time.Time) error {
	if rec == nil {
		return ErrAPIKeyNotFound
	}
	got := SignAPIKey(key, secret)
	if subtle.ConstantTimeCompare([]byte(got), []byte(rec.SecretHash)) != 1 {
		return ErrAPIKeySignatureMismatch
	}
	if !rec.IsActive {
		return ErrAPIKeyInactive
	}
	return CheckAPIKeyValidity(rec, now)
}

// CheckAPIKeyValidity judges the temporal window alone. Either bound may be absent.
func CheckAPIKeyValidity(rec *APIKeyRecord, now time.Time) error {
	if rec.StartDate != nil && now.Before(*rec.StartDate) {
		return ErrAPIKeyNotYetActive
	}
	if rec.EndDate != nil && now.After(*rec.EndDate) {
		return ErrAPIKeyExpired
	}
	return nil
}

// ValidateAPIKeyWindow enforces StartDate <= EndDate on save.
func ValidateAPIKeyWindow(start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return invalidInput("api key end date precedes start date")
	}
	return nil
}

// ExtractAPIKey parses an "x-api-key: key:secret" header value.
func ExtractAPIKey(header string) (key, secret string, ok bool) {
	header = strings.TrimSpace(header)
	key, secret, ok = strings.Cut(header, ":")
	if !ok || key == "" || secret == "" {
		return "", "", false
	}
	return key, secret, true
}
