package auth

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod          = 30
	totpSkew            = 1
	totpSecretSize      = 20
	defaultTOTPDigits   = 6
	defaultBackupCodes  = 10
	backupCodeLength    = 10
	backupCodeAlphabet  = "0123456789abcdefghjkmnpqrstvwxyz"
	backupCodeSeparator = "-"
)

// Sealer encrypts TOTP secrets at rest.
type Sealer interface {
	Seal(value string) (string, error)
	Open(sealed string) (string, error)
}

// AESGCMSealer seals and opens secrets using AES-GCM. The sealed form is
// base64(nonce || ciphertext).
type AESGCMSealer struct {
	aead cipher.AEAD
}

// NewAESGCMSealer builds a sealer from a raw AES key of 16, 24 or 32 bytes.
func NewAESGCMSealer(key []byte) (*AESGCMSealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("auth: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("auth: new gcm: %w", err)
	}
	return &AESGCMSealer{aead: aead}, nil
}

// Seal encrypts value with a fresh random nonce.
func (s *AESGCMSealer) Seal(value string) (string, error) {
	if s == nil || s.aead == nil {
		return "", errors.New("auth: sealer is not configured")
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("auth: read nonce: %w", err)
	}
	payload := s.aead.Seal(nonce, nonce, []byte(value), nil)
	return base64.RawStdEncoding.EncodeToString(payload), nil
}

// Open decrypts a value produced by Seal.
func (s *AESGCMSealer) Open(sealed string) (string, error) {
	if s == nil || s.aead == nil {
		return "", errors.New("auth: sealer is not configured")
	}
	payload, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("auth: decode sealed value: %w", err)
	}
	n := s.aead.NonceSize()
	if len(payload) < n {
		return "", errors.New("auth: sealed value is too short")
	}
	plain, err := s.aead.Open(nil, payload[:n], payload[n:], nil)
	if err != nil {
		return "", fmt.Errorf("auth: decrypt sealed value: %w", err)
	}
	return string(plain), nil
}

// TOTPSecret is a freshly generated secret. Base32 and URI are shown to the
// user once; Sealed is what gets stored.
type TOTPSecret struct {
	Base32 string
	URI    string
	Sealed string
}

// BackupCodeConsumer marks a backup code consumed only if it is not already.
// It returns ErrConflict when another caller consumed it first.
type BackupCodeConsumer interface {
	ConsumeBackupCode(ctx context.Context, userID, hash string, at time.Time) error
}

// TwoFactorEngine generates and verifies TOTP secrets and backup codes.
type TwoFactorEngine struct {
	issuer string
	digits otp.Digits
	sealer Sealer
	rand   io.Reader
}

// NewTwoFactorEngine constructs an engine. digits must be between 6 and 8.
func NewTwoFactorEngine(issuer string, digits int, sealer Sealer) (*TwoFactorEngine, error) {
	if digits == 0 {
		digits = defaultTOTPDigits
	}
	if digits < 6 || digits > 8 {
		return nil, invalidInput("totp digits must be between 6 and 8, got %d", digits)
	}
	if sealer == nil {
		return nil, errors.New("auth: two factor engine requires a sealer")
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = defaultIssuer
	}
	return &TwoFactorEngine{issuer: issuer, digits: otp.Digits(digits), sealer: sealer, rand: rand.Reader}, nil
}

// GenerateSecret creates a TOTP secret for accountName and seals it.
func (e *TwoFactorEngine) GenerateSecret(accountName string) (TOTPSecret, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      e.digits,
		Algorithm:   otp.AlgorithmSHA1,
		Rand:        e.rand,
	})
	if err != nil {
		return TOTPSecret{}, fmt.Errorf("auth: generate totp secret: %w", err)
	}
	sealed, err := e.sealer.Seal(key.Secret())
	if err != nil {
		return TOTPSecret{}, err
	}
	return TOTPSecret{Base32: key.Secret(), URI: key.URL(), Sealed: sealed}, nil
}

// OpenSecret returns the base32 secret of a profile.
func (e *TwoFactorEngine) OpenSecret(p *TwoFactorProfile) (string, error) {
	if p.State() == TwoFactorUnconfigured {
		return "", errTwoFactorNotConfigured
	}
	return e.sealer.Open(p.SealedSecret)
}

// VerifyTOTP checks code against secret at now with one step of skew either way.
func (e *TwoFactorEngine) VerifyTOTP(secret, code string, now time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != e.digits.Length() {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now.UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    e.digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// GenerateTOTPCode returns the code for secret at t. Used by tooling and tests.
func (e *TwoFactorEngine) GenerateTOTPCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t.UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    e.digits,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// GenerateBackupCodes returns n raw codes for display and their hashed form for storage.
func (e *TwoFactorEngine) GenerateBackupCodes(n int) ([]string, []BackupCode, error) {
	if n <= 0 {
		n = defaultBackupCodes
	}
	raw := make([]string, 0, n)
	hashed := make([]BackupCode, 0, n)
	buf := make([]byte, backupCodeLength)
	for len(raw) < n {
		if _, err := io.ReadFull(e.rand, buf); err != nil {
			return nil, nil, fmt.Errorf("auth: generate backup code: %w", err)
		}
		var b strings.Builder
		for i, c := range buf {
			if i == backupCodeLength/2 {
				b.WriteString(backupCodeSeparator)
			}
			b.WriteByte(backupCodeAlphabet[int(c)%len(backupCodeAlphabet)])
		}
		code := b.String()
		raw = append(raw, code)
		hashed = append(hashed, BackupCode{Hash: HashBackupCode(code)})
	}
	return raw, hashed, nil
}

// HashBackupCode normalizes and hashes a backup code.
func HashBackupCode(code string) string {
	normalized := strings.ToLower(strings.TrimSpace(code))
	normalized = strings.ReplaceAll(normalized, backupCodeSeparator, "")
	normalized = strings.ReplaceAll(normalized, " ", "")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// MatchBackupCode returns the index of the unconsumed code matching code, or
// -1. Every stored hash is compared so the position of the match does not
// show in timing.
func (e *TwoFactorEngine) MatchBackupCode(p *TwoFactorProfile, code string) int {
	if p == nil || strings.TrimSpace(code) == "" {
		return -1
	}
	want := []byte(HashBackupCode(code))
	idx := -1
	for i, bc := range p.BackupCodes {
		match := subtle.ConstantTimeCompare([]byte(bc.Hash), want) == 1
		if match && bc.ConsumedAt == nil && idx < 0 {
			idx = i
		}
	}
	return idx
}

// VerifyBackupCode matches code against the profile's unconsumed codes and
// consumes the match through consumer. A code that loses a concurrent
// consumption race is reported as not matching.
func (e *TwoFactorEngine) VerifyBackupCode(ctx context.Context, consumer BackupCodeConsumer, p *TwoFactorProfile, code string, now time.Time) (bool, int, error) {
	idx := e.MatchBackupCode(p, code)
	if idx < 0 {
		return false, -1, nil
	}
	if err := consumer.ConsumeBackupCode(ctx, p.UserID, p.BackupCodes[idx].Hash, now); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return false, -1, nil
		}
		return false, -1, err
	}
	at := now
	p.BackupCodes[idx].ConsumedAt = &at
	return true, idx, nil
}
