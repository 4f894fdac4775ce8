package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestSealer(t *testing.T) *AESGCMSealer {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	s, err := NewAESGCMSealer(key)
	if err != nil {
		t.Fatalf("NewAESGCMSealer: %v", err)
	}
	return s
}

func newTestEngine(t *testing.T, digits int) *TwoFactorEngine {
	t.Helper()
	e, err := NewTwoFactorEngine("authcore-test", digits, newTestSealer(t))
	if err != nil {
		t.Fatalf("NewTwoFactorEngine: %v", err)
	}
	return e
}

func TestSealerRoundTrip(t *testing.T) {
	s := newTestSealer(t)
	a, err := s.Seal("JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	b, _ := s.Seal("JBSWY3DPEHPK3PXP")
	if a == b {
		t.Fatalf("nonce must differ between seals")
	}
	plain, err := s.Open(a)
	if err != nil || plain != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("Open = %q, %v", plain, err)
	}
	if _, err := newTestSealer(t).Open(a); err == nil {
		t.Fatalf("foreign key must not open")
	}
	if _, err := s.Open("short"); err == nil {
		t.Fatalf("truncated payload must fail")
	}
}

func TestNewTwoFactorEngineDigits(t *testing.T) {
	sealer := newTestSealer(t)
	for _, d := range []int{0, 6, 7, 8} {
		if _, err := NewTwoFactorEngine("", d, sealer); err != nil {
			t.Fatalf("digits %d rejected: %v", d, err)
		}
	}
	for _, d := range []int{5, 9} {
		if _, err := NewTwoFactorEngine("", d, sealer); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("digits %d: expected invalid input, got %v", d, err)
		}
	}
	if _, err := NewTwoFactorEngine("", 6, nil); err == nil {
		t.Fatalf("missing sealer must fail")
	}
}

func TestTOTPSkewWindow(t *testing.T) {
	e := newTestEngine(t, 6)
	secret, err := e.GenerateSecret("alice@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if !strings.HasPrefix(secret.URI, "otpauth://totp/") || !strings.Contains(secret.URI, "issuer=authcore-test") {
		t.Fatalf("unexpected uri %q", secret.URI)
	}
	opened, err := e.OpenSecret(&TwoFactorProfile{SealedSecret: secret.Sealed})
	if err != nil || opened != secret.Base32 {
		t.Fatalf("OpenSecret = %q, %v", opened, err)
	}

	now := time.Date(2025, 3, 1, 10, 0, 15, 0, time.UTC)
	code, err := e.GenerateTOTPCode(secret.Base32, now)
	if err != nil {
		t.Fatalf("GenerateTOTPCode: %v", err)
	}
	for _, offset := range []time.Duration{0, -30 * time.Second, 30 * time.Second} {
		if !e.VerifyTOTP(secret.Base32, code, now.Add(offset)) {
			t.Fatalf("code should verify at offset %v", offset)
		}
	}
	for _, offset := range []time.Duration{-90 * time.Second, 90 * time.Second} {
		if e.VerifyTOTP(secret.Base32, code, now.Add(offset)) {
			t.Fatalf("code should not verify at offset %v", offset)
		}
	}
	if e.VerifyTOTP(secret.Base32, code[:5], now) {
		t.Fatalf("short code must fail")
	}
}

func TestTOTPEightDigits(t *testing.T) {
	e := newTestEngine(t, 8)
	secret, _ := e.GenerateSecret("bob")
	now := time.Now()
	code, err := e.GenerateTOTPCode(secret.Base32, now)
	if err != nil || len(code) != 8 {
		t.Fatalf("GenerateTOTPCode = %q, %v", code, err)
	}
	if !e.VerifyTOTP(secret.Base32, code, now) {
		t.Fatalf("8 digit code should verify")
	}
}

func TestOpenSecretUnconfigured(t *testing.T) {
	e := newTestEngine(t, 6)
	if _, err := e.OpenSecret(nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected not configured, got %v", err)
	}
}

func TestGenerateBackupCodes(t *testing.T) {
	e := newTestEngine(t, 6)
	raw, hashed, err := e.GenerateBackupCodes(0)
	if err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}
	if len(raw) != defaultBackupCodes || len(hashed) != defaultBackupCodes {
		t.Fatalf("expected %d codes, got %d", defaultBackupCodes, len(raw))
	}
	seen := map[string]bool{}
	for i, code := range raw {
		if len(code) != backupCodeLength+1 || code[backupCodeLength/2] != '-' {
			t.Fatalf("unexpected code shape %q", code)
		}
		if seen[code] {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = true
		if hashed[i].Hash != HashBackupCode(code) || strings.Contains(hashed[i].Hash, code) {
			t.Fatalf("hash mismatch for %q", code)
		}
	}
}

func TestHashBackupCodeNormalizes(t *testing.T) {
	want := HashBackupCode("abcde-fghjk")
	for _, in := range []string{"ABCDE-FGHJK", "abcdefghjk", " abcde fghjk "} {
		if HashBackupCode(in) != want {
			t.Fatalf("%q should normalize to the same hash", in)
		}
	}
}

func TestMatchBackupCodeSkipsConsumed(t *testing.T) {
	e := newTestEngine(t, 6)
	used := time.Now()
	p := &TwoFactorProfile{BackupCodes: []BackupCode{
		{Hash: HashBackupCode("aaaaa-aaaaa"), ConsumedAt: &used},
		{Hash: HashBackupCode("bbbbb-bbbbb")},
	}}
	if got := e.MatchBackupCode(p, "bbbbb-bbbbb"); got != 1 {
		t.Fatalf("expected index 1, got %d", got)
	}
	if got := e.MatchBackupCode(p, "aaaaa-aaaaa"); got != -1 {
		t.Fatalf("consumed code must not match, got %d", got)
	}
	if got := e.MatchBackupCode(p, ""); got != -1 {
		t.Fatalf("empty code must not match")
	}
}

type onceConsumer struct {
	mu   sync.Mutex
	used map[string]bool
	err  error
}

func (c *onceConsumer) ConsumeBackupCode(_ context.Context, userID, hash string, _ time.Time) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.used[userID+hash] {
		return ErrConflict
	}
	c.used[userID+hash] = true
	return nil
}

func TestVerifyBackupCodeSingleUse(t *testing.T) {
	e := newTestEngine(t, 6)
	raw, hashed, _ := e.GenerateBackupCodes(3)
	consumer := &onceConsumer{used: map[string]bool{}}
	now := time.Now()

	const workers = 16
	results := make(chan bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := &TwoFactorProfile{UserID: "u1", BackupCodes: append([]BackupCode(nil), hashed...)}
			ok, _, err := e.VerifyBackupCode(context.Background(), consumer, p, raw[1], now)
			results <- ok && err == nil
		}()
	}
	wg.Wait()
	close(results)
	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one successful redemption, got %d", wins)
	}
}

func TestVerifyBackupCodeStoreFailure(t *testing.T) {
	e := newTestEngine(t, 6)
	raw, hashed, _ := e.GenerateBackupCodes(1)
	boom := errors.New("boom")
	p := &TwoFactorProfile{UserID: "u1", BackupCodes: hashed}
	ok, idx, err := e.VerifyBackupCode(context.Background(), &onceConsumer{err: boom}, p, raw[0], time.Now())
	if ok || idx != -1 || !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v %d %v", ok, idx, err)
	}
	if p.BackupCodes[0].ConsumedAt != nil {
		t.Fatalf("failed consumption must not mark the code")
	}
}

func TestGenerateSecretUsesEngineRand(t *testing.T) {
	e := newTestEngine(t, 6)
	e.rand = bytes.NewReader(bytes.Repeat([]byte{7}, 64))
	a, err := e.GenerateSecret("x")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	e.rand = bytes.NewReader(bytes.Repeat([]byte{7}, 64))
	b, _ := e.GenerateSecret("x")
	if a.Base32 != b.Base32 {
		t.Fatalf("secret should come from the engine's reader")
	}
}
