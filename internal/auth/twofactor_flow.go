package auth

import (
	"context"
	"errors"
	"strings"
)

// TwoFactorSetup is returned once when enrolment begins. None of it is stored in clear.
type TwoFactorSetup struct {
	Secret      string   `json:"secret"`
	URI         string   `json:"uri"`
	BackupCodes []string `json:"backupCodes"`
}

// BeginTwoFactorSetup generates a new secret and backup codes, leaving the
// profile pending until ConfirmTwoFactorSetup succeeds. An enabled profile
// must be disabled first.
func (s *Service) BeginTwoFactorSetup(ctx context.Context, userID string) (TwoFactorSetup, error) {
	if s.twoFactor == nil {
		return TwoFactorSetup{}, errTwoFactorNotConfigured
	}
	user, _, err := s.loadActive(ctx, userID)
	if err != nil {
		return TwoFactorSetup{}, err
	}
	existing, err := s.loadTwoFactor(ctx, user.ID)
	if err != nil {
		return TwoFactorSetup{}, err
	}
	if existing.Enabled() {
		return TwoFactorSetup{}, &Error{Kind: KindConflict, Message: "auth: two factor already enabled"}
	}

	secret, err := s.twoFactor.GenerateSecret(user.Email)
	if err != nil {
		return TwoFactorSetup{}, unavailable("generate totp secret", err)
	}
	raw, hashed, err := s.twoFactor.GenerateBackupCodes(s.backupCodes)
	if err != nil {
		return TwoFactorSetup{}, unavailable("generate backup codes", err)
	}
	profile := &TwoFactorProfile{
		UserID:       user.ID,
		SealedSecret: secret.Sealed,
		BackupCodes:  hashed,
		CreatedAt:    s.now(),
	}
	if err := exec(ctx, s, "save two factor", func(c context.Context) error {
		return s.store.TwoFactor(c).Save(c, profile)
	}); err != nil {
		return TwoFactorSetup{}, err
	}
	s.emit(ctx, "auth.2fa.setup_started", map[string]any{"user_id": user.ID})
	return TwoFactorSetup{Secret: secret.Base32, URI: secret.URI, BackupCodes: raw}, nil
}

// ConfirmTwoFactorSetup enables a pending profile after the first valid TOTP code.
func (s *Service) ConfirmTwoFactorSetup(ctx context.Context, userID, code string) error {
	if s.twoFactor == nil {
		return errTwoFactorNotConfigured
	}
	profile, err := s.loadTwoFactor(ctx, userID)
	if err != nil {
		return err
	}
	switch profile.State() {
	case TwoFactorUnconfigured:
		return errTwoFactorNotConfigured
	case TwoFactorEnabled:
		return &Error{Kind: KindConflict, Message: "auth: two factor already enabled"}
	}
	secret, err := s.twoFactor.OpenSecret(profile)
	if err != nil {
		return unavailable("open totp secret", err)
	}
	now := s.now()
	if !s.twoFactor.VerifyTOTP(secret, strings.TrimSpace(code), now) {
		return s.wrongCode(ctx, userID)
	}
	if err := exec(ctx, s, "confirm two factor", func(c context.Context) error {
		return s.store.TwoFactor(c).Confirm(c, userID, now)
	}); err != nil {
		return err
	}
	s.emit(ctx, "auth.2fa.enabled", map[string]any{"user_id": userID})
	return nil
}

// DisableTwoFactor removes an enrolment. A valid TOTP or backup code is required.
func (s *Service) DisableTwoFactor(ctx context.Context, userID, code string) error {
	profile, err := s.enabledProfile(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.verifySecondFactor(ctx, profile, code); err != nil {
		return err
	}
	if err := exec(ctx, s, "delete two factor", func(c context.Context) error {
		return s.store.TwoFactor(c).Delete(c, userID)
	}); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	s.emit(ctx, "auth.2fa.disabled", map[string]any{"user_id": userID})
	return nil
}

// RegenerateBackupCodes replaces every backup code. A valid TOTP code is required.
func (s *Service) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	profile, err := s.enabledProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	secret, err := s.twoFactor.OpenSecret(profile)
	if err != nil {
		return nil, unavailable("open totp secret", err)
	}
	if !s.twoFactor.VerifyTOTP(secret, strings.TrimSpace(code), s.now()) {
		return nil, s.wrongCode(ctx, userID)
	}
	raw, hashed, err := s.twoFactor.GenerateBackupCodes(s.backupCodes)
	if err != nil {
		return nil, unavailable("generate backup codes", err)
	}
	if err := exec(ctx, s, "replace backup codes", func(c context.Context) error {
		return s.store.TwoFactor(c).ReplaceBackupCodes(c, userID, hashed)
	}); err != nil {
		return nil, err
	}
	s.emit(ctx, "auth.2fa.backup_codes_regenerated", map[string]any{"user_id": userID, "count": len(raw)})
	return raw, nil
}

func (s *Service) enabledProfile(ctx context.Context, userID string) (*TwoFactorProfile, error) {
	if s.twoFactor == nil {
		return nil, errTwoFactorNotConfigured
	}
	profile, err := s.loadTwoFactor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !profile.Enabled() {
		return nil, errTwoFactorNotConfigured
	}
	return profile, nil
}

// verifySecondFactor accepts a TOTP code, falling back to consuming a backup code.
func (s *Service) verifySecondFactor(ctx context.Context, profile *TwoFactorProfile, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return invalidInput("code is required")
	}
	now := s.now()
	secret, err := s.twoFactor.OpenSecret(profile)
	if err != nil {
		return unavailable("open totp secret", err)
	}
	if s.twoFactor.VerifyTOTP(secret, code, now) {
		return nil
	}
	var ok bool
	err = withTimeout(ctx, s, func(c context.Context) error {
		var verr error
		ok, _, verr = s.twoFactor.VerifyBackupCode(c, s.store.TwoFactor(c), profile, code, now)
		return verr
	})
	if err != nil {
		return unavailable("consume backup code", err)
	}
	if !ok {
		return s.wrongCode(ctx, profile.UserID)
	}
	return nil
}
