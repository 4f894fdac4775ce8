package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
// Every method that checks state before changing it must do both in one
// conditional update and report a lost race as ErrConflict.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	APIKeys(ctx context.Context) APIKeyStore
	Sessions(ctx context.Context) SessionStore
	Challenges(ctx context.Context) ChallengeStore
	TwoFactor(ctx context.Context) TwoFactorStore
}

// UserStore manages users. Find methods return ErrNotFound for unknown rows.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdateStatus(ctx context.Context, id string, status UserStatus) error
}

// RoleStore manages roles.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
}

// APIKeyStore manages API key records.
type APIKeyStore interface {
	Create(ctx context.Context, rec *APIKeyRecord) error
	Find(ctx context.Context, id string) (*APIKeyRecord, error)
	FindByKey(ctx context.Context, key string) (*APIKeyRecord, error)
	UpdateSecret(ctx context.Context, id, key, secretHash string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool, at time.Time) error
}

// SessionStore manages sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	// Activate moves a pending, unrevoked session to active.
	Activate(ctx context.Context, id string, expiresAt time.Time) error
	// Rotate increments the rotation counter only if it still equals from.
	Rotate(ctx context.Context, id string, from int, expiresAt time.Time) (*Session, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeByUser(ctx context.Context, userID string, at time.Time) (int, error)
}

// ChallengeStore tracks single-use 2FA challenges.
type ChallengeStore interface {
	Create(ctx context.Context, c *Challenge) error
	Find(ctx context.Context, id string) (*Challenge, error)
	// Consume marks the challenge consumed only if it is open at at.
	Consume(ctx context.Context, id string, at time.Time) error
}

// TwoFactorStore manages TOTP enrolments and their backup codes.
type TwoFactorStore interface {
	BackupCodeConsumer
	Find(ctx context.Context, userID string) (*TwoFactorProfile, error)
	// Save replaces the profile and its backup codes.
	Save(ctx context.Context, p *TwoFactorProfile) error
	// Confirm sets ConfirmedAt only while it is unset.
	Confirm(ctx context.Context, userID string, at time.Time) error
	ReplaceBackupCodes(ctx context.Context, userID string, codes []BackupCode) error
	Touch(ctx context.Context, userID string, at time.Time) error
	Delete(ctx context.Context, userID string) error
}
