package auth

import "time"

// UserStatus is the lifecycle state of a user account.
type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusBlocked UserStatus = "blocked"
	UserStatusPending UserStatus = "pending"
)

// User represents a principal able to sign in.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	PasswordSalt string
	Status       UserStatus
	RoleID       string
	CountryID    string
	Deleted      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CanSignIn reports whether the account may authenticate at all.
func (u *User) CanSignIn() bool {
	return u != nil && !u.Deleted && u.Status == UserStatusActive
}

// RoleType groups roles by privilege. RoleTypeSuperAdmin bypasses ability checks.
type RoleType string

const (
	RoleTypeSuperAdmin RoleType = "superAdmin"
	RoleTypeAdmin      RoleType = "admin"
	RoleTypeUser       RoleType = "user"
)

// Valid reports whether t is a known role type.
func (t RoleType) Valid() bool {
	switch t {
	case RoleTypeSuperAdmin, RoleTypeAdmin, RoleTypeUser:
		return true
	}
	return false
}

// Role is shared by many users and carries their abilities.
type Role struct {
	ID        string
	Name      string
	Type      RoleType
	Abilities []Ability
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// APIKeyType controls which routes an API key may call.
type APIKeyType string

const (
	APIKeyTypeDefault APIKeyType = "default"
	APIKeyTypeSystem  APIKeyType = "system"
	APIKeyTypePublic  APIKeyType = "public"
)

// Valid reports whether t is a known API key type.
func (t APIKeyType) Valid() bool {
	switch t {
	case APIKeyTypeDefault, APIKeyTypeSystem, APIKeyTypePublic:
		return true
	}
	return false
}

// APIKeyRecord is the persisted form of an API key. The raw secret is never kept.
type APIKeyRecord struct {
	ID         string
	Name       string
	Key        string
	SecretHash string
	Type       APIKeyType
	StartDate  *time.Time
	EndDate    *time.Time
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SessionState distinguishes a session awaiting its second factor from a live one.
type SessionState string

const (
	SessionStatePending SessionState = "pending"
	SessionStateActive  SessionState = "active"
)

// Session backs a refresh-token lineage.
type Session struct {
	ID        string
	UserID    string
	State     SessionState
	Rotation  int
	LoginAt   time.Time
	LoginFrom string
	LoginWith string
	IssuedAt  time.Time
	ExpiresAt time.Time
	IsRevoked bool
	RevokedAt *time.Time
}

// Usable reports whether the session may back new tokens at now.
func (s *Session) Usable(now time.Time) bool {
	return s != nil && !s.IsRevoked && s.State == SessionStateActive && now.Before(s.ExpiresAt)
}

// TwoFactorState is derived from a TwoFactorProfile.
type TwoFactorState string

const (
	TwoFactorUnconfigured        TwoFactorState = "unconfigured"
	TwoFactorPendingConfirmation TwoFactorState = "pendingConfirmation"
	TwoFactorEnabled             TwoFactorState = "enabled"
)

// BackupCode is one hashed single-use recovery code.
type BackupCode struct {
	Hash       string
	ConsumedAt *time.Time
}

// TwoFactorProfile holds a user's TOTP enrolment.
type TwoFactorProfile struct {
	UserID       string
	SealedSecret string
	BackupCodes  []BackupCode
	ConfirmedAt  *time.Time
	LastUsedAt   *time.Time
	CreatedAt    time.Time
}

// State returns the enrolment state. A nil profile is unconfigured.
func (p *TwoFactorProfile) State() TwoFactorState {
	switch {
	case p == nil || p.SealedSecret == "":
		return TwoFactorUnconfigured
	case p.ConfirmedAt == nil:
		return TwoFactorPendingConfirmation
	default:
		return TwoFactorEnabled
	}
}

// Enabled reports whether the profile satisfies a login's second factor.
func (p *TwoFactorProfile) Enabled() bool {
	return p.State() == TwoFactorEnabled
}

// RemainingBackupCodes counts unconsumed codes.
func (p *TwoFactorProfile) RemainingBackupCodes() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, c := range p.BackupCodes {
		if c.ConsumedAt == nil {
			n++
		}
	}
	return n
}

// Challenge correlates a completed password check with a pending second factor.
type Challenge struct {
	ID         string
	UserID     string
	SessionID  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// Open reports whether the challenge may still be consumed at now.
func (c *Challenge) Open(now time.Time) bool {
	return c != nil && c.ConsumedAt == nil && now.Before(c.ExpiresAt)
}

// Login methods recorded on a session.
const (
	LoginWithEmail = "email"

	LoginFromWebsite = "website"
)
