package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"authcore.dev/internal/ids"
)

const (
	defaultAccessTTL    = 15 * time.Minute
	defaultRefreshTTL   = 24 * time.Hour * 14
	defaultChallengeTTL = 300 * time.Second
	defaultStoreTimeout = 3 * time.Second
)

// Login outcomes reported to the Observer.
const (
	LoginOutcomeSuccess            = "success"
	LoginOutcomeChallenge          = "challenge"
	LoginOutcomeInvalidCredentials = "invalid_credentials"
	LoginOutcomeError              = "error"
)

// Observer receives counters for security relevant decisions.
type Observer interface {
	ObserveLogin(outcome string)
	ObserveTokenRejection(reason string)
	ObserveAPIKeyRejection(reason string)
	ObserveAbilityDecision(reason string)
}

type nopObserver struct{}

func (nopObserver) ObserveLogin(string)           {}
func (nopObserver) ObserveTokenRejection(string)  {}
func (nopObserver) ObserveAPIKeyRejection(string) {}
func (nopObserver) ObserveAbilityDecision(string) {}

// Auditor records an audit event. audit.LogEvent satisfies it.
type Auditor func(ctx context.Context, event string, fields map[string]any) error

// Service composes the credential, token, 2FA and ability components into the
// login, refresh and two-factor flows.
type Service struct {
	store      Store
	challenges ChallengeStore
	tokens     *TokenIssuer
	twoFactor  *TwoFactorEngine
	now        func() time.Time
	logger     *slog.Logger
	observer   Observer
	audit      Auditor

	accessTTL    time.Duration
	refreshTTL   time.Duration
	challengeTTL time.Duration
	storeTimeout time.Duration
	backupCodes  int
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTwoFactorEngine enables 2FA enrolment and challenges.
func WithTwoFactorEngine(e *TwoFactorEngine) ServiceOption {
	return func(s *Service) error {
		s.twoFactor = e
		return nil
	}
}

// WithChallengeStore overrides the store's challenge persistence, e.g. with Redis.
func WithChallengeStore(cs ChallengeStore) ServiceOption {
	return func(s *Service) error {
		s.challenges = cs
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token and session lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithChallengeTTL configures how long a 2FA challenge stays open.
func WithChallengeTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.challengeTTL = ttl
		}
		return nil
	}
}

// WithStoreTimeout bounds every individual store call.
func WithStoreTimeout(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d > 0 {
			s.storeTimeout = d
		}
		return nil
	}
}

// WithBackupCodeCount sets how many backup codes an enrolment receives.
func WithBackupCodeCount(n int) ServiceOption {
	return func(s *Service) error {
		if n < 0 {
			return errors.New("auth: backup code count must not be negative")
		}
		if n > 0 {
			s.backupCodes = n
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithObserver sets the metrics sink.
func WithObserver(o Observer) ServiceOption {
	return func(s *Service) error {
		if o != nil {
			s.observer = o
		}
		return nil
	}
}

// WithAuditor sets the audit sink.
func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) error {
		s.audit = a
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	svc := &Service{
		store:        store,
		tokens:       tokens,
		now:          time.Now,
		logger:       slog.Default(),
		observer:     nopObserver{},
		accessTTL:    defaultAccessTTL,
		refreshTTL:   defaultRefreshTTL,
		challengeTTL: defaultChallengeTTL,
		storeTimeout: defaultStoreTimeout,
		backupCodes:  defaultBackupCodes,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Tokens exposes the issuer, e.g. for the JWKS endpoint.
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

// LoginRequest carries password credentials.
type LoginRequest struct {
	Email    string
	Password string
	From     string
}

// TwoFactorRequest completes a challenged login with a TOTP or backup code.
type TwoFactorRequest struct {
	ChallengeToken string
	Code           string
	BackupCode     string
}

// LoginResult is either an issued token pair or a pending 2FA challenge.
type LoginResult struct {
	TokenType    string   `json:"tokenType,omitempty"`
	RoleType     RoleType `json:"roleType,omitempty"`
	ExpiresIn    int64    `json:"expiresIn,omitempty"`
	AccessToken  string   `json:"accessToken,omitempty"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	SessionID    string   `json:"-"`
	UserID       string   `json:"-"`

	TwoFactorRequired    bool   `json:"twoFactorRequired,omitempty"`
	ChallengeToken       string `json:"challengeToken,omitempty"`
	ChallengeExpiresInMs int64  `json:"challengeExpiresInMs,omitempty"`
}

// Login verifies password credentials. Unknown accounts, inactive accounts and
// wrong passwords all fail with ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return LoginResult{}, s.loginFailed(ctx, email, "missing_credentials")
	}

	user, err := call(ctx, s, "find user", func(c context.Context) (*User, error) {
		return s.store.Users(c).FindByEmail(c, email)
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.observer.ObserveLogin(LoginOutcomeError)
		return LoginResult{}, err
	}
	if user == nil {
		VerifyPassword(req.Password, dummyHash().Hash, "")
		return LoginResult{}, s.loginFailed(ctx, email, "unknown_user")
	}
	if !VerifyPassword(req.Password, user.PasswordHash, user.PasswordSalt) {
		return LoginResult{}, s.loginFailed(ctx, email, "wrong_password")
	}
	if !user.CanSignIn() {
		return LoginResult{}, s.loginFailed(ctx, email, "inactive_user")
	}
	role, err := s.loadRole(ctx, user.RoleID)
	if err != nil {
		s.observer.ObserveLogin(LoginOutcomeError)
		return LoginResult{}, err
	}
	if role == nil {
		return LoginResult{}, s.loginFailed(ctx, email, "inactive_role")
	}

	profile, err := s.loadTwoFactor(ctx, user.ID)
	if err != nil {
		s.observer.ObserveLogin(LoginOutcomeError)
		return LoginResult{}, err
	}

	from := strings.TrimSpace(req.From)
	if from == "" {
		from = LoginFromWebsite
	}
	now := s.now()
	if profile.Enabled() && s.twoFactor == nil {
		// An enrolled user never gets tokens without the second factor.
		s.observer.ObserveLogin(LoginOutcomeError)
		s.logger.ErrorContext(ctx, "two factor enrolment present but no engine configured", slog.String("user_id", user.ID))
		return LoginResult{}, errTwoFactorUnavailable
	}
	if profile.Enabled() {
		res, err := s.beginChallenge(ctx, user, from, now)
		if err != nil {
			s.observer.ObserveLogin(LoginOutcomeError)
			return LoginResult{}, err
		}
		s.observer.ObserveLogin(LoginOutcomeChallenge)
		s.emit(ctx, "auth.login.challenge", map[string]any{"user_id": user.ID, "session_id": res.SessionID})
		return res, nil
	}

	sess := s.newSession(user.ID, from, now, SessionStateActive)
	if err := exec(ctx, s, "create session", func(c context.Context) error {
		return s.store.Sessions(c).Create(c, sess)
	}); err != nil {
		s.observer.ObserveLogin(LoginOutcomeError)
		return LoginResult{}, err
	}
	res, err := s.issueTokens(user, role, sess)
	if err != nil {
		s.observer.ObserveLogin(LoginOutcomeError)
		return LoginResult{}, err
	}
	s.observer.ObserveLogin(LoginOutcomeSuccess)
	s.emit(ctx, "auth.login.succeeded", map[string]any{"user_id": user.ID, "session_id": sess.ID, "role_type": string(role.Type)})
	return res, nil
}

func (s *Service) loginFailed(ctx context.Context, email, cause string) error {
	s.observer.ObserveLogin(LoginOutcomeInvalidCredentials)
	s.logger.InfoContext(ctx, "login rejected", slog.String("cause", cause))
	s.emit(ctx, "auth.login.failed", map[string]any{"reason": string(KindInvalidCredentials), "email": email})
	return ErrInvalidCredentials
}

// beginChallenge creates a pending session and its challenge. The session is
// deleted again if the challenge cannot be issued.
func (s *Service) beginChallenge(ctx context.Context, user *User, from string, now time.Time) (LoginResult, error) {
	sess := s.newSession(user.ID, from, now, SessionStatePending)
	if err := exec(ctx, s, "create session", func(c context.Context) error {
		return s.store.Sessions(c).Create(c, sess)
	}); err != nil {
		return LoginResult{}, err
	}
	ch := &Challenge{
		ID:        ids.New(),
		UserID:    user.ID,
		SessionID: sess.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.challengeTTL),
	}
	token, exp, err := s.tokens.IssueChallenge(user.ID, sess.ID, ch.ID, s.challengeTTL)
	if err == nil {
		err = exec(ctx, s, "create challenge", func(c context.Context) error {
			return s.challengeStore(c).Create(c, ch)
		})
	}
	if err != nil {
		s.rollbackSession(ctx, sess.ID)
		return LoginResult{}, unavailable("issue challenge", err)
	}
	return LoginResult{
		TwoFactorRequired:    true,
		ChallengeToken:       token,
		ChallengeExpiresInMs: exp.Sub(now).Milliseconds(),
		SessionID:            sess.ID,
		UserID:               user.ID,
	}, nil
}

func (s *Service) rollbackSession(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	if err := exec(ctx, s, "delete session", func(c context.Context) error {
		return s.store.Sessions(c).Delete(c, id)
	}); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.ErrorContext(ctx, "pending session rollback failed", slog.String("session_id", id), slog.Any("error", err))
	}
}

// CompleteTwoFactor redeems a challenge with a TOTP or backup code. A wrong
// code leaves the challenge open for another attempt.
func (s *Service) CompleteTwoFactor(ctx context.Context, req TwoFactorRequest) (LoginResult, error) {
	if s.twoFactor == nil {
		return LoginResult{}, errTwoFactorNotConfigured
	}
	claims, err := s.tokens.VerifyChallenge(req.ChallengeToken)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return LoginResult{}, ErrChallengeExpired
		}
		return LoginResult{}, s.rejectToken(ctx, err)
	}
	code := strings.TrimSpace(req.Code)
	backup := strings.TrimSpace(req.BackupCode)
	if code == "" && backup == "" {
		return LoginResult{}, invalidInput("code or backup code is required")
	}

	ch, err := call(ctx, s, "find challenge", func(c context.Context) (*Challenge, error) {
		return s.challengeStore(c).Find(c, claims.ID)
	})
	if errors.Is(err, ErrNotFound) {
		return LoginResult{}, ErrChallengeExpired
	}
	if err != nil {
		return LoginResult{}, err
	}
	now := s.now()
	if !ch.Open(now) || ch.UserID != claims.Subject || ch.SessionID != claims.SessionID {
		return LoginResult{}, ErrChallengeExpired
	}

	user, role, err := s.loadActive(ctx, ch.UserID)
	if err != nil {
		return LoginResult{}, err
	}
	profile, err := s.loadTwoFactor(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	if !profile.Enabled() {
		return LoginResult{}, ErrChallengeExpired
	}

	method := "totp"
	if code != "" {
		secret, err := s.twoFactor.OpenSecret(profile)
		if err != nil {
			return LoginResult{}, unavailable("open totp secret", err)
		}
		if !s.twoFactor.VerifyTOTP(secret, code, now) {
			return LoginResult{}, s.wrongCode(ctx, user.ID)
		}
	} else {
		method = "backup_code"
		if s.twoFactor.MatchBackupCode(profile, backup) < 0 {
			return LoginResult{}, s.wrongCode(ctx, user.ID)
		}
	}

	if err := exec(ctx, s, "consume challenge", func(c context.Context) error {
		return s.challengeStore(c).Consume(c, ch.ID, now)
	}); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrChallengeExpired
		}
		return LoginResult{}, err
	}

	if method == "backup_code" {
		var ok bool
		err := withTimeout(ctx, s, func(c context.Context) error {
			var verr error
			ok, _, verr = s.twoFactor.VerifyBackupCode(c, s.store.TwoFactor(c), profile, backup, now)
			return verr
		})
		if err != nil {
			return LoginResult{}, unavailable("consume backup code", err)
		}
		if !ok {
			return LoginResult{}, s.wrongCode(ctx, user.ID)
		}
	}

	sess, err := call(ctx, s, "find session", func(c context.Context) (*Session, error) {
		return s.store.Sessions(c).Find(c, ch.SessionID)
	})
	if errors.Is(err, ErrNotFound) {
		return LoginResult{}, ErrSessionRevoked
	}
	if err != nil {
		return LoginResult{}, err
	}
	sess.State = SessionStateActive
	sess.ExpiresAt = now.Add(s.refreshTTL)
	if err := exec(ctx, s, "activate session", func(c context.Context) error {
		return s.store.Sessions(c).Activate(c, sess.ID, sess.ExpiresAt)
	}); err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrSessionRevoked
		}
		return LoginResult{}, err
	}

	if err := exec(ctx, s, "touch two factor", func(c context.Context) error {
		return s.store.TwoFactor(c).Touch(c, user.ID, now)
	}); err != nil {
		s.logger.WarnContext(ctx, "two factor last used update failed", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	res, err := s.issueTokens(user, role, sess)
	if err != nil {
		return LoginResult{}, err
	}
	s.observer.ObserveLogin(LoginOutcomeSuccess)
	s.emit(ctx, "auth.2fa.verified", map[string]any{
		"user_id":        user.ID,
		"session_id":     sess.ID,
		"method":         method,
		"backup_remains": profile.RemainingBackupCodes(),
	})
	return res, nil
}

func (s *Service) wrongCode(ctx context.Context, userID string) error {
	s.emit(ctx, "auth.2fa.failed", map[string]any{"user_id": userID})
	return ErrInvalidTwoFactorCode
}

// Refresh redeems a refresh token for a new pair. The session's rotation
// counter must match the token; a stale token revokes the whole session.
func (s *Service) Refresh(ctx context.Context, raw string) (LoginResult, error) {
	claims, err := s.tokens.VerifyRefresh(raw)
	if err != nil {
		return LoginResult{}, s.rejectToken(ctx, err)
	}
	sess, err := call(ctx, s, "find session", func(c context.Context) (*Session, error) {
		return s.store.Sessions(c).Find(c, claims.SessionID)
	})
	if errors.Is(err, ErrNotFound) {
		return LoginResult{}, s.rejectToken(ctx, ErrSessionRevoked)
	}
	if err != nil {
		return LoginResult{}, err
	}
	if sess.UserID != claims.Subject || sess.IsRevoked || sess.State != SessionStateActive {
		return LoginResult{}, s.rejectToken(ctx, ErrSessionRevoked)
	}
	now := s.now()
	if !now.Before(sess.ExpiresAt) {
		return LoginResult{}, s.rejectToken(ctx, ErrTokenExpired)
	}
	if claims.Rotation != sess.Rotation {
		s.revokeSession(ctx, sess.ID, now)
		s.emit(ctx, "auth.refresh.reuse_detected", map[string]any{
			"user_id":    sess.UserID,
			"session_id": sess.ID,
			"presented":  claims.Rotation,
			"current":    sess.Rotation,
		})
		return LoginResult{}, s.rejectToken(ctx, ErrSessionRevoked)
	}

	user, role, err := s.loadActive(ctx, sess.UserID)
	if err != nil {
		return LoginResult{}, err
	}

	rotated, err := call(ctx, s, "rotate session", func(c context.Context) (*Session, error) {
		return s.store.Sessions(c).Rotate(c, sess.ID, claims.Rotation, now.Add(s.refreshTTL))
	})
	if errors.Is(err, ErrConflict) {
		return LoginResult{}, s.rejectToken(ctx, ErrConcurrentRefresh)
	}
	if errors.Is(err, ErrNotFound) {
		return LoginResult{}, s.rejectToken(ctx, ErrSessionRevoked)
	}
	if err != nil {
		return LoginResult{}, err
	}
	res, err := s.issueTokens(user, role, rotated)
	if err != nil {
		return LoginResult{}, err
	}
	s.emit(ctx, "auth.refresh.succeeded", map[string]any{"user_id": user.ID, "session_id": rotated.ID, "rotation": rotated.Rotation})
	return res, nil
}

// Logout revokes one session. Revoking an unknown session is not an error.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return invalidInput("session id is required")
	}
	err := exec(ctx, s, "revoke session", func(c context.Context) error {
		return s.store.Sessions(c).Revoke(c, sessionID, s.now())
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	s.emit(ctx, "auth.logout", map[string]any{"session_id": sessionID})
	return nil
}

// RevokeAllSessions revokes every session of a user and returns how many were live.
func (s *Service) RevokeAllSessions(ctx context.Context, userID string) (int, error) {
	n, err := call(ctx, s, "revoke user sessions", func(c context.Context) (int, error) {
		return s.store.Sessions(c).RevokeByUser(c, userID, s.now())
	})
	if err != nil {
		return 0, err
	}
	s.emit(ctx, "auth.sessions.revoked", map[string]any{"user_id": userID, "count": n})
	return n, nil
}

// AuthenticateToken resolves a bearer access token into a principal. The
// session and the account are re-checked so revocation and blocking take
// effect before the token expires.
func (s *Service) AuthenticateToken(ctx context.Context, raw string) (Principal, error) {
	claims, err := s.tokens.VerifyAccess(raw)
	if err != nil {
		return Principal{}, s.rejectToken(ctx, err)
	}
	sess, err := call(ctx, s, "find session", func(c context.Context) (*Session, error) {
		return s.store.Sessions(c).Find(c, claims.SessionID)
	})
	if errors.Is(err, ErrNotFound) {
		return Principal{}, s.rejectToken(ctx, ErrSessionRevoked)
	}
	if err != nil {
		return Principal{}, err
	}
	if sess.UserID != claims.Subject || !sess.Usable(s.now()) {
		return Principal{}, s.rejectToken(ctx, ErrSessionRevoked)
	}
	user, role, err := s.loadActive(ctx, claims.Subject)
	if err != nil {
		return Principal{}, err
	}
	p := NewPrincipal(user, role)
	p.SessionID = sess.ID
	return p, nil
}

// Principal loads a user with its resolved role.
func (s *Service) Principal(ctx context.Context, userID string) (Principal, error) {
	user, role, err := s.loadActive(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	return NewPrincipal(user, role), nil
}

// Authorize evaluates (subject, action) for p and returns ErrForbidden on denial.
// The superAdmin bypass is audited.
func (s *Service) Authorize(ctx context.Context, p Principal, subject Subject, action Action) error {
	d := Evaluate(p.RoleType(), p.Abilities(), subject, action)
	return s.decide(ctx, p, d, map[string]any{"subject": string(subject), "action": string(action)})
}

// AuthorizeAll is Authorize for a set of required abilities.
func (s *Service) AuthorizeAll(ctx context.Context, p Principal, required []Ability) error {
	d := CanAll(p.RoleType(), p.Abilities(), required)
	return s.decide(ctx, p, d, map[string]any{"required": abilityStrings(required)})
}

func (s *Service) decide(ctx context.Context, p Principal, d Decision, fields map[string]any) error {
	s.observer.ObserveAbilityDecision(string(d.Reason))
	userID := ""
	if p.User != nil {
		userID = p.User.ID
	}
	fields["user_id"] = userID
	switch d.Reason {
	case DecisionSuperAdmin:
		s.emit(ctx, "auth.ability.super_admin_bypass", fields)
	case DecisionDenied:
		s.emit(ctx, "auth.ability.denied", fields)
	}
	if !d.Allowed {
		return ErrForbidden
	}
	return nil
}

func abilityStrings(abilities []Ability) []string {
	out := make([]string, 0, len(abilities))
	for _, a := range abilities {
		out = append(out, a.String())
	}
	return out
}

func (s *Service) issueTokens(user *User, role *Role, sess *Session) (LoginResult, error) {
	now := s.now()
	if !now.Before(sess.ExpiresAt) {
		return LoginResult{}, ErrSessionRevoked
	}
	subj := TokenSubject{
		UserID:    user.ID,
		SessionID: sess.ID,
		RoleType:  role.Type,
		Rotation:  sess.Rotation,
		LoginAt:   sess.LoginAt,
		LoginFrom: sess.LoginFrom,
		LoginWith: sess.LoginWith,
		NotAfter:  sess.ExpiresAt,
	}
	access, accessExp, err := s.tokens.IssueAccess(subj, s.accessTTL)
	if err != nil {
		return LoginResult{}, unavailable("issue access token", err)
	}
	refresh, _, err := s.tokens.IssueRefresh(subj, s.refreshTTL)
	if err != nil {
		return LoginResult{}, unavailable("issue refresh token", err)
	}
	return LoginResult{
		TokenType:    "Bearer",
		RoleType:     role.Type,
		ExpiresIn:    int64(accessExp.Sub(now) / time.Second),
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    sess.ID,
		UserID:       user.ID,
	}, nil
}

func (s *Service) newSession(userID, from string, now time.Time, state SessionState) *Session {
	return &Session{
		ID:        ids.New(),
		UserID:    userID,
		State:     state,
		LoginAt:   now,
		LoginFrom: from,
		LoginWith: LoginWithEmail,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
}

func (s *Service) revokeSession(ctx context.Context, id string, now time.Time) {
	if err := exec(ctx, s, "revoke session", func(c context.Context) error {
		return s.store.Sessions(c).Revoke(c, id, now)
	}); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.ErrorContext(ctx, "session revoke failed", slog.String("session_id", id), slog.Any("error", err))
	}
}

// loadActive loads a user that may sign in together with its active role.
func (s *Service) loadActive(ctx context.Context, userID string) (*User, *Role, error) {
	user, err := call(ctx, s, "find user", func(c context.Context) (*User, error) {
		return s.store.Users(c).Find(c, userID)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if !user.CanSignIn() {
		return nil, nil, ErrInvalidCredentials
	}
	role, err := s.loadRole(ctx, user.RoleID)
	if err != nil {
		return nil, nil, err
	}
	if role == nil {
		return nil, nil, ErrInvalidCredentials
	}
	return user, role, nil
}

// loadRole returns nil without error when the role is missing or inactive.
func (s *Service) loadRole(ctx context.Context, roleID string) (*Role, error) {
	role, err := call(ctx, s, "find role", func(c context.Context) (*Role, error) {
		return s.store.Roles(c).Find(c, roleID)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !role.IsActive {
		return nil, nil
	}
	return role, nil
}

// loadTwoFactor returns nil without error when the user has no profile.
func (s *Service) loadTwoFactor(ctx context.Context, userID string) (*TwoFactorProfile, error) {
	p, err := call(ctx, s, "find two factor", func(c context.Context) (*TwoFactorProfile, error) {
		return s.store.TwoFactor(c).Find(c, userID)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (s *Service) challengeStore(ctx context.Context) ChallengeStore {
	if s.challenges != nil {
		return s.challenges
	}
	return s.store.Challenges(ctx)
}

func (s *Service) rejectToken(ctx context.Context, err error) error {
	reason := ReasonOf(err)
	s.observer.ObserveTokenRejection(string(reason))
	if IsSuspicious(err) {
		s.logger.WarnContext(ctx, "suspicious token rejected", slog.String("reason", string(reason)))
	}
	return err
}

func (s *Service) emit(ctx context.Context, event string, fields map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit(ctx, event, fields); err != nil {
		s.logger.WarnContext(ctx, "audit event dropped", slog.String("event", event), slog.Any("error", err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// call runs one store operation under the store timeout.
func call[T any](ctx context.Context, s *Service, op string, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	v, err := fn(cctx)
	if err != nil {
		var zero T
		return zero, unavailable(op, err)
	}
	return v, nil
}

func exec(ctx context.Context, s *Service, op string, fn func(context.Context) error) error {
	_, err := call(ctx, s, op, func(c context.Context) (struct{}, error) {
		return struct{}{}, fn(c)
	})
	return err
}

func withTimeout(ctx context.Context, s *Service, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return fn(cctx)
}
