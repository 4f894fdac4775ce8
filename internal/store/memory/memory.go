// Package memory is an in-process auth.Store for tests, local runs and
// single-node deployments. Records are copied on the way in and out so callers
// never share mutable state with the store.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"authcore.dev/internal/auth"
)

var _ auth.Store = (*Store)(nil)

// Store keeps every auth record in memory behind one mutex.
type Store struct {
	mu         sync.Mutex
	users      map[string]auth.User
	emails     map[string]string
	roles      map[string]auth.Role
	apiKeys    map[string]auth.APIKeyRecord
	keyIndex   map[string]string
	sessions   map[string]auth.Session
	challenges map[string]auth.Challenge
	twoFactor  map[string]auth.TwoFactorProfile
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:      make(map[string]auth.User),
		emails:     make(map[string]string),
		roles:      make(map[string]auth.Role),
		apiKeys:    make(map[string]auth.APIKeyRecord),
		keyIndex:   make(map[string]string),
		sessions:   make(map[string]auth.Session),
		challenges: make(map[string]auth.Challenge),
		twoFactor:  make(map[string]auth.TwoFactorProfile),
	}
}

func (s *Store) Users(context.Context) auth.UserStore           { return userStore{s} }
func (s *Store) Roles(context.Context) auth.RoleStore           { return roleStore{s} }
func (s *Store) APIKeys(context.Context) auth.APIKeyStore       { return apiKeyStore{s} }
func (s *Store) Sessions(context.Context) auth.SessionStore     { return sessionStore{s} }
func (s *Store) Challenges(context.Context) auth.ChallengeStore { return challengeStore{s} }
func (s *Store) TwoFactor(context.Context) auth.TwoFactorStore  { return twoFactorStore{s} }

func (s *Store) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	return nil
}

type userStore struct{ s *Store }

func (u userStore) Create(ctx context.Context, user *auth.User) error {
	if err := u.s.lock(ctx); err != nil {
		return err
	}
	defer u.s.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if _, ok := u.s.users[user.ID]; ok {
		return auth.ErrConflict
	}
	if _, ok := u.s.emails[email]; ok {
		return auth.ErrConflict
	}
	cp := *user
	cp.Email = email
	u.s.users[user.ID] = cp
	u.s.emails[email] = user.ID
	return nil
}

func (u userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	if err := u.s.lock(ctx); err != nil {
		return nil, err
	}
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &user, nil
}

func (u userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if err := u.s.lock(ctx); err != nil {
		return nil, err
	}
	defer u.s.mu.Unlock()
	id, ok := u.s.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, auth.ErrNotFound
	}
	user := u.s.users[id]
	return &user, nil
}

func (u userStore) UpdateStatus(ctx context.Context, id string, status auth.UserStatus) error {
	if err := u.s.lock(ctx); err != nil {
		return err
	}
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	user.Status = status
	user.UpdatedAt = time.Now().UTC()
	u.s.users[id] = user
	return nil
}

type roleStore struct{ s *Store }

func (r roleStore) Create(ctx context.Context, role *auth.Role) error {
	if err := auth.ValidateAbilities(role.Abilities); err != nil {
		return err
	}
	if err := r.s.lock(ctx); err != nil {
		return err
	}
	defer r.s.mu.Unlock()
	if _, ok := r.s.roles[role.ID]; ok {
		return auth.ErrConflict
	}
	cp := *role
	cp.Abilities = cloneAbilities(role.Abilities)
	r.s.roles[role.ID] = cp
	return nil
}

func (r roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	if err := r.s.lock(ctx); err != nil {
		return nil, err
	}
	defer r.s.mu.Unlock()
	role, ok := r.s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	role.Abilities = cloneAbilities(role.Abilities)
	return &role, nil
}

func cloneAbilities(in []auth.Ability) []auth.Ability {
	out := make([]auth.Ability, len(in))
	for i, a := range in {
		out[i] = auth.Ability{Subject: a.Subject, Actions: slices.Clone(a.Actions)}
	}
	return out
}

type apiKeyStore struct{ s *Store }

func (a apiKeyStore) Create(ctx context.Context, rec *auth.APIKeyRecord) error {
	if err := auth.ValidateAPIKeyWindow(rec.StartDate, rec.EndDate); err != nil {
		return err
	}
	if err := a.s.lock(ctx); err != nil {
		return err
	}
	defer a.s.mu.Unlock()
	if _, ok := a.s.apiKeys[rec.ID]; ok {
		return auth.ErrConflict
	}
	if _, ok := a.s.keyIndex[rec.Key]; ok {
		return auth.ErrConflict
	}
	a.s.apiKeys[rec.ID] = cloneAPIKey(*rec)
	a.s.keyIndex[rec.Key] = rec.ID
	return nil
}

func cloneAPIKey(rec auth.APIKeyRecord) auth.APIKeyRecord {
	rec.StartDate = cloneTime(rec.StartDate)
	rec.EndDate = cloneTime(rec.EndDate)
	return rec
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (a apiKeyStore) Find(ctx context.Context, id string) (*auth.APIKeyRecord, error) {
	if err := a.s.lock(ctx); err != nil {
		return nil, err
	}
	defer a.s.mu.Unlock()
	rec, ok := a.s.apiKeys[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	rec = cloneAPIKey(rec)
	return &rec, nil
}

func (a apiKeyStore) FindByKey(ctx context.Context, key string) (*auth.APIKeyRecord, error) {
	if err := a.s.lock(ctx); err != nil {
		return nil, err
	}
	defer a.s.mu.Unlock()
	id, ok := a.s.keyIndex[key]
	if !ok {
		return nil, auth.ErrNotFound
	}
	rec := cloneAPIKey(a.s.apiKeys[id])
	return &rec, nil
}

func (a apiKeyStore) UpdateSecret(ctx context.Context, id, key, secretHash string, at time.Time) error {
	if err := a.s.lock(ctx); err != nil {
		return err
	}
	defer a.s.mu.Unlock()
	rec, ok := a.s.apiKeys[id]
	if !ok {
		return auth.ErrNotFound
	}
	if other, taken := a.s.keyIndex[key]; taken && other != id {
		return auth.ErrConflict
	}
	delete(a.s.keyIndex, rec.Key)
	rec.Key = key
	rec.SecretHash = secretHash
	rec.UpdatedAt = at
	a.s.apiKeys[id] = rec
	a.s.keyIndex[key] = id
	return nil
}

func (a apiKeyStore) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	if err := a.s.lock(ctx); err != nil {
		return err
	}
	defer a.s.mu.Unlock()
	rec, ok := a.s.apiKeys[id]
	if !ok {
		return auth.ErrNotFound
	}
	rec.IsActive = active
	rec.UpdatedAt = at
	a.s.apiKeys[id] = rec
	return nil
}

type sessionStore struct{ s *Store }

func (ss sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	if err := ss.s.lock(ctx); err != nil {
		return err
	}
	defer ss.s.mu.Unlock()
	if _, ok := ss.s.sessions[sess.ID]; ok {
		return auth.ErrConflict
	}
	ss.s.sessions[sess.ID] = *sess
	return nil
}

func (ss sessionStore) Find(ctx context.Context, id string) (*auth.Session, error) {
	if err := ss.s.lock(ctx); err != nil {
		return nil, err
	}
	defer ss.s.mu.Unlock()
	sess, ok := ss.s.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &sess, nil
}

func (ss sessionStore) Delete(ctx context.Context, id string) error {
	if err := ss.s.lock(ctx); err != nil {
		return err
	}
	defer ss.s.mu.Unlock()
	if _, ok := ss.s.sessions[id]; !ok {
		return auth.ErrNotFound
	}
	delete(ss.s.sessions, id)
	return nil
}

func (ss sessionStore) Activate(ctx context.Context, id string, expiresAt time.Time) error {
	if err := ss.s.lock(ctx); err != nil {
		return err
	}
	defer ss.s.mu.Unlock()
	sess, ok := ss.s.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	if sess.State != auth.SessionStatePending || sess.IsRevoked {
		return auth.ErrConflict
	}
	sess.State = auth.SessionStateActive
	sess.ExpiresAt = expiresAt
	ss.s.sessions[id] = sess
	return nil
}

func (ss sessionStore) Rotate(ctx context.Context, id string, from int, expiresAt time.Time) (*auth.Session, error) {
	if err := ss.s.lock(ctx); err != nil {
		return nil, err
	}
	defer ss.s.mu.Unlock()
	sess, ok := ss.s.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if sess.Rotation != from || sess.IsRevoked || sess.State != auth.SessionStateActive {
		return nil, auth.ErrConflict
	}
	sess.Rotation++
	sess.ExpiresAt = expiresAt
	ss.s.sessions[id] = sess
	return &sess, nil
}

func (ss sessionStore) Revoke(ctx context.Context, id string, at time.Time) error {
	if err := ss.s.lock(ctx); err != nil {
		return err
	}
	defer ss.s.mu.Unlock()
	sess, ok := ss.s.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	if sess.IsRevoked {
		return nil
	}
	revokedAt := at
	sess.IsRevoked = true
	sess.RevokedAt = &revokedAt
	ss.s.sessions[id] = sess
	return nil
}

func (ss sessionStore) RevokeByUser(ctx context.Context, userID string, at time.Time) (int, error) {
	if err := ss.s.lock(ctx); err != nil {
		return 0, err
	}
	defer ss.s.mu.Unlock()
	n := 0
	for id, sess := range ss.s.sessions {
		if sess.UserID != userID || sess.IsRevoked {
			continue
		}
		revokedAt := at
		sess.IsRevoked = true
		sess.RevokedAt = &revokedAt
		ss.s.sessions[id] = sess
		n++
	}
	return n, nil
}

type challengeStore struct{ s *Store }

func (c challengeStore) Create(ctx context.Context, ch *auth.Challenge) error {
	if err := c.s.lock(ctx); err != nil {
		return err
	}
	defer c.s.mu.Unlock()
	if _, ok := c.s.challenges[ch.ID]; ok {
		return auth.ErrConflict
	}
	c.s.challenges[ch.ID] = *ch
	return nil
}

func (c challengeStore) Find(ctx context.Context, id string) (*auth.Challenge, error) {
	if err := c.s.lock(ctx); err != nil {
		return nil, err
	}
	defer c.s.mu.Unlock()
	ch, ok := c.s.challenges[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &ch, nil
}

func (c challengeStore) Consume(ctx context.Context, id string, at time.Time) error {
	if err := c.s.lock(ctx); err != nil {
		return err
	}
	defer c.s.mu.Unlock()
	ch, ok := c.s.challenges[id]
	if !ok {
		return auth.ErrNotFound
	}
	if !ch.Open(at) {
		return auth.ErrConflict
	}
	consumedAt := at
	ch.ConsumedAt = &consumedAt
	c.s.challenges[id] = ch
	return nil
}

type twoFactorStore struct{ s *Store }

func cloneProfile(p auth.TwoFactorProfile) auth.TwoFactorProfile {
	p.BackupCodes = slices.Clone(p.BackupCodes)
	p.ConfirmedAt = cloneTime(p.ConfirmedAt)
	p.LastUsedAt = cloneTime(p.LastUsedAt)
	return p
}

func (t twoFactorStore) Find(ctx context.Context, userID string) (*auth.TwoFactorProfile, error) {
	if err := t.s.lock(ctx); err != nil {
		return nil, err
	}
	defer t.s.mu.Unlock()
	p, ok := t.s.twoFactor[userID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := cloneProfile(p)
	return &cp, nil
}

func (t twoFactorStore) Save(ctx context.Context, p *auth.TwoFactorProfile) error {
	if err := t.s.lock(ctx); err != nil {
		return err
	}
	defer t.s.mu.Unlock()
	t.s.twoFactor[p.UserID] = cloneProfile(*p)
	return nil
}

func (t twoFactorStore) Confirm(ctx context.Context, userID string, at time.Time) error {
	if err := t.s.lock(ctx); err != nil {
		return err
	}
	defer t.s.mu.Unlock()
	p, ok := t.s.twoFactor[userID]
	if !ok {
		return auth.ErrNotFound
	}
	if p.ConfirmedAt != nil {
		return auth.ErrConflict
	}
	confirmedAt := at
	p.ConfirmedAt = &confirmedAt
	t.s.twoFactor[userID] = p
	return nil
}

func (t twoFactorStore) ConsumeBackupCode(ctx context.Context, userID, hash string, at time.Time) error {
	if err := t.s.lock(ctx); err != nil {
		return err
	}
	defer t.s.mu.Unlock()
	p, ok := t.s.twoFactor[userID]
	if !ok {
		return auth.ErrNotFound
	}
	for i, code := range p.BackupCodes {
		if code.Hash != hash {
			continue
		}
		if code.ConsumedAt != nil {
			return auth.ErrConflict
		}
		consumedAt := at
		p.BackupCodes = slices.Clone(p.BackupCodes)
		p.BackupCodes[i].ConsumedAt = &consumedAt
		t.s.twoFactor[userID] = p
		return nil
	}
	return auth.ErrNotFound
}

func (t twoFactorStore) ReplaceBackupCodes(ctx context.Context, userID string, codes []auth.BackupCode) error {
	if err := t.s.lock(ctx); err != nil {
		return err
	}
	defer t.s.mu.Unlock()
	p, ok := t.s.twoFactor[userID]
	if !ok {
		return auth.ErrNotFound
	}
	p.BackupCodes = slices.Clone(codes)
	t.s.twoFactor[userID] = p
	return nil
}

func (t twoFactorStore) Touch(ctx context.Context, userID string, at time.Time) error {
	if err := t.s.lock(ctx); err != nil {
		return err
	}
	defer t.s.mu.Unlock()
	p, ok := t.s.twoFactor[userID]
	if !ok {
		return auth.ErrNotFound
	}
	usedAt := at
	p.LastUsedAt = &usedAt
	t.s.twoFactor[userID] = p
	return nil
}

func (t twoFactorStore) Delete(ctx context.Context, userID string) error {
	if err := t.s.lock(ctx); err != nil {
		return err
	}
	defer t.s.mu.Unlock()
	if _, ok := t.s.twoFactor[userID]; !ok {
		return auth.ErrNotFound
	}
	delete(t.s.twoFactor, userID)
	return nil
}
