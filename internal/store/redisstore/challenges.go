// Package redisstore keeps short-lived 2FA challenges in Redis so several
// API replicas can share them without touching PostgreSQL.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"authcore.dev/internal/auth"
)

const defaultPrefix = "authcore:challenge:"

// retention keeps consumed or expired challenges readable for a while so a
// replay is reported as a conflict rather than a missing row.
const retention = time.Minute

var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'user_id', ARGV[1], 'session_id', ARGV[2], 'created_at', ARGV[3], 'expires_at', ARGV[4])
redis.call('PEXPIREAT', KEYS[1], ARGV[5])
return 1
`)

var consumeScript = redis.NewScript(`
local exp = redis.call('HGET', KEYS[1], 'expires_at')
if not exp then
  return -1
end
if redis.call('HEXISTS', KEYS[1], 'consumed_at') == 1 then
  return 0
end
if tonumber(exp) <= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'consumed_at', ARGV[1])
return 1
`)

// ChallengeStore implements auth.ChallengeStore on Redis hashes.
type ChallengeStore struct {
	client redis.UniversalClient
	prefix string
}

var _ auth.ChallengeStore = (*ChallengeStore)(nil)

// Option configures ChallengeStore.
type Option func(*ChallengeStore)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *ChallengeStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New returns a challenge store on client using the default key prefix
// unless WithPrefix overrides it.
func New(client redis.UniversalClient, opts ...Option) *ChallengeStore {
	s := &ChallengeStore{client: client, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ChallengeStore) key(id string) string { return s.prefix + id }

// Create stores c with a TTL of its expiry plus a short retention window.
// An existing id yields auth.ErrConflict.
func (s *ChallengeStore) Create(ctx context.Context, c *auth.Challenge) error {
	if c == nil || c.ID == "" {
		return auth.ErrInvalidInput
	}
	keepUntil := c.ExpiresAt.Add(retention)
	ok, err := createScript.Run(ctx, s.client, []string{s.key(c.ID)},
		c.UserID, c.SessionID, millis(c.CreatedAt), millis(c.ExpiresAt), millis(keepUntil)).Int()
	if err != nil {
		return fmt.Errorf("redis create challenge: %w", err)
	}
	if ok == 0 {
		return auth.ErrConflict
	}
	return nil
}

// Find returns the challenge or auth.ErrNotFound once the key has gone.
func (s *ChallengeStore) Find(ctx context.Context, id string) (*auth.Challenge, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis find challenge: %w", err)
	}
	if len(fields) == 0 {
		return nil, auth.ErrNotFound
	}
	return decodeChallenge(id, fields)
}

// Consume marks the challenge consumed in one script call. A consumed or
// expired challenge yields auth.ErrConflict.
func (s *ChallengeStore) Consume(ctx context.Context, id string, at time.Time) error {
	res, err := consumeScript.Run(ctx, s.client, []string{s.key(id)}, millis(at)).Int()
	if err != nil {
		return fmt.Errorf("redis consume challenge: %w", err)
	}
	switch res {
	case 1:
		return nil
	case -1:
		return auth.ErrNotFound
	default:
		return auth.ErrConflict
	}
}

func decodeChallenge(id string, fields map[string]string) (*auth.Challenge, error) {
	created, err := parseMillis(fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("decode challenge %s created_at: %w", id, err)
	}
	expires, err := parseMillis(fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("decode challenge %s expires_at: %w", id, err)
	}
	c := &auth.Challenge{
		ID:        id,
		UserID:    fields["user_id"],
		SessionID: fields["session_id"],
		CreatedAt: created,
		ExpiresAt: expires,
	}
	if raw, ok := fields["consumed_at"]; ok {
		consumed, err := parseMillis(raw)
		if err != nil {
			return nil, fmt.Errorf("decode challenge %s consumed_at: %w", id, err)
		}
		c.ConsumedAt = &consumed
	}
	return c, nil
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func parseMillis(s string) (time.Time, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(v).UTC(), nil
}
