package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authcore.dev/internal/auth"
)

type sessionStore struct{ db *sql.DB }

const sessionColumns = `id, user_id, state, rotation, login_at, login_from, login_with, issued_at, expires_at, is_revoked, revoked_at`

func (s *sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (`+sessionColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sess.ID, sess.UserID, string(sess.State), sess.Rotation, sess.LoginAt, sess.LoginFrom, sess.LoginWith,
		sess.IssuedAt, sess.ExpiresAt, sess.IsRevoked, nullTime(sess.RevokedAt))
	return mapError(err)
}

func (s *sessionStore) Find(ctx context.Context, id string) (*auth.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `select `+sessionColumns+` from sessions where id = $1`, id))
}

func (s *sessionStore) Delete(ctx context.Context, id string) error {
	return affected(s.db.ExecContext(ctx, `delete from sessions where id = $1`, id))
}

func (s *sessionStore) Activate(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions set state = 'active', expires_at = $2
		where id = $1 and state = 'pending' and not is_revoked
	`, id, expiresAt)
	return conditional(ctx, s.db, res, err, `select 1 from sessions where id = $1`, id)
}

func (s *sessionStore) Rotate(ctx context.Context, id string, from int, expiresAt time.Time) (*auth.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `
		update sessions set rotation = rotation + 1, expires_at = $3
		where id = $1 and rotation = $2 and state = 'active' and not is_revoked
		returning `+sessionColumns, id, from, expiresAt))
	if !errors.Is(err, auth.ErrNotFound) {
		return sess, err
	}
	return nil, conditional(ctx, s.db, nil, sql.ErrNoRows, `select 1 from sessions where id = $1`, id)
}

func (s *sessionStore) Revoke(ctx context.Context, id string, at time.Time) error {
	return affected(s.db.ExecContext(ctx, `
		update sessions set is_revoked = true, revoked_at = coalesce(revoked_at, $2)
		where id = $1
	`, id, at))
}

func (s *sessionStore) RevokeByUser(ctx context.Context, userID string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		update sessions set is_revoked = true, revoked_at = $2
		where user_id = $1 and not is_revoked
	`, userID, at)
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanSession(row *sql.Row) (*auth.Session, error) {
	var (
		sess      auth.Session
		state     string
		revokedAt sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.UserID, &state, &sess.Rotation, &sess.LoginAt, &sess.LoginFrom, &sess.LoginWith,
		&sess.IssuedAt, &sess.ExpiresAt, &sess.IsRevoked, &revokedAt)
	if err != nil {
		return nil, mapError(err)
	}
	sess.State = auth.SessionState(state)
	sess.RevokedAt = timePtr(revokedAt)
	return &sess, nil
}

type challengeStore struct{ db *sql.DB }

func (s *challengeStore) Create(ctx context.Context, c *auth.Challenge) error {
	_, err := s.db.ExecContext(ctx, `
		insert into challenges (id, user_id, session_id, created_at, expires_at, consumed_at)
		values ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.UserID, c.SessionID, c.CreatedAt, c.ExpiresAt, nullTime(c.ConsumedAt))
	return mapError(err)
}

func (s *challengeStore) Find(ctx context.Context, id string) (*auth.Challenge, error) {
	var (
		c        auth.Challenge
		consumed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, session_id, created_at, expires_at, consumed_at
		from challenges
		where id = $1
	`, id).Scan(&c.ID, &c.UserID, &c.SessionID, &c.CreatedAt, &c.ExpiresAt, &consumed)
	if err != nil {
		return nil, mapError(err)
	}
	c.ConsumedAt = timePtr(consumed)
	return &c, nil
}

func (s *challengeStore) Consume(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update challenges set consumed_at = $2
		where id = $1 and consumed_at is null and expires_at > $2
	`, id, at)
	return conditional(ctx, s.db, res, err, `select 1 from challenges where id = $1`, id)
}
