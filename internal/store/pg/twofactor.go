package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"authcore.dev/internal/auth"
)

type twoFactorStore struct{ db *sql.DB }

func (s *twoFactorStore) Find(ctx context.Context, userID string) (*auth.TwoFactorProfile, error) {
	var (
		p                 auth.TwoFactorProfile
		confirmed, usedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select user_id, sealed_secret, confirmed_at, last_used_at, created_at
		from two_factor_profiles
		where user_id = $1
	`, userID).Scan(&p.UserID, &p.SealedSecret, &confirmed, &usedAt, &p.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	p.ConfirmedAt = timePtr(confirmed)
	p.LastUsedAt = timePtr(usedAt)

	rows, err := s.db.QueryContext(ctx, `
		select hash, consumed_at
		from two_factor_backup_codes
		where user_id = $1
		order by position asc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			code     auth.BackupCode
			consumed sql.NullTime
		)
		if err := rows.Scan(&code.Hash, &consumed); err != nil {
			return nil, err
		}
		code.ConsumedAt = timePtr(consumed)
		p.BackupCodes = append(p.BackupCodes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *twoFactorStore) Save(ctx context.Context, p *auth.TwoFactorProfile) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			insert into two_factor_profiles (user_id, sealed_secret, confirmed_at, last_used_at, created_at)
			values ($1, $2, $3, $4, $5)
			on conflict (user_id) do update set
				sealed_secret = excluded.sealed_secret,
				confirmed_at = excluded.confirmed_at,
				last_used_at = excluded.last_used_at,
				created_at = excluded.created_at
		`, p.UserID, p.SealedSecret, nullTime(p.ConfirmedAt), nullTime(p.LastUsedAt), createdAt)
		if err != nil {
			return mapError(err)
		}
		return replaceCodes(ctx, tx, p.UserID, p.BackupCodes)
	})
}

func (s *twoFactorStore) Confirm(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update two_factor_profiles set confirmed_at = $2
		where user_id = $1 and confirmed_at is null
	`, userID, at)
	return conditional(ctx, s.db, res, err, `select 1 from two_factor_profiles where user_id = $1`, userID)
}

func (s *twoFactorStore) ConsumeBackupCode(ctx context.Context, userID, hash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update two_factor_backup_codes set consumed_at = $3
		where user_id = $1 and hash = $2 and consumed_at is null
	`, userID, hash, at)
	return conditional(ctx, s.db, res, err, `select 1 from two_factor_backup_codes where user_id = $1 and hash = $2`, userID, hash)
}

func (s *twoFactorStore) ReplaceBackupCodes(ctx context.Context, userID string, codes []auth.BackupCode) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `select 1 from two_factor_profiles where user_id = $1 for update`, userID).Scan(&one)
		if err != nil {
			return mapError(err)
		}
		return replaceCodes(ctx, tx, userID, codes)
	})
}

func (s *twoFactorStore) Touch(ctx context.Context, userID string, at time.Time) error {
	return affected(s.db.ExecContext(ctx, `update two_factor_profiles set last_used_at = $2 where user_id = $1`, userID, at))
}

func (s *twoFactorStore) Delete(ctx context.Context, userID string) error {
	return affected(s.db.ExecContext(ctx, `delete from two_factor_profiles where user_id = $1`, userID))
}

func (s *twoFactorStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceCodes(ctx context.Context, tx *sql.Tx, userID string, codes []auth.BackupCode) error {
	if _, err := tx.ExecContext(ctx, `delete from two_factor_backup_codes where user_id = $1`, userID); err != nil {
		return err
	}
	for i, code := range codes {
		_, err := tx.ExecContext(ctx, `
			insert into two_factor_backup_codes (user_id, position, hash, consumed_at)
			values ($1, $2, $3, $4)
		`, userID, i, code.Hash, nullTime(code.ConsumedAt))
		if err != nil {
			return fmt.Errorf("insert backup code %d: %w", i, mapError(err))
		}
	}
	return nil
}
