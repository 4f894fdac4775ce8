package pg

import (
	"context"
	"database/sql"
	"time"

	"authcore.dev/internal/auth"
)

type apiKeyStore struct{ db *sql.DB }

const apiKeyColumns = `id, name, key, secret_hash, type, start_date, end_date, is_active, created_at, updated_at`

func (s *apiKeyStore) Create(ctx context.Context, rec *auth.APIKeyRecord) error {
	if err := auth.ValidateAPIKeyWindow(rec.StartDate, rec.EndDate); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		insert into api_keys (id, name, key, secret_hash, type, start_date, end_date, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.Name, rec.Key, rec.SecretHash, string(rec.Type), nullTime(rec.StartDate), nullTime(rec.EndDate), rec.IsActive, rec.CreatedAt, rec.UpdatedAt)
	return mapError(err)
}

func (s *apiKeyStore) Find(ctx context.Context, id string) (*auth.APIKeyRecord, error) {
	return scanAPIKey(s.db.QueryRowContext(ctx, `select `+apiKeyColumns+` from api_keys where id = $1`, id))
}

func (s *apiKeyStore) FindByKey(ctx context.Context, key string) (*auth.APIKeyRecord, error) {
	return scanAPIKey(s.db.QueryRowContext(ctx, `select `+apiKeyColumns+` from api_keys where key = $1`, key))
}

func (s *apiKeyStore) UpdateSecret(ctx context.Context, id, key, secretHash string, at time.Time) error {
	return affected(s.db.ExecContext(ctx, `
		update api_keys set key = $2, secret_hash = $3, updated_at = $4 where id = $1
	`, id, key, secretHash, at))
}

func (s *apiKeyStore) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	return affected(s.db.ExecContext(ctx, `
		update api_keys set is_active = $2, updated_at = $3 where id = $1
	`, id, active, at))
}

func scanAPIKey(row *sql.Row) (*auth.APIKeyRecord, error) {
	var (
		rec        auth.APIKeyRecord
		typ        string
		start, end sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Key, &rec.SecretHash, &typ, &start, &end, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	rec.Type = auth.APIKeyType(typ)
	rec.StartDate = timePtr(start)
	rec.EndDate = timePtr(end)
	return &rec, nil
}
