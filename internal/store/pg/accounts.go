package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"authcore.dev/internal/auth"
)

type userStore struct{ db *sql.DB }

const userColumns = `id, email, password_hash, password_salt, status, role_id, country_id, deleted, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, email, password_hash, password_salt, status, role_id, country_id, deleted)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, strings.ToLower(strings.TrimSpace(u.Email)), u.PasswordHash, u.PasswordSalt, string(u.Status), u.RoleID, nullIfEmpty(u.CountryID), u.Deleted)
	return mapError(err)
}

func (s *userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, strings.ToLower(strings.TrimSpace(email))))
}

func (s *userStore) UpdateStatus(ctx context.Context, id string, status auth.UserStatus) error {
	return affected(s.db.ExecContext(ctx, `update users set status = $2, updated_at = now() where id = $1`, id, string(status)))
}

func scanUser(row *sql.Row) (*auth.User, error) {
	var (
		u       auth.User
		status  string
		country sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.PasswordSalt, &status, &u.RoleID, &country, &u.Deleted, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	u.Status = auth.UserStatus(status)
	u.CountryID = country.String
	return &u, nil
}

type roleStore struct{ db *sql.DB }

func (s *roleStore) Create(ctx context.Context, role *auth.Role) error {
	if err := auth.ValidateAbilities(role.Abilities); err != nil {
		return err
	}
	abilities := role.Abilities
	if abilities == nil {
		abilities = []auth.Ability{}
	}
	raw, err := json.Marshal(abilities)
	if err != nil {
		return fmt.Errorf("marshal abilities: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into roles (id, name, type, abilities, is_active)
		values ($1, $2, $3, $4, $5)
	`, role.ID, role.Name, string(role.Type), raw, role.IsActive)
	return mapError(err)
}

func (s *roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	var (
		role    auth.Role
		typ     string
		raw     []byte
		created time.Time
		updated time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, type, abilities, is_active, created_at, updated_at
		from roles
		where id = $1
	`, id).Scan(&role.ID, &role.Name, &typ, &raw, &role.IsActive, &created, &updated)
	if err != nil {
		return nil, mapError(err)
	}
	role.Type = auth.RoleType(typ)
	role.CreatedAt = created
	role.UpdatedAt = updated
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &role.Abilities); err != nil {
			return nil, fmt.Errorf("decode abilities: %w", err)
		}
	}
	return &role, nil
}
