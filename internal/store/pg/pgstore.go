// Package pg implements auth.Store on PostgreSQL through the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"authcore.dev/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrCheckViolation      = "23514"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the schema migrations for internal/migrate.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

var _ auth.Store = (*Store)(nil)

// Store implements auth.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to dsn with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Users(context.Context) auth.UserStore           { return &userStore{db: s.db} }
func (s *Store) Roles(context.Context) auth.RoleStore           { return &roleStore{db: s.db} }
func (s *Store) APIKeys(context.Context) auth.APIKeyStore       { return &apiKeyStore{db: s.db} }
func (s *Store) Sessions(context.Context) auth.SessionStore     { return &sessionStore{db: s.db} }
func (s *Store) Challenges(context.Context) auth.ChallengeStore { return &challengeStore{db: s.db} }
func (s *Store) TwoFactor(context.Context) auth.TwoFactorStore  { return &twoFactorStore{db: s.db} }

// mapError translates driver errors into auth sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrConflict
		case pgErrForeignKeyViolation, pgErrCheckViolation:
			return auth.ErrInvalidInput
		}
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// affected returns ErrNotFound when no row matched.
func affected(res sql.Result, err error) error {
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

// conditional is affected for compare-and-swap updates: no matching row
// means either the row is missing or its state changed, and exists tells
// the two apart.
func conditional(ctx context.Context, db *sql.DB, res sql.Result, err error, exists string, args ...any) error {
	err = affected(res, err)
	if !errors.Is(err, auth.ErrNotFound) {
		return err
	}
	var one int
	switch qerr := db.QueryRowContext(ctx, exists, args...).Scan(&one); {
	case errors.Is(qerr, sql.ErrNoRows):
		return auth.ErrNotFound
	case qerr != nil:
		return qerr
	}
	return auth.ErrConflict
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
