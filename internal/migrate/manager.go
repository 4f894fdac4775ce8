package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const defaultTable = "schema_migrations"

// ErrNothingApplied is returned by Down when the history is empty.
var ErrNothingApplied = errors.New("migrate: no migrations applied")

// Manager applies paired NNNN_name.up.sql / NNNN_name.down.sql files read
// from a file system, usually the embed.FS shipped with the pg store.
// Every migration and its bookkeeping row commit in one transaction.
type Manager struct {
	db    *sql.DB
	fsys  fs.FS
	table string
	now   func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithTable overrides the bookkeeping table.
func WithTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

func NewManager(db *sql.DB, fsys fs.FS, opts ...Option) *Manager {
	m := &Manager{db: db, fsys: fsys, table: defaultTable, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Migration is one versioned schema step.
type Migration struct {
	Name  string // file name without the .up.sql suffix
	up    string
	down  string
	hasUp bool
}

// State pairs a migration with whether it has been applied.
type State struct {
	Name    string
	Applied bool
}

// Up applies every pending migration in name order and returns the names applied.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	migrations, history, err := m.prepare(ctx)
	if err != nil {
		return nil, err
	}
	applied := set(history)
	var done []string
	for _, mig := range migrations {
		if applied[mig.Name] {
			continue
		}
		err := m.inTx(ctx, mig.up, fmt.Sprintf(`insert into %s (name, applied_at) values ($1, $2)`, m.table), mig.Name, m.now().UTC())
		if err != nil {
			return done, fmt.Errorf("apply %s: %w", mig.Name, err)
		}
		done = append(done, mig.Name)
	}
	return done, nil
}

// Down rolls back the most recently applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	migrations, history, err := m.prepare(ctx)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", ErrNothingApplied
	}
	last := history[len(history)-1]
	i := sort.Search(len(migrations), func(i int) bool { return migrations[i].Name >= last })
	if i == len(migrations) || migrations[i].Name != last || migrations[i].down == "" {
		return "", fmt.Errorf("migrate: no down file for %s", last)
	}
	if err := m.inTx(ctx, migrations[i].down, fmt.Sprintf(`delete from %s where name = $1`, m.table), last); err != nil {
		return "", fmt.Errorf("rollback %s: %w", last, err)
	}
	return last, nil
}

// Status lists every known migration and whether it is applied.
func (m *Manager) Status(ctx context.Context) ([]State, error) {
	migrations, history, err := m.prepare(ctx)
	if err != nil {
		return nil, err
	}
	applied := set(history)
	out := make([]State, 0, len(migrations))
	for _, mig := range migrations {
		out = append(out, State{Name: mig.Name, Applied: applied[mig.Name]})
	}
	return out, nil
}

// prepare loads the migrations, ensures the bookkeeping table and returns the
// applied names in order.
func (m *Manager) prepare(ctx context.Context) ([]Migration, []string, error) {
	migrations, err := Load(m.fsys)
	if err != nil {
		return nil, nil, err
	}
	ddl := fmt.Sprintf(`create table if not exists %s (
		name text primary key,
		applied_at timestamptz not null default now()
	)`, m.table)
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return nil, nil, fmt.Errorf("migrate: ensure %s: %w", m.table, err)
	}
	history, err := m.history(ctx)
	if err != nil {
		return nil, nil, err
	}
	return migrations, history, nil
}

func set(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func (m *Manager) inTx(ctx context.Context, script, record string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(script) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) history(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at, name`, m.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Load reads the migrations in fsys sorted by name. A down file without a
// matching up file is an error.
func Load(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, errors.New("migrate: nil file system")
	}
	byName := map[string]*Migration{}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		base := path.Base(p)
		var name string
		var up bool
		switch {
		case strings.HasSuffix(base, ".up.sql"):
			name, up = strings.TrimSuffix(base, ".up.sql"), true
		case strings.HasSuffix(base, ".down.sql"):
			name = strings.TrimSuffix(base, ".down.sql")
		default:
			return nil
		}
		raw, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		mig := byName[name]
		if mig == nil {
			mig = &Migration{Name: name}
			byName[name] = mig
		}
		if up {
			mig.up, mig.hasUp = string(raw), true
		} else {
			mig.down = string(raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Migration, 0, len(byName))
	for _, mig := range byName {
		if !mig.hasUp {
			return nil, fmt.Errorf("migrate: %s has a down file but no up file", mig.Name)
		}
		out = append(out, *mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// splitStatements splits SQL on semicolons outside string literals and
// drops "--" comment lines.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	inString := false
	for _, line := range strings.SplitAfter(sql, "\n") {
		if !inString && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			current.WriteRune(r)
			switch {
			case r == '\'':
				inString = !inString
			case r == ';' && !inString:
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
