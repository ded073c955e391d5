package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS objects (
	id   TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS states (
	id         TEXT PRIMARY KEY REFERENCES objects(id),
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT 0
);
`

// SQLite is a Store persisted in a SQLite database file. The latest value
// of each entry survives restarts; no history is kept.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path))
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: create schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Ensure(ctx context.Context, d Definition) error {
	if err := validDefinition(d); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO objects (id, type, name, role) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		d.ID, string(d.Type), d.Name, d.Role)
	if err != nil {
		return fmt.Errorf("state: ensure %s: %w", d.ID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		v, _ := json.Marshal(zero(d.Type))
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO states (id, value, updated_at) VALUES (?, ?, 0) ON CONFLICT(id) DO NOTHING`,
			d.ID, string(v)); err != nil {
			return fmt.Errorf("state: ensure %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) definition(ctx context.Context, id string) (Definition, error) {
	d := Definition{ID: id}
	var typ string
	err := s.db.QueryRowContext(ctx, `SELECT type, name, role FROM objects WHERE id = ?`, id).Scan(&typ, &d.Name, &d.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("%w: %s", ErrUnknownState, id)
	}
	if err != nil {
		return d, fmt.Errorf("state: read %s: %w", id, err)
	}
	d.Type = Type(typ)
	return d, nil
}

func (s *SQLite) Set(ctx context.Context, id string, value any) error {
	d, err := s.definition(ctx, id)
	if err != nil {
		return err
	}
	v, err := coerce(d.Type, value)
	if err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO states (id, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		id, string(raw), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("state: write %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (Entry, error) {
	entries, err := s.query(ctx, `WHERE o.id = ?`, id)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownState, id)
	}
	return entries[0], nil
}

func (s *SQLite) List(ctx context.Context, prefix string) ([]Entry, error) {
	return s.query(ctx, `WHERE substr(o.id, 1, ?) = ?`, len(prefix), prefix)
}

func (s *SQLite) query(ctx context.Context, where string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.type, o.name, o.role, COALESCE(st.value, ''), COALESCE(st.updated_at, 0)
		FROM objects o LEFT JOIN states st ON st.id = o.id
		`+where+`
		ORDER BY o.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("state: query: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			typ     string
			raw     string
			updated int64
		)
		if err := rows.Scan(&e.ID, &typ, &e.Name, &e.Role, &raw, &updated); err != nil {
			return nil, fmt.Errorf("state: scan: %w", err)
		}
		e.Type = Type(typ)
		e.Value = zero(e.Type)
		if strings.TrimSpace(raw) != "" {
			var v any
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				return nil, fmt.Errorf("state: decode %s: %w", e.ID, err)
			}
			if c, err := coerce(e.Type, v); err == nil {
				e.Value = c
			}
		}
		if updated > 0 {
			e.UpdatedAt = time.UnixMilli(updated)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }
