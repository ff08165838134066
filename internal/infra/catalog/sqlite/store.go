// Package sqlite persists the experiment catalog to a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mouser/internal/catalog/core"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ core.Store = (*Store)(nil)

const defaultPath = "mouser-catalog.db"

// Store keeps one row per experiment.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the catalog at path.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS experiments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		species TEXT NOT NULL DEFAULT '',
		investigators TEXT NOT NULL DEFAULT '[]',
		path TEXT NOT NULL,
		encrypted INTEGER NOT NULL DEFAULT 0,
		date_created TEXT NOT NULL DEFAULT '',
		archive_key TEXT NOT NULL DEFAULT '',
		saved_at INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create experiments table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Record(ctx context.Context, e core.Entry) error {
	if e.ID == "" {
		return core.ErrMissingID
	}
	investigators, err := json.Marshal(nonNil(e.Investigators))
	if err != nil {
		return fmt.Errorf("encode investigators: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO experiments(id, name, species, investigators, path, encrypted, date_created, archive_key, saved_at)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, species=excluded.species, investigators=excluded.investigators,
			path=excluded.path, encrypted=excluded.encrypted, date_created=excluded.date_created,
			archive_key=excluded.archive_key, saved_at=excluded.saved_at`,
		e.ID, e.Name, e.Species, string(investigators), e.Path, e.Encrypted, e.DateCreated, e.ArchiveKey, e.SavedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert experiment %s: %w", e.ID, err)
	}
	return nil
}

const selectColumns = `SELECT id, name, species, investigators, path, encrypted, date_created, archive_key, saved_at FROM experiments`

func (s *Store) Get(ctx context.Context, id string) (core.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Entry{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	return e, err
}

func (s *Store) List(ctx context.Context) ([]core.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY saved_at DESC, name, id`)
	if err != nil {
		return nil, fmt.Errorf("select experiments: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []core.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate experiments: %w", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM experiments WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete experiment %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (core.Entry, error) {
	var (
		e             core.Entry
		investigators string
		savedAt       int64
	)
	if err := row.Scan(&e.ID, &e.Name, &e.Species, &investigators, &e.Path, &e.Encrypted, &e.DateCreated, &e.ArchiveKey, &savedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Entry{}, err
		}
		return core.Entry{}, fmt.Errorf("scan experiment: %w", err)
	}
	if err := json.Unmarshal([]byte(investigators), &e.Investigators); err != nil {
		return core.Entry{}, fmt.Errorf("decode investigators for %s: %w", e.ID, err)
	}
	e.SavedAt = time.Unix(0, savedAt).UTC()
	return e, nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
