// Package postgres persists the experiment catalog to Postgres through a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"mouser/internal/catalog/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ core.Store = (*Store)(nil)

const defaultDSN = "postgres://localhost/mouser?sslmode=disable"

// Pool is the subset of *pgxpool.Pool used by the store.
type Pool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS mouser_experiments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	species TEXT NOT NULL DEFAULT '',
	investigators TEXT[] NOT NULL DEFAULT '{}',
	path TEXT NOT NULL,
	encrypted BOOLEAN NOT NULL DEFAULT FALSE,
	date_created TEXT NOT NULL DEFAULT '',
	archive_key TEXT NOT NULL DEFAULT '',
	saved_at TIMESTAMPTZ NOT NULL
)`
	upsertSQL = `INSERT INTO mouser_experiments (id, name, species, investigators, path, encrypted, date_created, archive_key, saved_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	species = EXCLUDED.species,
	investigators = EXCLUDED.investigators,
	path = EXCLUDED.path,
	encrypted = EXCLUDED.encrypted,
	date_created = EXCLUDED.date_created,
	archive_key = EXCLUDED.archive_key,
	saved_at = EXCLUDED.saved_at`
	selectSQL = `SELECT id, name, species, investigators, path, encrypted, date_created, archive_key, saved_at FROM mouser_experiments`
	getSQL    = selectSQL + ` WHERE id = $1`
	listSQL   = selectSQL + ` ORDER BY saved_at DESC, name, id`
	deleteSQL = `DELETE FROM mouser_experiments WHERE id = $1`
)

// Store implements core.Store on a single Postgres table.
type Store struct {
	pool Pool
}

// Open connects to dsn (falling back to a localhost default) and prepares
// the catalog table.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s, err := New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool, verifying connectivity and creating the table.
func New(ctx context.Context, pool Pool) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("create catalog table: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Record(ctx context.Context, e core.Entry) error {
	if e.ID == "" {
		return core.ErrMissingID
	}
	investigators := e.Investigators
	if investigators == nil {
		investigators = []string{}
	}
	if _, err := s.pool.Exec(ctx, upsertSQL,
		e.ID, e.Name, e.Species, investigators, e.Path, e.Encrypted, e.DateCreated, e.ArchiveKey, e.SavedAt.UTC()); err != nil {
		return fmt.Errorf("upsert experiment %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (core.Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx, getSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Entry{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	if err != nil {
		return core.Entry{}, fmt.Errorf("select experiment %s: %w", id, err)
	}
	return e, nil
}

func (s *Store) List(ctx context.Context) ([]core.Entry, error) {
	rows, err := s.pool.Query(ctx, listSQL)
	if err != nil {
		return nil, fmt.Errorf("select experiments: %w", err)
	}
	defer rows.Close()
	var out []core.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate experiments: %w", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, deleteSQL, id)
	if err != nil {
		return false, fmt.Errorf("delete experiment %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanEntry(row pgx.Row) (core.Entry, error) {
	var e core.Entry
	if err := row.Scan(&e.ID, &e.Name, &e.Species, &e.Investigators, &e.Path, &e.Encrypted, &e.DateCreated, &e.ArchiveKey, &e.SavedAt); err != nil {
		return core.Entry{}, err
	}
	e.SavedAt = e.SavedAt.UTC()
	return e, nil
}
