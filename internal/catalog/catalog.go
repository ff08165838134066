// Package catalog indexes saved experiment files so they can be listed and
// reopened without scanning the data directory.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"mouser/internal/catalog/core"
	"mouser/internal/infra/catalog/memory"
	"mouser/internal/infra/catalog/postgres"
	"mouser/internal/infra/catalog/sqlite"
)

type (
	// Entry aliases core.Entry.
	Entry = core.Entry
	// Store aliases core.Store.
	Store = core.Store
)

var (
	ErrNotFound  = core.ErrNotFound
	ErrMissingID = core.ErrMissingID
)

// Driver names a catalog backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Config selects and parameterises the catalog backend.
type Config struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// Open constructs the configured backend. An empty driver selects sqlite.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch Driver(strings.ToLower(strings.TrimSpace(cfg.Driver))) {
	case "", DriverSQLite:
		return sqlite.NewStore(ctx, cfg.SQLitePath)
	case DriverMemory:
		return memory.New(), nil
	case DriverPostgres:
		return postgres.Open(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown catalog driver %q", cfg.Driver)
	}
}

// NewMemory returns an empty in-memory catalog.
func NewMemory() Store { return memory.New() }
