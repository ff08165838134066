// Package experimentdb stores a single experiment in a SQLite file (the
// .mouser format). It implements domain.ExperimentDatabase.
package experimentdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"mouser/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.ExperimentDatabase = (*Database)(nil)

const driverName = "sqlite"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS experiment (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		species TEXT NOT NULL DEFAULT '',
		uses_rfid INTEGER NOT NULL DEFAULT 0,
		num_animals TEXT NOT NULL DEFAULT '',
		num_groups TEXT NOT NULL DEFAULT '',
		cage_max TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS animal_groups (
		group_id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cages (
		cage_id INTEGER PRIMARY KEY,
		group_id INTEGER NOT NULL,
		capacity INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS animals (
		animal_id INTEGER PRIMARY KEY,
		group_id INTEGER NOT NULL,
		cage_id INTEGER NOT NULL,
		rfid TEXT,
		active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS measurement_items (
		position INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		collection_type TEXT NOT NULL DEFAULT ''
	)`,
}

var (
	// ErrInvalidCount is returned by SetupCages when a count cannot be used to
	// provision cages.
	ErrInvalidCount = errors.New("experimentdb: invalid count")
	// ErrReservedItemName is returned by SetupCollectedData for an item that
	// collides with a fixed animal_measurements column.
	ErrReservedItemName = errors.New("experimentdb: measurement item name is reserved")
)

// reservedColumns are the fixed animal_measurements columns, lower-cased.
var reservedColumns = []string{"animal_id", "date"}

// Database is an open experiment file.
type Database struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the experiment file at path and applies the schema.
func Open(ctx context.Context, path string) (*Database, error) {
	if path == "" {
		return nil, fmt.Errorf("experimentdb: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Database{db: db}, nil
}

// Close releases the file handle.
func (d *Database) Close() error { return d.db.Close() }

// SetupExperiment replaces the experiment row.
func (d *Database) SetupExperiment(ctx context.Context, rec domain.ExperimentRecord) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM experiment`); err != nil {
			return fmt.Errorf("clear experiment: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO experiment(id, name, species, uses_rfid, num_animals, num_groups, cage_max) VALUES(?,?,?,?,?,?,?)`,
			rec.ID, rec.Name, rec.Species, boolToInt(rec.UsesRFID), rec.NumAnimals, rec.NumGroups, rec.MaxPerCage)
		if err != nil {
			return fmt.Errorf("insert experiment: %w", err)
		}
		return nil
	})
}

// SetupGroups replaces the group rows. Group ids are 1-based positions.
func (d *Database) SetupGroups(ctx context.Context, names []string) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM animal_groups`); err != nil {
			return fmt.Errorf("clear groups: %w", err)
		}
		for i, name := range names {
			if _, err := tx.ExecContext(ctx, `INSERT INTO animal_groups(group_id, name) VALUES(?,?)`, i+1, name); err != nil {
				return fmt.Errorf("insert group %q: %w", name, err)
			}
		}
		return nil
	})
}

// SetupCages provisions cages and animals from the entered counts, replacing
// any existing layout.
func (d *Database) SetupCages(ctx context.Context, numAnimals, numGroups, maxPerCage string) error {
	animals, err := parseCount("num_animals", numAnimals, 0)
	if err != nil {
		return err
	}
	groups, err := parseCount("num_groups", numGroups, 1)
	if err != nil {
		return err
	}
	perCage, err := parseCount("max_per_cage", maxPerCage, 1)
	if err != nil {
		return err
	}
	layout := PlanCages(animals, groups, perCage)
	return d.inTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{`DELETE FROM animals`, `DELETE FROM cages`} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("clear layout: %w", err)
			}
		}
		for _, cage := range layout {
			if _, err := tx.ExecContext(ctx, `INSERT INTO cages(cage_id, group_id, capacity) VALUES(?,?,?)`, cage.CageID, cage.GroupID, perCage); err != nil {
				return fmt.Errorf("insert cage %d: %w", cage.CageID, err)
			}
			for _, animalID := range cage.AnimalIDs {
				if _, err := tx.ExecContext(ctx, `INSERT INTO animals(animal_id, group_id, cage_id) VALUES(?,?,?)`, animalID, cage.GroupID, cage.CageID); err != nil {
					return fmt.Errorf("insert animal %d: %w", animalID, err)
				}
			}
		}
		return nil
	})
}

// SetupMeasurementItems replaces the measurement item rows with one row per
// collection type.
func (d *Database) SetupMeasurementItems(ctx context.Context, types []domain.CollectionType) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM measurement_items`); err != nil {
			return fmt.Errorf("clear measurement items: %w", err)
		}
		for i, typ := range types {
			if _, err := tx.ExecContext(ctx, `INSERT INTO measurement_items(position, collection_type) VALUES(?,?)`, i, string(typ)); err != nil {
				return fmt.Errorf("insert measurement item %d: %w", i, err)
			}
		}
		return nil
	})
}

// SetupCollectedData names the measurement items and rebuilds the
// animal_measurements table with one column per item.
func (d *Database) SetupCollectedData(ctx context.Context, items []domain.MeasurementItem) error {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		name := strings.TrimSpace(string(item))
		if name == "" {
			return fmt.Errorf("experimentdb: empty measurement item name")
		}
		key := strings.ToLower(name)
		if slices.Contains(reservedColumns, key) {
			return fmt.Errorf("%w: %q", ErrReservedItemName, name)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("experimentdb: duplicate measurement item %q", name)
		}
		seen[key] = struct{}{}
	}
	return d.inTx(ctx, func(tx *sql.Tx) error {
		for i, item := range items {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO measurement_items(position, name) VALUES(?,?) ON CONFLICT(position) DO UPDATE SET name=excluded.name`,
				i, strings.TrimSpace(string(item)))
			if err != nil {
				return fmt.Errorf("name measurement item %d: %w", i, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS animal_measurements`); err != nil {
			return fmt.Errorf("drop collected data: %w", err)
		}
		if _, err := tx.ExecContext(ctx, collectedDataDDL(items)); err != nil {
			return fmt.Errorf("create collected data: %w", err)
		}
		return nil
	})
}

func collectedDataDDL(items []domain.MeasurementItem) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE animal_measurements (\n\tanimal_id INTEGER NOT NULL,\n\tdate TEXT NOT NULL")
	for _, item := range items {
		b.WriteString(",\n\t")
		b.WriteString(quoteIdent(strings.TrimSpace(string(item))))
		b.WriteString(" REAL")
	}
	b.WriteString(",\n\tPRIMARY KEY (animal_id, date)\n)")
	return b.String()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *Database) inTx(ctx context.Context, fn func(*sql.Tx) error) (retErr error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
