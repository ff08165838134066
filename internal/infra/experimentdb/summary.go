package experimentdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mouser/pkg/domain"
)

// ErrNoExperiment is returned by Load when the file holds no experiment row.
var ErrNoExperiment = errors.New("experimentdb: no experiment stored")

// Summary is a read-only view of a stored experiment.
type Summary struct {
	Record          domain.ExperimentRecord  `json:"experiment"`
	GroupNames      []string                 `json:"group_names"`
	Cages           int                      `json:"cages"`
	Animals         int                      `json:"animals"`
	// Items and CollectionTypes are positional: index i of each describes the
	// same stored row, and either may be empty for that row.
	Items           []domain.MeasurementItem `json:"measurement_items"`
	CollectionTypes []domain.CollectionType  `json:"collection_types"`
}

// Load reads the stored configuration back.
func (d *Database) Load(ctx context.Context) (Summary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		s    Summary
		rfid int
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, species, uses_rfid, num_animals, num_groups, cage_max FROM experiment LIMIT 1`).
		Scan(&s.Record.ID, &s.Record.Name, &s.Record.Species, &rfid, &s.Record.NumAnimals, &s.Record.NumGroups, &s.Record.MaxPerCage)
	if errors.Is(err, sql.ErrNoRows) {
		return Summary{}, ErrNoExperiment
	}
	if err != nil {
		return Summary{}, fmt.Errorf("select experiment: %w", err)
	}
	s.Record.UsesRFID = rfid != 0

	rows, err := d.db.QueryContext(ctx, `SELECT name FROM animal_groups ORDER BY group_id`)
	if err != nil {
		return Summary{}, fmt.Errorf("select groups: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return Summary{}, fmt.Errorf("scan group: %w", err)
		}
		s.GroupNames = append(s.GroupNames, name)
	}
	if err := closeRows(rows); err != nil {
		return Summary{}, err
	}

	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cages`).Scan(&s.Cages); err != nil {
		return Summary{}, fmt.Errorf("count cages: %w", err)
	}
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM animals`).Scan(&s.Animals); err != nil {
		return Summary{}, fmt.Errorf("count animals: %w", err)
	}

	rows, err = d.db.QueryContext(ctx, `SELECT name, collection_type FROM measurement_items ORDER BY position`)
	if err != nil {
		return Summary{}, fmt.Errorf("select measurement items: %w", err)
	}
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			_ = rows.Close()
			return Summary{}, fmt.Errorf("scan measurement item: %w", err)
		}
		s.Items = append(s.Items, domain.MeasurementItem(name))
		s.CollectionTypes = append(s.CollectionTypes, domain.CollectionType(typ))
	}
	if err := closeRows(rows); err != nil {
		return Summary{}, err
	}
	return s, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("iterate rows: %w", err)
	}
	return rows.Close()
}
