// Package domain defines the experiment configuration entity and the
// collaborator contracts it hands persistence and encryption off to.
package domain

import (
	"context"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
)

// File extensions written by SaveToDatabase. They are part of the on-disk
// contract shared with other Mouser installations and must not change.
const (
	ExtensionPlain     = ".mouser"
	ExtensionEncrypted = ".pmouser"
)

// DateLayout is the format of Experiment.DateCreated.
const DateLayout = "2006-01-02"

// MeasurementItem names a value recorded per animal, e.g. "Weight".
type MeasurementItem string

// CollectionType names how a measurement item is collected, e.g. "Manual".
type CollectionType string

// Experiment holds the configuration of a single study. It is not safe for
// concurrent mutation; callers serialize access.
type Experiment struct {
	id              string
	name            string
	investigators   []string
	species         string
	dateCreated     string
	usesRFID        bool
	numAnimals      string
	numGroups       string
	maxPerCage      string
	animalsPerGroup string
	groupNames      []string
	items           []MeasurementItem
	collectionTypes []CollectionType
	password        string
	hasPassword     bool

	groupNumChanged         bool
	measurementItemsChanged bool
}

// Option configures a new Experiment.
type Option func(*experimentOptions)

type experimentOptions struct {
	now func() time.Time
}

// WithClock overrides the time source used for DateCreated.
func WithClock(now func() time.Time) Option {
	return func(o *experimentOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewExperiment returns an empty experiment dated today.
func NewExperiment(opts ...Option) *Experiment {
	o := experimentOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Experiment{
		numGroups:   "0",
		dateCreated: o.now().Format(DateLayout),
	}
}

func (e *Experiment) SetName(name string)       { e.name = name }
func (e *Experiment) SetSpecies(species string) { e.species = species }
func (e *Experiment) SetUsesRFID(rfid bool)     { e.usesRFID = rfid }
func (e *Experiment) SetNumAnimals(n string)    { e.numAnimals = n }

// SetMaxAnimals sets the maximum number of animals per cage.
func (e *Experiment) SetMaxAnimals(n string)      { e.maxPerCage = n }
func (e *Experiment) SetAnimalsPerGroup(n string) { e.animalsPerGroup = n }

// SetInvestigators replaces the investigator list with a copy of names.
func (e *Experiment) SetInvestigators(names []string) { e.investigators = slices.Clone(names) }

// SetGroupNames replaces the group names with a copy of names.
func (e *Experiment) SetGroupNames(names []string) { e.groupNames = slices.Clone(names) }

// SetCollectionTypes replaces the collection types with a copy of types.
func (e *Experiment) SetCollectionTypes(types []CollectionType) {
	e.collectionTypes = slices.Clone(types)
}

// SetPassword sets the secret used to encrypt the saved file. An empty
// secret clears it.
func (e *Experiment) SetPassword(secret string) {
	e.password = secret
	e.hasPassword = secret != ""
}

// SetNumGroups replaces the group count and raises GroupNumChanged when the
// value differs from the current one.
func (e *Experiment) SetNumGroups(n string) {
	if e.numGroups != n {
		e.numGroups = n
		e.groupNumChanged = true
	}
}

// SetMeasurementItems stores a copy of items and raises
// MeasurementItemsChanged when the sequence differs from the current one.
func (e *Experiment) SetMeasurementItems(items []MeasurementItem) {
	if !slices.Equal(e.items, items) {
		e.measurementItemsChanged = true
	}
	e.items = slices.Clone(items)
}

// AssignUniqueID sets a time-based UUID as the experiment id. Calling it a
// second time overwrites the previous id.
func (e *Experiment) AssignUniqueID() error {
	id, err := uuid.NewUUID()
	if err != nil {
		return err
	}
	e.id = id.String()
	return nil
}

func (e *Experiment) ClearGroupNumChanged()         { e.groupNumChanged = false }
func (e *Experiment) ClearMeasurementItemsChanged() { e.measurementItemsChanged = false }

func (e *Experiment) ID() string              { return e.id }
func (e *Experiment) Name() string            { return e.name }
func (e *Experiment) Species() string         { return e.species }
func (e *Experiment) DateCreated() string     { return e.dateCreated }
func (e *Experiment) UsesRFID() bool          { return e.usesRFID }
func (e *Experiment) NumAnimals() string      { return e.numAnimals }
func (e *Experiment) NumGroups() string       { return e.numGroups }
func (e *Experiment) MaxAnimals() string      { return e.maxPerCage }
func (e *Experiment) AnimalsPerGroup() string { return e.animalsPerGroup }
func (e *Experiment) Password() string        { return e.password }
func (e *Experiment) HasPassword() bool       { return e.hasPassword }

// Investigators returns a copy of the investigator list.
func (e *Experiment) Investigators() []string { return slices.Clone(e.investigators) }

// GroupNames returns a copy of the group names.
func (e *Experiment) GroupNames() []string { return slices.Clone(e.groupNames) }

// MeasurementItems returns a copy of the measurement items.
func (e *Experiment) MeasurementItems() []MeasurementItem { return slices.Clone(e.items) }

// CollectionTypes returns a copy of the collection types.
func (e *Experiment) CollectionTypes() []CollectionType { return slices.Clone(e.collectionTypes) }

// GroupNumChanged reports whether the group count changed since the flag was
// last cleared.
func (e *Experiment) GroupNumChanged() bool { return e.groupNumChanged }

// MeasurementItemsChanged reports whether the measurement items changed since
// the flag was last cleared.
func (e *Experiment) MeasurementItemsChanged() bool { return e.measurementItemsChanged }

// FilePath returns the file SaveToDatabase writes inside directory:
// <directory>/<name>.mouser, or .pmouser with a password. The result is
// cleaned by filepath.Join, so a name holding separators or ".." resolves
// outside directory; callers taking names from users must reject those.
func (e *Experiment) FilePath(directory string) string {
	ext := ExtensionPlain
	if e.hasPassword {
		ext = ExtensionEncrypted
	}
	return filepath.Join(directory, e.name+ext)
}

// Record returns the experiment row handed to ExperimentDatabase.SetupExperiment.
func (e *Experiment) Record() ExperimentRecord {
	return ExperimentRecord{
		ID:         e.id,
		Name:       e.name,
		Species:    e.species,
		UsesRFID:   e.usesRFID,
		NumAnimals: e.numAnimals,
		NumGroups:  e.numGroups,
		MaxPerCage: e.maxPerCage,
	}
}

// SaveToDatabase writes the experiment to a new file in directory through
// backend and returns the file path. When a password is set the file is
// encrypted in place after the database is closed. Collaborator errors are
// returned as is.
func (e *Experiment) SaveToDatabase(ctx context.Context, directory string, backend SaveBackend) (path string, err error) {
	path = e.FilePath(directory)
	db, err := backend.OpenDatabase(ctx, path)
	if err != nil {
		return "", err
	}
	closed := false
	defer func() {
		if !closed {
			_ = db.Close()
		}
	}()

	// DateCreated is not part of ExperimentRecord; the file carries no
	// creation date yet.
	if err := db.SetupExperiment(ctx, e.Record()); err != nil {
		return "", err
	}
	if err := db.SetupGroups(ctx, e.GroupNames()); err != nil {
		return "", err
	}
	if err := db.SetupCages(ctx, e.numAnimals, e.numGroups, e.maxPerCage); err != nil {
		return "", err
	}
	if err := db.SetupMeasurementItems(ctx, e.CollectionTypes()); err != nil {
		return "", err
	}
	if err := db.SetupCollectedData(ctx, e.MeasurementItems()); err != nil {
		return "", err
	}
	closed = true
	if err := db.Close(); err != nil {
		return "", err
	}

	if e.hasPassword {
		manager, err := backend.NewPasswordManager(e.password)
		if err != nil {
			return "", err
		}
		if err := manager.EncryptFile(ctx, path); err != nil {
			return "", err
		}
	}
	return path, nil
}
