package domain

import "context"

// ExperimentRecord is the experiment row written by SetupExperiment. Counts
// are carried as the strings the caller entered.
type ExperimentRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Species    string `json:"species"`
	UsesRFID   bool   `json:"uses_rfid"`
	NumAnimals string `json:"num_animals"`
	NumGroups  string `json:"num_groups"`
	MaxPerCage string `json:"max_per_cage"`
}

// ExperimentDatabase is the persistence collaborator bound to one experiment
// file. The file format is owned by the implementation.
type ExperimentDatabase interface {
	SetupExperiment(ctx context.Context, rec ExperimentRecord) error
	SetupGroups(ctx context.Context, names []string) error
	SetupCages(ctx context.Context, numAnimals, numGroups, maxPerCage string) error
	SetupMeasurementItems(ctx context.Context, types []CollectionType) error
	SetupCollectedData(ctx context.Context, items []MeasurementItem) error
	Close() error
}

// PasswordManager encrypts an existing experiment file in place.
type PasswordManager interface {
	EncryptFile(ctx context.Context, path string) error
}

// SaveBackend constructs the collaborators used by Experiment.SaveToDatabase.
type SaveBackend interface {
	OpenDatabase(ctx context.Context, path string) (ExperimentDatabase, error)
	NewPasswordManager(secret string) (PasswordManager, error)
}
