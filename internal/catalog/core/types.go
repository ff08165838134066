// Package core defines the catalog entry and the store contract implemented
// by the catalog backends.
package core

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Entry indexes one saved experiment file.
type Entry struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Species       string    `json:"species"`
	Investigators []string  `json:"investigators"`
	Path          string    `json:"path"`
	Encrypted     bool      `json:"encrypted"`
	DateCreated   string    `json:"date_created"`
	ArchiveKey    string    `json:"archive_key,omitempty"`
	SavedAt       time.Time `json:"saved_at"`
}

// Store persists catalog entries.
type Store interface {
	// Record inserts or replaces the entry with the same ID.
	Record(ctx context.Context, e Entry) error
	Get(ctx context.Context, id string) (Entry, error)
	// List returns entries newest first.
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, id string) (bool, error)
	Close() error
}

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("catalog: entry not found")

// ErrMissingID is returned by Record for entries without an id.
var ErrMissingID = errors.New("catalog: entry id required")

// SortEntries orders entries by SavedAt descending, then Name, then ID.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.SavedAt.Equal(b.SavedAt) {
			return a.SavedAt.After(b.SavedAt)
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}

// CloneEntry returns e with its slices copied.
func CloneEntry(e Entry) Entry {
	if e.Investigators != nil {
		e.Investigators = append([]string(nil), e.Investigators...)
	}
	return e
}
