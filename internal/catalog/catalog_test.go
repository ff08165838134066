package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemory() },
		"sqlite": func() Store {
			s, err := Open(context.Background(), Config{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "catalog.db")})
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return s
		},
	}
}

func TestStoreConformance(t *testing.T) {
	base := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory()
			defer func() { _ = s.Close() }()

			older := Entry{ID: "a", Name: "Alpha", Species: "Mouse", Investigators: []string{"Dr. A"}, Path: "/d/Alpha.mouser", DateCreated: "2024-05-01", SavedAt: base}
			newer := Entry{ID: "b", Name: "Beta", Path: "/d/Beta.pmouser", Encrypted: true, ArchiveKey: "experiments/b/1/Beta.pmouser", SavedAt: base.Add(time.Hour)}
			for _, e := range []Entry{older, newer} {
				if err := s.Record(ctx, e); err != nil {
					t.Fatalf("record %s: %v", e.ID, err)
				}
			}
			if err := s.Record(ctx, Entry{Name: "no id"}); !errors.Is(err, ErrMissingID) {
				t.Fatalf("expected ErrMissingID, got %v", err)
			}

			got, err := s.Get(ctx, "a")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if diff := cmp.Diff(older, got); diff != "" {
				t.Fatalf("get mismatch (-want +got):\n%s", diff)
			}

			list, err := s.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 2 || list[0].ID != "b" || list[1].ID != "a" {
				t.Fatalf("expected newest first, got %+v", list)
			}
			if len(list[0].Investigators) != 0 {
				t.Fatalf("expected no investigators, got %#v", list[0].Investigators)
			}

			older.Name = "Alpha renamed"
			older.SavedAt = base.Add(2 * time.Hour)
			if err := s.Record(ctx, older); err != nil {
				t.Fatalf("re-record: %v", err)
			}
			list, _ = s.List(ctx)
			if len(list) != 2 || list[0].Name != "Alpha renamed" {
				t.Fatalf("expected upsert to move entry first, got %+v", list)
			}

			removed, err := s.Delete(ctx, "a")
			if err != nil || !removed {
				t.Fatalf("delete: %v %v", removed, err)
			}
			removed, err = s.Delete(ctx, "a")
			if err != nil || removed {
				t.Fatalf("second delete: %v %v", removed, err)
			}
			if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{Driver: "MEMORY"})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	_ = s.Close()
	s, err = Open(ctx, Config{SQLitePath: filepath.Join(t.TempDir(), "nested", "c.db")})
	if err != nil {
		t.Fatalf("default sqlite: %v", err)
	}
	_ = s.Close()
	if _, err := Open(ctx, Config{Driver: "bolt"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
