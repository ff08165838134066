package experimentdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mouser/pkg/domain"
)

func openTemp(t *testing.T) *Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "trial1.mouser")
	db, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestSetupRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)
	rec := domain.ExperimentRecord{ID: "exp-1", Name: "trial1", Species: "Mus musculus", UsesRFID: true, NumAnimals: "10", NumGroups: "3", MaxPerCage: "2"}
	if err := db.SetupExperiment(ctx, rec); err != nil {
		t.Fatalf("setup experiment: %v", err)
	}
	if err := db.SetupGroups(ctx, []string{"Control", "Low", "High"}); err != nil {
		t.Fatalf("setup groups: %v", err)
	}
	if err := db.SetupCages(ctx, "10", "3", "2"); err != nil {
		t.Fatalf("setup cages: %v", err)
	}
	if err := db.SetupMeasurementItems(ctx, []domain.CollectionType{"Manual", "Automatic"}); err != nil {
		t.Fatalf("setup measurement items: %v", err)
	}
	if err := db.SetupCollectedData(ctx, []domain.MeasurementItem{"Weight", "Tumor \"size\""}); err != nil {
		t.Fatalf("setup collected data: %v", err)
	}

	got, err := db.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Summary{
		Record:          rec,
		GroupNames:      []string{"Control", "Low", "High"},
		Cages:           6, // groups of 4,3,3 animals at 2 per cage
		Animals:         10,
		Items:           []domain.MeasurementItem{"Weight", "Tumor \"size\""},
		CollectionTypes: []domain.CollectionType{"Manual", "Automatic"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}

	if _, err := db.db.ExecContext(ctx, `INSERT INTO animal_measurements(animal_id, date, "Weight") VALUES(1, '2024-03-09', 21.5)`); err != nil {
		t.Fatalf("collected data table not usable: %v", err)
	}
}

func TestSetupIsRepeatable(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)
	for _, groups := range []string{"2", "4"} {
		if err := db.SetupExperiment(ctx, domain.ExperimentRecord{ID: "exp-1", Name: "trial1"}); err != nil {
			t.Fatalf("setup experiment: %v", err)
		}
		if err := db.SetupCages(ctx, "8", groups, "3"); err != nil {
			t.Fatalf("setup cages: %v", err)
		}
		if err := db.SetupCollectedData(ctx, []domain.MeasurementItem{"Weight"}); err != nil {
			t.Fatalf("setup collected data: %v", err)
		}
	}
	got, err := db.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Animals != 8 || got.Cages != 4 {
		t.Fatalf("expected re-provisioned layout of 4 cages / 8 animals, got %d / %d", got.Cages, got.Animals)
	}
}

func TestSetupCagesRejectsBadCounts(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)
	cases := []struct{ animals, groups, perCage string }{
		{"ten", "2", "2"},
		{"10", "0", "2"},
		{"10", "2", "0"},
		{"-1", "2", "2"},
		{"", "2", "2"},
	}
	for _, tc := range cases {
		err := db.SetupCages(ctx, tc.animals, tc.groups, tc.perCage)
		if !errors.Is(err, ErrInvalidCount) {
			t.Fatalf("SetupCages(%q,%q,%q): expected ErrInvalidCount, got %v", tc.animals, tc.groups, tc.perCage, err)
		}
	}
}

func TestSetupCollectedDataRejectsBadNames(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)
	if err := db.SetupCollectedData(ctx, []domain.MeasurementItem{"Weight", " weight "}); err == nil {
		t.Fatalf("expected duplicate item error")
	}
	if err := db.SetupCollectedData(ctx, []domain.MeasurementItem{"  "}); err == nil {
		t.Fatalf("expected empty item error")
	}
	for _, name := range []domain.MeasurementItem{"Date", "date", "animal_id", " Animal_ID "} {
		err := db.SetupCollectedData(ctx, []domain.MeasurementItem{"Weight", name})
		if !errors.Is(err, ErrReservedItemName) {
			t.Fatalf("SetupCollectedData(%q): expected ErrReservedItemName, got %v", name, err)
		}
	}
}

func TestLoadKeepsItemRowsPositional(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)
	if err := db.SetupExperiment(ctx, domain.ExperimentRecord{ID: "exp-1", Name: "trial1"}); err != nil {
		t.Fatalf("setup experiment: %v", err)
	}
	if err := db.SetupMeasurementItems(ctx, []domain.CollectionType{"", "Automatic", "Manual"}); err != nil {
		t.Fatalf("setup measurement items: %v", err)
	}
	if err := db.SetupCollectedData(ctx, []domain.MeasurementItem{"Weight", "Length"}); err != nil {
		t.Fatalf("setup collected data: %v", err)
	}
	got, err := db.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	wantItems := []domain.MeasurementItem{"Weight", "Length", ""}
	wantTypes := []domain.CollectionType{"", "Automatic", "Manual"}
	if diff := cmp.Diff(wantItems, got.Items); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantTypes, got.CollectionTypes); diff != "" {
		t.Fatalf("collection types mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	db := openTemp(t)
	if _, err := db.Load(context.Background()); !errors.Is(err, ErrNoExperiment) {
		t.Fatalf("expected ErrNoExperiment, got %v", err)
	}
}

func TestPlanCages(t *testing.T) {
	got := PlanCages(5, 2, 2)
	want := []Cage{
		{CageID: 1, GroupID: 1, AnimalIDs: []int{1, 2}},
		{CageID: 2, GroupID: 1, AnimalIDs: []int{3}},
		{CageID: 3, GroupID: 2, AnimalIDs: []int{4, 5}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("layout mismatch (-want +got):\n%s", diff)
	}
	if PlanCages(0, 3, 2) != nil {
		t.Fatalf("no animals should yield no cages")
	}
	if PlanCages(4, 0, 2) != nil || PlanCages(4, 2, 0) != nil {
		t.Fatalf("invalid dimensions should yield no cages")
	}
}
