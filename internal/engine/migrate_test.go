package engine

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/grindlog/grind/internal/docstore"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestMigrateSplitsLegacyDocument(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	defer store.Close()

	legacy := docstore.Document{
		"currentDay": 3,
		"dailyProblems": map[string]any{
			"3-1": map[string]any{"completed": true, "day": 3, "problemNum": 1},
		},
		"problemData": map[string]any{
			"2024-03-01T10:00:00.000Z-1-1": map[string]any{"name": "Two Sum"},
		},
	}
	if err := store.Set(ctx, DocMain, legacy, false); err != nil {
		t.Fatal(err)
	}

	if err := NewMigrator(store, testLogger()).Run(ctx); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	daily, found, err := store.Get(ctx, DocDaily)
	if err != nil || !found {
		t.Fatalf("daily document missing after migration: found=%v err=%v", found, err)
	}
	if got := intField(daily, "currentDay", 0); got != 3 {
		t.Errorf("currentDay = %d, want 3", got)
	}
	problems, ok := daily["dailyProblems"].(map[string]any)
	if !ok || len(problems) != 1 {
		t.Errorf("dailyProblems not carried over: %v", daily["dailyProblems"])
	}

	solved, found, err := store.Get(ctx, DocSolved)
	if err != nil || !found {
		t.Fatalf("solved document missing after migration: found=%v err=%v", found, err)
	}
	records, ok := solved["problemData"].(map[string]any)
	if !ok || len(records) != 1 {
		t.Errorf("problemData not carried over: %v", solved["problemData"])
	}

	// The legacy source stays in place; it simply stops being read.
	if _, found, _ := store.Get(ctx, DocMain); !found {
		t.Error("legacy document was deleted")
	}
}

func TestMigrateInitializesAbsentDocuments(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	defer store.Close()

	if err := NewMigrator(store, testLogger()).Run(ctx); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	daily, found, _ := store.Get(ctx, DocDaily)
	if !found {
		t.Fatal("daily document not initialized")
	}
	if got := intField(daily, "currentDay", 0); got != 1 {
		t.Errorf("currentDay = %d, want 1", got)
	}
	if _, found, _ := store.Get(ctx, DocSolved); !found {
		t.Fatal("solved document not initialized")
	}
}

func TestMigrateIdempotent(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	defer store.Close()

	if err := NewMigrator(store, testLogger()).Run(ctx); err != nil {
		t.Fatal(err)
	}

	// State written after the first run survives a second run.
	update := []docstore.FieldUpdate{
		{Path: []string{"currentDay"}, Value: 4},
	}
	if err := store.UpdateFields(ctx, DocDaily, update); err != nil {
		t.Fatal(err)
	}

	if err := NewMigrator(store, testLogger()).Run(ctx); err != nil {
		t.Fatal(err)
	}
	daily, _, _ := store.Get(ctx, DocDaily)
	if got := intField(daily, "currentDay", 0); got != 4 {
		t.Errorf("second run clobbered state: currentDay = %d, want 4", got)
	}
}
