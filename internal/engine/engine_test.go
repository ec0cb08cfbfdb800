package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grindlog/grind/internal/docstore"
	"github.com/grindlog/grind/internal/localcache"
)

func newTestEngine(t *testing.T) (*Engine, *docstore.Memory) {
	t.Helper()
	store := docstore.NewMemory()
	eng, err := New(Config{
		Store:          store,
		DebounceWindow: 20 * time.Millisecond,
		Logger:         testLogger(),
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}
	t.Cleanup(func() {
		eng.Close()
		store.Close()
	})
	return eng, store
}

func TestToggleDailyCompletionOnEmptySet(t *testing.T) {
	eng, store := newTestEngine(t)

	if err := eng.ToggleDailyCompletion(1, 1); err != nil {
		t.Fatal(err)
	}

	rec, found := eng.Daily(1, 1)
	if !found {
		t.Fatal("record not created")
	}
	if !rec.Completed || rec.Day != 1 || rec.ProblemNum != 1 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if solved := eng.AllSolved(); len(solved) != 0 {
		t.Errorf("completion toggle must not create history entries: %v", solved)
	}

	// The write is immediate; the store already has it.
	doc, found, err := store.Get(context.Background(), DocDaily)
	if err != nil || !found {
		t.Fatalf("daily document missing: found=%v err=%v", found, err)
	}
	problems := doc["dailyProblems"].(map[string]any)
	if _, ok := problems["1-1"]; !ok {
		t.Errorf("slot 1-1 not persisted: %v", problems)
	}
}

func TestToggleFlagParity(t *testing.T) {
	eng, _ := newTestEngine(t)

	for i := 0; i < 4; i++ {
		if err := eng.ToggleDailyFlag(1, 2, FlagTricky); err != nil {
			t.Fatal(err)
		}
	}
	if rec, _ := eng.Daily(1, 2); rec.IsTricky {
		t.Error("even number of toggles must restore original value")
	}

	if err := eng.ToggleDailyFlag(1, 2, FlagNeedsReview); err != nil {
		t.Fatal(err)
	}
	if rec, _ := eng.Daily(1, 2); !rec.NeedsReview {
		t.Error("odd number of toggles must flip the flag")
	}
}

func TestMarkSolvedAndPersist(t *testing.T) {
	eng, store := newTestEngine(t)

	if err := eng.UpdateDailyField(2, 3, FieldName, "Two Sum"); err != nil {
		t.Fatal(err)
	}
	if err := eng.UpdateDailyField(2, 3, FieldNotes, "O(n)"); err != nil {
		t.Fatal(err)
	}

	id, err := eng.MarkSolvedAndPersist(2, 3)
	if err != nil {
		t.Fatal(err)
	}

	solved := eng.AllSolved()
	if len(solved) != 1 {
		t.Fatalf("expected exactly one history entry, got %d", len(solved))
	}
	got := solved[0]
	if got.ID != id {
		t.Errorf("id mismatch: %s vs %s", got.ID, id)
	}
	if got.Name != "Two Sum" || got.Notes != "O(n)" || got.Day != 2 || got.ProblemNum != 3 {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.NeedsReview || got.IsTricky {
		t.Errorf("flags must start clear: %+v", got)
	}
	if got.CompletedDate == "" {
		t.Error("completedDate must be set")
	}

	if rec, _ := eng.Daily(2, 3); !rec.Completed {
		t.Error("daily slot not marked completed")
	}

	doc, _, err := store.Get(context.Background(), DocSolved)
	if err != nil {
		t.Fatal(err)
	}
	records := doc["problemData"].(map[string]any)
	if _, ok := records[id]; !ok {
		t.Errorf("record %s not persisted: %v", id, records)
	}
}

func TestSlotValidation(t *testing.T) {
	eng, _ := newTestEngine(t)

	if err := eng.ToggleDailyCompletion(0, 1); err == nil {
		t.Error("day 0 must be rejected")
	}
	if err := eng.ToggleDailyCompletion(99, 1); err == nil {
		t.Error("day beyond catalog must be rejected")
	}
	if err := eng.ToggleDailyCompletion(1, 0); err == nil {
		t.Error("slot 0 must be rejected")
	}
	if err := eng.ToggleDailyCompletion(1, 4); err == nil {
		t.Error("slot beyond rotation must be rejected")
	}
}

func TestUpdateSolvedFieldMissingRecord(t *testing.T) {
	eng, _ := newTestEngine(t)

	err := eng.UpdateSolvedField("no-such-id", FieldNotes, "x")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAddManualRecord(t *testing.T) {
	eng, _ := newTestEngine(t)

	if _, err := eng.AddManualRecord("  ", "", ""); !errors.Is(err, ErrEmptyName) {
		t.Errorf("blank name must fail with ErrEmptyName, got %v", err)
	}
	if got := eng.AllSolved(); len(got) != 0 {
		t.Fatalf("failed add must not change state: %v", got)
	}

	id, err := eng.AddManualRecord("Median of Two Sorted Arrays", "https://example.com/4", "hard")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(id, "-manual") {
		t.Errorf("manual id must end in -manual: %s", id)
	}

	solved := eng.AllSolved()
	if len(solved) != 1 {
		t.Fatalf("expected one record, got %d", len(solved))
	}
	if solved[0].ProblemNum != 0 {
		t.Errorf("manual records carry no slot number: %+v", solved[0])
	}
	if solved[0].Day != eng.CurrentDay() {
		t.Errorf("manual record day = %d, want current day %d", solved[0].Day, eng.CurrentDay())
	}
}

func TestMarkReviewedToday(t *testing.T) {
	eng, _ := newTestEngine(t)

	id, err := eng.AddManualRecord("Word Ladder", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.ToggleSolvedFlag(id, FlagNeedsReview); err != nil {
		t.Fatal(err)
	}

	if err := eng.MarkReviewedToday(id); err != nil {
		t.Fatal(err)
	}
	got := eng.AllSolved()[0]
	if got.NeedsReview {
		t.Error("review flag not cleared")
	}
	if got.LastReviewedDate == "" {
		t.Error("lastReviewedDate not set")
	}

	if err := eng.MarkReviewedToday("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteSolvedRecord(t *testing.T) {
	eng, store := newTestEngine(t)

	id, err := eng.AddManualRecord("Course Schedule", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.DeleteSolvedRecord(id); err != nil {
		t.Fatal(err)
	}
	if got := eng.AllSolved(); len(got) != 0 {
		t.Errorf("record still in memory: %v", got)
	}

	// Field delete, not a tombstone value.
	doc, _, err := store.Get(context.Background(), DocSolved)
	if err != nil {
		t.Fatal(err)
	}
	records := doc["problemData"].(map[string]any)
	if _, ok := records[id]; ok {
		t.Errorf("record %s still in store: %v", id, records)
	}

	if err := eng.DeleteSolvedRecord(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete must fail with ErrNotFound, got %v", err)
	}
}

func TestResetCycleKeepsHistory(t *testing.T) {
	eng, _ := newTestEngine(t)

	if _, err := eng.MarkSolvedAndPersist(1, 1); err != nil {
		t.Fatal(err)
	}
	if err := eng.SetCurrentDay(3); err != nil {
		t.Fatal(err)
	}

	if err := eng.ResetCycle(); err != nil {
		t.Fatal(err)
	}
	if got := eng.CurrentDay(); got != 1 {
		t.Errorf("currentDay = %d, want 1", got)
	}
	if got := eng.CompletedInCycle(); got != 0 {
		t.Errorf("completed count = %d, want 0", got)
	}
	if got := eng.AllSolved(); len(got) != 1 {
		t.Errorf("reset must not touch history: %v", got)
	}
}

func TestClearDailySlot(t *testing.T) {
	eng, _ := newTestEngine(t)

	if err := eng.UpdateDailyField(1, 1, FieldName, "Two Sum"); err != nil {
		t.Fatal(err)
	}
	if err := eng.ToggleDailyCompletion(1, 1); err != nil {
		t.Fatal(err)
	}

	if err := eng.ClearDailySlot(1, 1); err != nil {
		t.Fatal(err)
	}
	rec, found := eng.Daily(1, 1)
	if !found {
		t.Fatal("cleared slot must remain present")
	}
	if rec.Completed || rec.Name != "" {
		t.Errorf("slot not wiped: %+v", rec)
	}
	if rec.Day != 1 || rec.ProblemNum != 1 {
		t.Errorf("slot identity lost: %+v", rec)
	}
}

func TestDebouncedEditCoalesces(t *testing.T) {
	eng, store := newTestEngine(t)

	for _, notes := range []string{"O", "O(", "O(n", "O(n)"} {
		if err := eng.UpdateDailyField(1, 1, FieldNotes, notes); err != nil {
			t.Fatal(err)
		}
	}

	// Only the timer-surviving write reaches the store, carrying the
	// final value.
	deadline := time.Now().Add(2 * time.Second)
	for {
		doc, found, err := store.Get(context.Background(), DocDaily)
		if err != nil {
			t.Fatal(err)
		}
		if found {
			if problems, ok := doc["dailyProblems"].(map[string]any); ok {
				if slot, ok := problems["1-1"].(map[string]any); ok && slot["notes"] == "O(n)" {
					break
				}
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("debounced write never reached the store")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEchoSuppression(t *testing.T) {
	eng, _ := newTestEngine(t)

	if err := eng.UpdateDailyField(1, 1, FieldName, "local edit"); err != nil {
		t.Fatal(err)
	}
	// Drain the pending debounced write so its echo handling cannot
	// interleave with the snapshots injected below.
	eng.Flush()

	foreign := docstore.Snapshot{
		Doc:    DocDaily,
		Exists: true,
		Data: docstore.Document{
			"currentDay": float64(5),
			"dailyProblems": map[string]any{
				"5-1": map[string]any{"completed": true, "day": float64(5), "problemNum": float64(1)},
			},
		},
	}

	// A notification arriving while the flag is up is treated as the
	// echo of our own write and dropped.
	eng.mu.Lock()
	eng.expectingEcho = true
	eng.mu.Unlock()
	eng.handleDailySnapshot(foreign)

	if got := eng.CurrentDay(); got != 1 {
		t.Errorf("suppressed snapshot was applied: currentDay = %d", got)
	}
	if rec, _ := eng.Daily(1, 1); rec.Name != "local edit" {
		t.Errorf("local state lost: %+v", rec)
	}

	// The flag is one-shot: the next notification applies normally.
	eng.handleDailySnapshot(foreign)
	if got := eng.CurrentDay(); got != 5 {
		t.Errorf("foreign snapshot not applied: currentDay = %d", got)
	}
	if rec, found := eng.Daily(5, 1); !found || !rec.Completed {
		t.Errorf("foreign record not applied: %+v found=%v", rec, found)
	}
}

func TestFallbackModePersistsToCache(t *testing.T) {
	dir := t.TempDir()
	cache := localcache.New(filepath.Join(dir, "grind.json"))

	eng, err := New(Config{Cache: cache, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !eng.Fallback() {
		t.Fatal("engine must run in fallback mode without a store")
	}

	id, err := eng.AddManualRecord("Two Sum", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := eng.SetCurrentDay(2); err != nil {
		t.Fatal(err)
	}
	if err := eng.Close(); err != nil {
		t.Fatal(err)
	}

	// A fresh engine over the same cache file sees the state.
	eng2, err := New(Config{Cache: cache, Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := eng2.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer eng2.Close()

	if got := eng2.CurrentDay(); got != 2 {
		t.Errorf("currentDay = %d, want 2", got)
	}
	solved := eng2.AllSolved()
	if len(solved) != 1 || solved[0].ID != id {
		t.Errorf("history not recovered from cache: %v", solved)
	}
}

func TestQueries(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.now = func() time.Time {
		return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	}

	ids := make([]string, 0, 3)
	for i, name := range []string{"Two Sum", "Valid Anagram", "LRU Cache"} {
		day := i + 1
		eng.now = func() time.Time {
			return time.Date(2024, 3, day, 10, 0, 0, 0, time.UTC)
		}
		id, err := eng.AddManualRecord(name, "", "note "+name)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	if err := eng.ToggleSolvedFlag(ids[0], FlagNeedsReview); err != nil {
		t.Fatal(err)
	}
	if err := eng.ToggleSolvedFlag(ids[2], FlagTricky); err != nil {
		t.Fatal(err)
	}

	all := eng.AllSolved()
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].Name != "LRU Cache" || all[2].Name != "Two Sum" {
		t.Errorf("history not sorted newest first: %v", all)
	}

	if q := eng.ReviewQueue(); len(q) != 1 || q[0].Name != "Two Sum" {
		t.Errorf("unexpected review queue: %v", q)
	}
	if q := eng.TrickyQueue(); len(q) != 1 || q[0].Name != "LRU Cache" {
		t.Errorf("unexpected tricky queue: %v", q)
	}
	if q := eng.Search("anagram"); len(q) != 1 || q[0].Name != "Valid Anagram" {
		t.Errorf("unexpected search result: %v", q)
	}
	if q := eng.Search(""); len(q) != 3 {
		t.Errorf("empty query must return everything: %v", q)
	}

	if err := eng.ToggleDailyCompletion(1, 1); err != nil {
		t.Fatal(err)
	}
	if got := eng.DayProgress(1); got < 33.0 || got > 34.0 {
		t.Errorf("day progress = %f, want one third", got)
	}
	days := eng.Catalog().Days()
	want := 100.0 / float64(days*3)
	if got := eng.CycleProgress(); got < want-0.01 || got > want+0.01 {
		t.Errorf("cycle progress = %f, want %f", got, want)
	}
}
