package engine

import (
	"reflect"
	"testing"

	"github.com/grindlog/grind/internal/docstore"
)

func record(name string) map[string]any {
	return map[string]any{
		"name":          name,
		"completedDate": "2024-03-01T10:00:00.000Z",
		"day":           float64(1),
	}
}

func TestRepairCleanDocumentPassesThrough(t *testing.T) {
	raw := docstore.Document{
		"problemData": map[string]any{
			"2024-03-01T10:00:00.000Z-1-1": record("Two Sum"),
			"2024-03-02T11:00:00.000Z-manual": record("LRU Cache"),
		},
		"lastUpdated": "2024-03-02T11:00:00.000Z",
	}

	got := RepairSolved(raw)
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d: %v", len(got), got)
	}
	if _, ok := got["2024-03-01T10:00:00.000Z-1-1"]; !ok {
		t.Error("well-formed record missing after repair")
	}
	if _, ok := got["lastUpdated"]; ok {
		t.Error("document metadata leaked into record set")
	}
}

func TestRepairFlattenedKey(t *testing.T) {
	raw := docstore.Document{
		"problemData": map[string]any{},
		"problemData.2024-03-01T10:00:00.000Z-1-2": record("Valid Anagram"),
	}

	got := RepairSolved(raw)
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d: %v", len(got), got)
	}
	if _, ok := got["2024-03-01T10:00:00.000Z-1-2"]; !ok {
		t.Fatalf("flattened key not folded into record set: %v", got)
	}
}

func TestRepairFlattenedKeyPrefersNested(t *testing.T) {
	raw := docstore.Document{
		"problemData": map[string]any{
			"2024-03-01T10:00:00.000Z-1-2": record("nested"),
		},
		"problemData.2024-03-01T10:00:00.000Z-1-2": record("flattened"),
	}

	got := RepairSolved(raw)
	rec := got["2024-03-01T10:00:00.000Z-1-2"].(map[string]any)
	if rec["name"] != "nested" {
		t.Errorf("expected nested value to win, got %v", rec["name"])
	}
}

func TestRepairSplitTimestamp(t *testing.T) {
	inner := record("Climbing Stairs")
	raw := docstore.Document{
		"problemData": map[string]any{
			"2024-03-01T10:00:00": map[string]any{
				"000Z-2-1": inner,
			},
		},
	}

	got := RepairSolved(raw)
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d: %v", len(got), got)
	}
	rec, ok := got["2024-03-01T10:00:00.000Z-2-1"]
	if !ok {
		t.Fatalf("split id not reconstructed: %v", got)
	}
	if !reflect.DeepEqual(rec, inner) {
		t.Errorf("record mangled during reconstruction: %v", rec)
	}
	if _, ok := got["2024-03-01T10:00:00"]; ok {
		t.Error("malformed outer entry not removed")
	}
}

func TestRepairSplitTimestampPrefersExisting(t *testing.T) {
	raw := docstore.Document{
		"problemData": map[string]any{
			"2024-03-01T10:00:00.000Z-2-1": record("existing"),
			"2024-03-01T10:00:00": map[string]any{
				"000Z-2-1": record("reconstructed"),
			},
		},
	}

	got := RepairSolved(raw)
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d: %v", len(got), got)
	}
	rec := got["2024-03-01T10:00:00.000Z-2-1"].(map[string]any)
	if rec["name"] != "existing" {
		t.Errorf("expected existing record to win, got %v", rec["name"])
	}
}

func TestRepairIdempotent(t *testing.T) {
	raw := docstore.Document{
		"problemData": map[string]any{
			"2024-03-01T10:00:00": map[string]any{
				"000Z-2-1": record("split"),
			},
			"2024-03-02T09:00:00.000Z-3-3": record("clean"),
		},
		"problemData.2024-03-03T08:00:00.000Z-manual": record("flat"),
	}

	once := RepairSolved(raw)
	twice := RepairSolved(docstore.Document{"problemData": once})
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("repair not idempotent:\n once: %v\ntwice: %v", once, twice)
	}
}

func TestClassifyEntry(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want rawEntryKind
	}{
		{"nil value", nil, kindOpaque},
		{"non-map", "text", kindOpaque},
		{"has name", map[string]any{"name": "x"}, kindWellFormed},
		{"has completedDate", map[string]any{"completedDate": "2024"}, kindWellFormed},
		{"split artifact", map[string]any{"000Z-1-1": map[string]any{}}, kindSplitTimestamp},
		{"single entry without marker", map[string]any{"notes": "n"}, kindOpaque},
		{"multiple entries", map[string]any{"a": 1, "b": 2}, kindOpaque},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyEntry(tt.in); got != tt.want {
				t.Errorf("classifyEntry(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
