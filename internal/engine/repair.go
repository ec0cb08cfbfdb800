package engine

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/grindlog/grind/internal/docstore"
)

// Document repair undoes two structural corruptions left behind by a
// historical client that joined field paths on ".":
//
//   - a field write to "problemData.<id>" that landed as a literal
//     top-level key of that name instead of a nested field, and
//   - a record id split at the millisecond dot of its timestamp, leaving
//     an outer entry keyed by the timestamp prefix whose value is a
//     single-entry object keyed by the remainder.
//
// Both repairs are idempotent, run on every load, and never touch
// entries they cannot positively classify. Repaired data is corrected in
// memory only; the next natural write persists the clean shape.

// flattenedPrefix is the literal key prefix produced by the first
// corruption pattern.
const flattenedPrefix = "problemData."

// rawEntryKind classifies one entry of the raw solved mapping.
type rawEntryKind int

const (
	kindWellFormed rawEntryKind = iota
	kindSplitTimestamp
	kindOpaque
)

// classifyEntry decides whether a mapping entry is a split-timestamp
// artifact. The "Z-" probe matches the UTC marker that immediately
// precedes the day-slot suffix of a well-formed id remainder. The probe
// is deliberately not hardened beyond the shapes observed in the wild;
// an id that legitimately contains "Z-" inside a value key would be
// misclassified, but no such ids are generated.
func classifyEntry(v any) rawEntryKind {
	m, ok := v.(map[string]any)
	if !ok || m == nil {
		return kindOpaque
	}
	if _, hasName := m["name"]; hasName {
		return kindWellFormed
	}
	if _, hasDate := m["completedDate"]; hasDate {
		return kindWellFormed
	}
	if len(m) != 1 {
		return kindOpaque
	}
	for k := range m {
		if strings.Contains(k, "Z-") {
			return kindSplitTimestamp
		}
	}
	return kindOpaque
}

// RepairSolved extracts the solved-record mapping from a raw document,
// fixing both corruption patterns. The input document is not modified.
func RepairSolved(raw docstore.Document) map[string]any {
	records := map[string]any{}
	if pd, ok := raw["problemData"].(map[string]any); ok {
		for id, v := range pd {
			records[id] = v
		}
	}

	// Pass 1: literal "problemData.<id>" keys at the document top
	// level. The properly nested value wins when both exist.
	for key, v := range raw {
		id, found := strings.CutPrefix(key, flattenedPrefix)
		if !found || id == "" {
			continue
		}
		if _, exists := records[id]; !exists {
			records[id] = v
		}
	}

	// Pass 2: split-timestamp entries inside the mapping. Collect
	// first so the map is not mutated mid-iteration.
	type splitFix struct {
		outer, inner string
		value        any
	}
	var fixes []splitFix
	for outer, v := range records {
		if classifyEntry(v) != kindSplitTimestamp {
			continue
		}
		m := v.(map[string]any)
		for inner, rec := range m {
			fixes = append(fixes, splitFix{outer: outer, inner: inner, value: rec})
		}
	}
	for _, fix := range fixes {
		full := fix.outer + "." + fix.inner
		if _, exists := records[full]; !exists {
			records[full] = fix.value
		}
		delete(records, fix.outer)
	}

	return records
}

// decodeSolved converts a repaired mapping into typed records. Entries
// that do not decode are logged and dropped from memory; they stay in
// the store untouched until overwritten.
func decodeSolved(records map[string]any, logger *log.Logger) map[string]SolvedRecord {
	out := make(map[string]SolvedRecord, len(records))
	for id, v := range records {
		raw, err := json.Marshal(v)
		if err != nil {
			logger.Printf("WARNING: skipping unreadable solved record %s: %v", id, err)
			continue
		}
		var rec SolvedRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			logger.Printf("WARNING: skipping malformed solved record %s: %v", id, err)
			continue
		}
		out[id] = rec
	}
	return out
}

// decodeDaily converts a raw daily-problems mapping into typed records.
func decodeDaily(raw any, logger *log.Logger) map[string]DailyRecord {
	out := map[string]DailyRecord{}
	m, ok := raw.(map[string]any)
	if !ok {
		return out
	}
	for key, v := range m {
		data, err := json.Marshal(v)
		if err != nil {
			logger.Printf("WARNING: skipping unreadable daily record %s: %v", key, err)
			continue
		}
		var rec DailyRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			logger.Printf("WARNING: skipping malformed daily record %s: %v", key, err)
			continue
		}
		out[key] = rec
	}
	return out
}
