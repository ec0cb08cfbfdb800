// Package engine implements the sync and reconciliation core of grind.
//
// The engine owns the in-memory authoritative copies of the two record
// sets - the current cycle's daily slots and the permanent solved
// history - and exposes every mutation the presentation layer uses.
// Mutations commit locally first, then flow to the document store
// through a per-document debounce coalescer; incoming store snapshots
// are repaired, checked against the echo flag, and folded back into
// memory. A JSON-file cache keeps the tracker usable when the store is
// unreachable at startup.
package engine

import (
	"fmt"
	"time"
)

// Document names at the store boundary. The legacy combined document is
// read once by the migrator and never written again.
const (
	DocMain   = "main"
	DocDaily  = "daily"
	DocSolved = "solved"
)

// Local cache keys, mirroring the persisted state.
const (
	cacheKeyCurrentDay    = "currentDay"
	cacheKeyProblemData   = "problemData"
	cacheKeyDailyProblems = "dailyProblems"
)

// DailyRecord is the working state of one (day, slot) cell in the
// current cycle. Absent records read as empty defaults; the whole set
// is wiped on cycle reset.
type DailyRecord struct {
	Completed   bool   `json:"completed"`
	Name        string `json:"name,omitempty"`
	Link        string `json:"link,omitempty"`
	Notes       string `json:"notes,omitempty"`
	NeedsReview bool   `json:"needsReview,omitempty"`
	IsTricky    bool   `json:"isTricky,omitempty"`
	Day         int    `json:"day"`
	ProblemNum  int    `json:"problemNum"`
}

// SolvedRecord is a permanent history entry. Once created, its identity
// and CompletedDate never change; it survives cycle resets and is only
// removed by an explicit delete.
type SolvedRecord struct {
	Name             string `json:"name"`
	Link             string `json:"link,omitempty"`
	Notes            string `json:"notes"`
	CompletedDate    string `json:"completedDate"`
	Day              int    `json:"day"`
	ProblemNum       int    `json:"problemNum,omitempty"`
	NeedsReview      bool   `json:"needsReview"`
	IsTricky         bool   `json:"isTricky"`
	LastReviewedDate string `json:"lastReviewedDate,omitempty"`
}

// SolvedProblem pairs a SolvedRecord with its id for presentation.
type SolvedProblem struct {
	ID string
	SolvedRecord
}

// DailyKey builds the record key for a (day, slot) cell.
func DailyKey(day, slot int) string {
	return fmt.Sprintf("%d-%d", day, slot)
}

// isoTime renders t the way the persisted documents expect: UTC with
// millisecond precision and a trailing Z.
func isoTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000") + "Z"
}

// SolvedID generates the id for a record produced by completing a slot.
// The timestamp prefix keeps history entries unique across cycles.
func SolvedID(t time.Time, day, slot int) string {
	return fmt.Sprintf("%s-%d-%d", isoTime(t), day, slot)
}

// ManualID generates the id for a manually logged record.
func ManualID(t time.Time) string {
	return isoTime(t) + "-manual"
}
