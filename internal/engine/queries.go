package engine

import (
	"sort"
	"strings"

	"github.com/grindlog/grind/internal/topic"
)

// Read accessors. Each returns a fresh snapshot; callers never see the
// engine's own maps.

// CurrentDay returns the rotation pointer.
func (e *Engine) CurrentDay() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentDay
}

// Daily returns the record for one slot. A missing record reads as
// empty defaults with found=false.
func (e *Engine) Daily(day, slot int) (DailyRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.daily[DailyKey(day, slot)]
	if !ok {
		return DailyRecord{Day: day, ProblemNum: slot}, false
	}
	return rec, true
}

// DayProgress returns the completion percentage of one day's slots.
func (e *Engine) DayProgress(day int) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	done := 0
	for slot := 1; slot <= topic.SlotsPerDay; slot++ {
		if rec, ok := e.daily[DailyKey(day, slot)]; ok && rec.Completed {
			done++
		}
	}
	return float64(done) / float64(topic.SlotsPerDay) * 100
}

// CycleProgress returns the completion percentage across the whole
// rotation.
func (e *Engine) CycleProgress() float64 {
	total := e.catalog.Days() * topic.SlotsPerDay
	if total == 0 {
		return 0
	}
	return float64(e.CompletedInCycle()) / float64(total) * 100
}

// CompletedInCycle counts completed slots in the current cycle.
func (e *Engine) CompletedInCycle() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	done := 0
	for _, rec := range e.daily {
		if rec.Completed {
			done++
		}
	}
	return done
}

// AllSolved returns the full history, newest first.
func (e *Engine) AllSolved() []SolvedProblem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collectLocked(func(SolvedRecord) bool { return true })
}

// ReviewQueue returns the records flagged for review, newest first.
func (e *Engine) ReviewQueue() []SolvedProblem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collectLocked(func(r SolvedRecord) bool { return r.NeedsReview })
}

// TrickyQueue returns the records flagged tricky, newest first.
func (e *Engine) TrickyQueue() []SolvedProblem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collectLocked(func(r SolvedRecord) bool { return r.IsTricky })
}

// Search returns history entries whose name, link, or notes contain the
// query, case-insensitively, newest first.
func (e *Engine) Search(query string) []SolvedProblem {
	q := strings.ToLower(strings.TrimSpace(query))
	e.mu.Lock()
	defer e.mu.Unlock()
	if q == "" {
		return e.collectLocked(func(SolvedRecord) bool { return true })
	}
	return e.collectLocked(func(r SolvedRecord) bool {
		return strings.Contains(strings.ToLower(r.Name), q) ||
			strings.Contains(strings.ToLower(r.Link), q) ||
			strings.Contains(strings.ToLower(r.Notes), q)
	})
}

// collectLocked filters and sorts the solved set. CompletedDate strings
// are ISO-8601 UTC, so lexicographic order is chronological; ids break
// ties deterministically.
func (e *Engine) collectLocked(keep func(SolvedRecord) bool) []SolvedProblem {
	out := make([]SolvedProblem, 0, len(e.solved))
	for id, rec := range e.solved {
		if keep(rec) {
			out = append(out, SolvedProblem{ID: id, SolvedRecord: rec})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompletedDate != out[j].CompletedDate {
			return out[i].CompletedDate > out[j].CompletedDate
		}
		return out[i].ID > out[j].ID
	})
	return out
}
