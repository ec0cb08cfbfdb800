// Package topic holds the static study-topic catalog.
//
// The catalog maps each cycle day to a topic name and a short focus text.
// It is loaded once at startup and never persisted; the tracker's record
// keys reference catalog days by index.
package topic

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SlotsPerDay is the number of practice slots scheduled on each cycle day.
const SlotsPerDay = 3

// Topic is a single catalog entry.
type Topic struct {
	Day   int    `yaml:"day"`
	Name  string `yaml:"name"`
	Focus string `yaml:"focus"`
}

// Catalog is the ordered list of cycle days.
type Catalog []Topic

// Default returns the built-in five-day rotation.
func Default() Catalog {
	return Catalog{
		{Day: 1, Name: "Arrays & Two Pointers", Focus: "Master sliding window patterns and two-pointer techniques. Focus on in-place operations."},
		{Day: 2, Name: "Binary Search & Sorting", Focus: "Practice identifying search spaces. Remember: if sorted or can sort, think binary search."},
		{Day: 3, Name: "Trees & Graphs", Focus: "Visualize the structure. Practice both DFS and BFS. Draw the tree/graph for complex problems."},
		{Day: 4, Name: "Dynamic Programming & Recursion", Focus: "Start with recursion, then optimize with memoization. Identify overlapping subproblems."},
		{Day: 5, Name: "Hash Maps, Stacks & Queues", Focus: "Think about what data structure fits best. Frequency? Use HashMap. Order matters? Stack/Queue."},
	}
}

// Load reads a catalog from a YAML file.
//
// The file holds a list of {day, name, focus} entries. Days must be
// contiguous starting at 1 so that the cycle's day pointer always lands
// on a valid entry.
//
// Example:
//
//	- day: 1
//	  name: "Arrays & Two Pointers"
//	  focus: "Master sliding window patterns."
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog in %s: %w", path, err)
	}

	return c, nil
}

// Validate checks that the catalog is non-empty and its days run 1..N.
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("catalog has no entries")
	}
	for i, t := range c {
		if t.Day != i+1 {
			return fmt.Errorf("entry %d has day %d, want %d", i, t.Day, i+1)
		}
		if t.Name == "" {
			return fmt.Errorf("entry for day %d has no name", t.Day)
		}
	}
	return nil
}

// Days returns the number of days in one full cycle.
func (c Catalog) Days() int {
	return len(c)
}

// ValidDay reports whether day is a valid topic index.
func (c Catalog) ValidDay(day int) bool {
	return day >= 1 && day <= len(c)
}

// ForDay returns the topic scheduled on the given day.
func (c Catalog) ForDay(day int) (Topic, bool) {
	if !c.ValidDay(day) {
		return Topic{}, false
	}
	return c[day-1], true
}

// Focus returns the focus text for the given day, or "" if out of range.
func (c Catalog) Focus(day int) string {
	t, ok := c.ForDay(day)
	if !ok {
		return ""
	}
	return t.Focus
}
