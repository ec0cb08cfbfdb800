package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/grindlog/grind/internal/docstore"
)

// Migrator performs the one-time split of the legacy combined document
// into the current daily/solved pair. It runs at startup, before the
// live subscriptions are established.
//
// Every step is independently idempotent: step 1 only fires while the
// legacy document still exists, and steps 2-3 only initialize targets
// that are absent. A failed run is safe to retry on the next startup.
type Migrator struct {
	store  docstore.Store
	logger *log.Logger
	now    func() time.Time
}

// NewMigrator creates a migrator over the given store. If logger is
// nil, log.Default() is used.
func NewMigrator(store docstore.Store, logger *log.Logger) *Migrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Migrator{store: store, logger: logger, now: time.Now}
}

// Run executes the migration. Callers log the returned error and
// proceed; partial initialization is retried on the next startup.
func (m *Migrator) Run(ctx context.Context) error {
	// Step 1: split the legacy combined document. The source document
	// is left in place; it simply stops being read.
	legacy, found, err := m.store.Get(ctx, DocMain)
	if err != nil {
		return fmt.Errorf("failed to read legacy document: %w", err)
	}
	if found {
		m.logger.Printf("Migrating legacy %q document to split layout", DocMain)

		daily := docstore.Document{
			"currentDay":    legacyField(legacy, "currentDay", float64(1)),
			"dailyProblems": legacyField(legacy, "dailyProblems", map[string]any{}),
			"lastUpdated":   isoTime(m.now()),
		}
		if err := m.store.Set(ctx, DocDaily, daily, false); err != nil {
			return fmt.Errorf("failed to write daily document: %w", err)
		}

		solved := docstore.Document{
			"problemData": legacyField(legacy, "problemData", map[string]any{}),
			"lastUpdated": isoTime(m.now()),
		}
		if err := m.store.Set(ctx, DocSolved, solved, false); err != nil {
			return fmt.Errorf("failed to write solved document: %w", err)
		}

		m.logger.Println("Legacy document migrated")
	}

	// Step 2: make sure the daily document exists.
	if _, found, err := m.store.Get(ctx, DocDaily); err != nil {
		return fmt.Errorf("failed to read daily document: %w", err)
	} else if !found {
		init := docstore.Document{
			"currentDay":    1,
			"dailyProblems": map[string]any{},
			"lastUpdated":   isoTime(m.now()),
		}
		if err := m.store.Set(ctx, DocDaily, init, false); err != nil {
			return fmt.Errorf("failed to initialize daily document: %w", err)
		}
	}

	// Step 3: make sure the solved document exists.
	if _, found, err := m.store.Get(ctx, DocSolved); err != nil {
		return fmt.Errorf("failed to read solved document: %w", err)
	} else if !found {
		init := docstore.Document{
			"problemData": map[string]any{},
			"lastUpdated": isoTime(m.now()),
		}
		if err := m.store.Set(ctx, DocSolved, init, false); err != nil {
			return fmt.Errorf("failed to initialize solved document: %w", err)
		}
	}

	return nil
}

// legacyField reads one top-level field of the legacy document, falling
// back to def when the field is absent or null.
func legacyField(doc docstore.Document, key string, def any) any {
	if v, ok := doc[key]; ok && v != nil {
		return v
	}
	return def
}
