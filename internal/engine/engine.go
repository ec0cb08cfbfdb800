package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/grindlog/grind/internal/docstore"
	"github.com/grindlog/grind/internal/localcache"
	"github.com/grindlog/grind/internal/topic"
)

var (
	// ErrEmptyName rejects a manual record without a problem name.
	ErrEmptyName = errors.New("record name must not be empty")

	// ErrNotFound reports an operation on a missing solved record.
	ErrNotFound = errors.New("record not found")
)

// Field names an editable text field of a record.
type Field string

const (
	FieldName  Field = "name"
	FieldLink  Field = "link"
	FieldNotes Field = "notes"
)

// ParseField converts user input into a Field.
func ParseField(s string) (Field, error) {
	switch f := Field(strings.ToLower(s)); f {
	case FieldName, FieldLink, FieldNotes:
		return f, nil
	}
	return "", fmt.Errorf("unknown field %q (expected name, link, or notes)", s)
}

// Flag names a toggleable boolean marker of a record.
type Flag string

const (
	FlagNeedsReview Flag = "needsReview"
	FlagTricky      Flag = "isTricky"
)

// ParseFlag converts user input into a Flag.
func ParseFlag(s string) (Flag, error) {
	switch strings.ToLower(s) {
	case "review", "needsreview":
		return FlagNeedsReview, nil
	case "tricky", "istricky":
		return FlagTricky, nil
	}
	return "", fmt.Errorf("unknown flag %q (expected review or tricky)", s)
}

// Config configures an Engine.
type Config struct {
	// Store is the document store backing persistence. Nil runs the
	// engine from the local cache alone.
	Store docstore.Store

	// Cache is the local JSON-file cache. Optional when a store is
	// configured; required otherwise.
	Cache *localcache.Cache

	// Catalog is the topic rotation. Defaults to topic.Default().
	Catalog topic.Catalog

	// DebounceWindow overrides the write coalescing window.
	DebounceWindow time.Duration

	// Logger receives warnings. Defaults to log.Default().
	Logger *log.Logger
}

// Engine owns the authoritative in-memory record sets and mediates all
// mutation and persistence. Callers hold only the snapshots returned by
// its read accessors.
type Engine struct {
	store   docstore.Store
	cache   *localcache.Cache
	catalog topic.Catalog
	logger  *log.Logger
	co      *coalescer
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	currentDay    int
	daily         map[string]DailyRecord
	solved        map[string]SolvedRecord
	expectingEcho bool
	fallback      bool

	unsubDaily  func()
	unsubSolved func()
	watcher     *localcache.Watcher
}

// New creates an engine. Start must be called before any operation.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil && cfg.Cache == nil {
		return nil, fmt.Errorf("engine requires a document store or a local cache")
	}
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = topic.Default()
	}
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topic catalog: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Engine{
		store:      cfg.Store,
		cache:      cfg.Cache,
		catalog:    catalog,
		logger:     logger,
		co:         newCoalescer(cfg.DebounceWindow),
		now:        time.Now,
		currentDay: 1,
		daily:      map[string]DailyRecord{},
		solved:     map[string]SolvedRecord{},
	}, nil
}

// Start runs the schema migration, loads initial state, and establishes
// live subscriptions. When the store cannot serve the initial load and a
// cache is configured, the engine degrades to cache-only operation; with
// no cache the error is returned and the engine is unusable.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(context.Background())

	if e.store == nil {
		return e.startFallback()
	}

	if err := NewMigrator(e.store, e.logger).Run(ctx); err != nil {
		// Existence-gated steps make a partial run safe to retry.
		e.logger.Printf("WARNING: schema migration incomplete: %v", err)
	}

	if err := e.loadFromStore(ctx); err != nil {
		if e.cache == nil {
			return fmt.Errorf("failed to load initial state: %w", err)
		}
		e.logger.Printf("WARNING: store unavailable, running from local cache: %v", err)
		return e.startFallback()
	}

	unsubDaily, err := e.store.Subscribe(DocDaily, e.handleDailySnapshot)
	if err != nil {
		return fmt.Errorf("failed to subscribe to daily document: %w", err)
	}
	e.unsubDaily = unsubDaily

	unsubSolved, err := e.store.Subscribe(DocSolved, e.handleSolvedSnapshot)
	if err != nil {
		unsubDaily()
		return fmt.Errorf("failed to subscribe to solved document: %w", err)
	}
	e.unsubSolved = unsubSolved
	return nil
}

// Flush issues every pending debounced write immediately. Called before
// process exit so a short-lived invocation does not lose its last edit.
func (e *Engine) Flush() {
	e.co.flush()
}

// Close flushes pending writes and releases the engine's resources. The
// underlying store is not closed; the caller owns it.
func (e *Engine) Close() error {
	e.co.flush()
	e.co.stop()
	if e.unsubDaily != nil {
		e.unsubDaily()
	}
	if e.unsubSolved != nil {
		e.unsubSolved()
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.watcher != nil {
		if err := e.watcher.Stop(); err != nil {
			e.logger.Printf("WARNING: failed to stop cache watcher: %v", err)
		}
	}
	e.wg.Wait()
	return nil
}

// Fallback reports whether the engine is running cache-only.
func (e *Engine) Fallback() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fallback
}

// Catalog returns the topic rotation the engine was configured with.
func (e *Engine) Catalog() topic.Catalog {
	return e.catalog
}

// loadFromStore reads both documents and replaces in-memory state.
func (e *Engine) loadFromStore(ctx context.Context) error {
	dailyDoc, _, err := e.store.Get(ctx, DocDaily)
	if err != nil {
		return fmt.Errorf("failed to read daily document: %w", err)
	}
	solvedDoc, _, err := e.store.Get(ctx, DocSolved)
	if err != nil {
		return fmt.Errorf("failed to read solved document: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyDailyLocked(dailyDoc)
	e.applySolvedLocked(solvedDoc)
	e.writeCacheLocked()
	return nil
}

// startFallback loads state from the cache file and watches it for
// rewrites by other processes.
func (e *Engine) startFallback() error {
	e.mu.Lock()
	e.fallback = true
	if err := e.loadCacheLocked(); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to load local cache: %w", err)
	}
	e.mu.Unlock()

	watcher, err := localcache.NewWatcher(e.cache.Path(), 0)
	if err != nil {
		e.logger.Printf("WARNING: cache watcher unavailable: %v", err)
		return nil
	}
	if err := watcher.Start(); err != nil {
		e.logger.Printf("WARNING: failed to start cache watcher: %v", err)
		return nil
	}
	e.watcher = watcher
	e.wg.Add(1)
	go e.watchCache()
	return nil
}

// watchCache folds external cache rewrites back into memory. The echo
// flag suppresses the notification produced by the engine's own writes.
func (e *Engine) watchCache() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case _, ok := <-e.watcher.Events():
			if !ok {
				return
			}
			e.mu.Lock()
			if e.expectingEcho {
				e.expectingEcho = false
				e.mu.Unlock()
				continue
			}
			if err := e.loadCacheLocked(); err != nil {
				e.logger.Printf("WARNING: failed to reload local cache: %v", err)
			}
			e.mu.Unlock()
		case err, ok := <-e.watcher.Errors():
			if ok && err != nil {
				e.logger.Printf("WARNING: cache watcher: %v", err)
			}
		}
	}
}

func (e *Engine) loadCacheLocked() error {
	var day int
	found, err := e.cache.Get(cacheKeyCurrentDay, &day)
	if err != nil {
		return err
	}
	if !found || day < 1 {
		day = 1
	}

	daily := map[string]DailyRecord{}
	if _, err := e.cache.Get(cacheKeyDailyProblems, &daily); err != nil {
		return err
	}
	solved := map[string]SolvedRecord{}
	if _, err := e.cache.Get(cacheKeyProblemData, &solved); err != nil {
		return err
	}

	e.currentDay = day
	e.daily = daily
	e.solved = solved
	return nil
}

// handleDailySnapshot applies a remote daily-document change.
func (e *Engine) handleDailySnapshot(snap docstore.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.expectingEcho {
		e.expectingEcho = false
		return
	}
	if !snap.Exists {
		return
	}
	e.applyDailyLocked(snap.Data)
	e.writeCacheLocked()
}

// handleSolvedSnapshot applies a remote solved-document change.
func (e *Engine) handleSolvedSnapshot(snap docstore.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.expectingEcho {
		e.expectingEcho = false
		return
	}
	if !snap.Exists {
		return
	}
	e.applySolvedLocked(snap.Data)
	e.writeCacheLocked()
}

func (e *Engine) applyDailyLocked(doc docstore.Document) {
	e.currentDay = intField(doc, "currentDay", 1)
	e.daily = decodeDaily(doc["dailyProblems"], e.logger)
}

func (e *Engine) applySolvedLocked(doc docstore.Document) {
	e.solved = decodeSolved(RepairSolved(doc), e.logger)
}

// writeCacheLocked mirrors current state into the cache file. In
// fallback mode the resulting file event is the engine's own echo.
func (e *Engine) writeCacheLocked() {
	if e.cache == nil {
		return
	}
	if e.fallback && e.watcher != nil {
		e.expectingEcho = true
	}
	err := e.cache.SetAll(map[string]any{
		cacheKeyCurrentDay:    e.currentDay,
		cacheKeyDailyProblems: e.daily,
		cacheKeyProblemData:   e.solved,
	})
	if err != nil {
		e.logger.Printf("WARNING: failed to write local cache: %v", err)
	}
}

// enqueue routes a store write through the coalescer with the echo flag
// raised around it. Write failures are logged, never propagated; the
// optimistic in-memory state stands either way.
func (e *Engine) enqueue(doc string, debounce bool, op func(context.Context) error) {
	e.co.schedule(doc, func() {
		e.setEcho(true)
		err := op(e.ctx)
		e.setEcho(false)
		if err != nil {
			e.logger.Printf("WARNING: %s document write failed: %v", doc, err)
		}
	}, debounce)
}

func (e *Engine) setEcho(v bool) {
	e.mu.Lock()
	e.expectingEcho = v
	e.mu.Unlock()
}

// writeDaily merge-writes the whole daily document from current state.
func (e *Engine) writeDaily(debounce bool) {
	e.mu.Lock()
	if e.fallback {
		e.mu.Unlock()
		return
	}
	payload := e.dailyPayloadLocked()
	e.mu.Unlock()
	e.enqueue(DocDaily, debounce, func(ctx context.Context) error {
		return e.store.Set(ctx, DocDaily, payload, true)
	})
}

// writeSolved merge-writes the whole solved document from current state.
func (e *Engine) writeSolved(debounce bool) {
	e.mu.Lock()
	if e.fallback {
		e.mu.Unlock()
		return
	}
	payload := e.solvedPayloadLocked()
	e.mu.Unlock()
	e.enqueue(DocSolved, debounce, func(ctx context.Context) error {
		return e.store.Set(ctx, DocSolved, payload, true)
	})
}

func (e *Engine) dailyPayloadLocked() docstore.Document {
	problems, err := docstore.Encode(e.daily)
	if err != nil {
		e.logger.Printf("WARNING: failed to encode daily records: %v", err)
		problems = docstore.Document{}
	}
	return docstore.Document{
		"currentDay":    e.currentDay,
		"dailyProblems": map[string]any(problems),
		"lastUpdated":   isoTime(e.now()),
	}
}

func (e *Engine) solvedPayloadLocked() docstore.Document {
	records, err := docstore.Encode(e.solved)
	if err != nil {
		e.logger.Printf("WARNING: failed to encode solved records: %v", err)
		records = docstore.Document{}
	}
	return docstore.Document{
		"problemData": map[string]any(records),
		"lastUpdated": isoTime(e.now()),
	}
}

func (e *Engine) checkSlot(day, slot int) error {
	if !e.catalog.ValidDay(day) {
		return fmt.Errorf("invalid day %d: catalog has days 1 to %d", day, e.catalog.Days())
	}
	if slot < 1 || slot > topic.SlotsPerDay {
		return fmt.Errorf("invalid slot %d: must be 1 to %d", slot, topic.SlotsPerDay)
	}
	return nil
}

// ToggleDailyCompletion flips the completed bit of one slot. It never
// touches the solved set; MarkSolvedAndPersist is the operation that
// records history.
func (e *Engine) ToggleDailyCompletion(day, slot int) error {
	if err := e.checkSlot(day, slot); err != nil {
		return err
	}
	e.mu.Lock()
	key := DailyKey(day, slot)
	rec, ok := e.daily[key]
	if !ok {
		rec = DailyRecord{Day: day, ProblemNum: slot}
	}
	rec.Completed = !rec.Completed
	e.daily[key] = rec
	e.writeCacheLocked()
	e.mu.Unlock()

	e.writeDaily(false)
	return nil
}

// MarkSolvedAndPersist marks a slot completed and records a permanent
// solved entry snapshotting the slot's current name, link, notes, and
// flags. Returns the new record's id.
func (e *Engine) MarkSolvedAndPersist(day, slot int) (string, error) {
	if err := e.checkSlot(day, slot); err != nil {
		return "", err
	}
	e.mu.Lock()
	key := DailyKey(day, slot)
	rec, ok := e.daily[key]
	if !ok {
		rec = DailyRecord{Day: day, ProblemNum: slot}
	}
	rec.Completed = true
	e.daily[key] = rec

	now := e.now()
	id := SolvedID(now, day, slot)
	e.solved[id] = SolvedRecord{
		Name:          rec.Name,
		Link:          rec.Link,
		Notes:         rec.Notes,
		CompletedDate: isoTime(now),
		Day:           day,
		ProblemNum:    slot,
		NeedsReview:   rec.NeedsReview,
		IsTricky:      rec.IsTricky,
	}
	e.writeCacheLocked()
	e.mu.Unlock()

	e.writeDaily(false)
	e.writeSolved(false)
	return id, nil
}

// UpdateDailyField edits one text field of a slot. The write is
// debounced so keystroke-grained edits coalesce.
func (e *Engine) UpdateDailyField(day, slot int, field Field, value string) error {
	if err := e.checkSlot(day, slot); err != nil {
		return err
	}
	e.mu.Lock()
	key := DailyKey(day, slot)
	rec, ok := e.daily[key]
	if !ok {
		rec = DailyRecord{Day: day, ProblemNum: slot}
	}
	switch field {
	case FieldName:
		rec.Name = value
	case FieldLink:
		rec.Link = value
	case FieldNotes:
		rec.Notes = value
	default:
		e.mu.Unlock()
		return fmt.Errorf("unknown field %q", field)
	}
	e.daily[key] = rec
	e.writeCacheLocked()
	e.mu.Unlock()

	e.writeDaily(true)
	return nil
}

// UpdateSolvedField edits one text field of a solved record. Debounced.
func (e *Engine) UpdateSolvedField(id string, field Field, value string) error {
	e.mu.Lock()
	rec, ok := e.solved[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("solved record %s: %w", id, ErrNotFound)
	}
	switch field {
	case FieldName:
		rec.Name = value
	case FieldLink:
		rec.Link = value
	case FieldNotes:
		rec.Notes = value
	default:
		e.mu.Unlock()
		return fmt.Errorf("unknown field %q", field)
	}
	e.solved[id] = rec
	e.writeCacheLocked()
	e.mu.Unlock()

	e.writeSolved(true)
	return nil
}

// ToggleDailyFlag flips a boolean marker on a slot. Immediate write.
func (e *Engine) ToggleDailyFlag(day, slot int, flag Flag) error {
	if err := e.checkSlot(day, slot); err != nil {
		return err
	}
	e.mu.Lock()
	key := DailyKey(day, slot)
	rec, ok := e.daily[key]
	if !ok {
		rec = DailyRecord{Day: day, ProblemNum: slot}
	}
	switch flag {
	case FlagNeedsReview:
		rec.NeedsReview = !rec.NeedsReview
	case FlagTricky:
		rec.IsTricky = !rec.IsTricky
	default:
		e.mu.Unlock()
		return fmt.Errorf("unknown flag %q", flag)
	}
	e.daily[key] = rec
	e.writeCacheLocked()
	e.mu.Unlock()

	e.writeDaily(false)
	return nil
}

// ToggleSolvedFlag flips a boolean marker on a solved record. Immediate.
func (e *Engine) ToggleSolvedFlag(id string, flag Flag) error {
	e.mu.Lock()
	rec, ok := e.solved[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("solved record %s: %w", id, ErrNotFound)
	}
	switch flag {
	case FlagNeedsReview:
		rec.NeedsReview = !rec.NeedsReview
	case FlagTricky:
		rec.IsTricky = !rec.IsTricky
	default:
		e.mu.Unlock()
		return fmt.Errorf("unknown flag %q", flag)
	}
	e.solved[id] = rec
	e.writeCacheLocked()
	e.mu.Unlock()

	e.writeSolved(false)
	return nil
}

// MarkReviewedToday stamps a solved record as reviewed now and clears
// its review flag. The store write updates exactly those two fields, by
// segment path, in one atomic call.
func (e *Engine) MarkReviewedToday(id string) error {
	e.mu.Lock()
	rec, ok := e.solved[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("solved record %s: %w", id, ErrNotFound)
	}
	stamp := isoTime(e.now())
	rec.LastReviewedDate = stamp
	rec.NeedsReview = false
	e.solved[id] = rec
	e.writeCacheLocked()
	fallback := e.fallback
	e.mu.Unlock()

	if fallback {
		return nil
	}
	updates := []docstore.FieldUpdate{
		{Path: []string{"problemData", id, "lastReviewedDate"}, Value: stamp},
		{Path: []string{"problemData", id, "needsReview"}, Value: false},
	}
	e.enqueue(DocSolved, false, func(ctx context.Context) error {
		return e.store.UpdateFields(ctx, DocSolved, updates)
	})
	return nil
}

// DeleteSolvedRecord removes a history entry. The store write is a
// field delete, not a value overwrite, so no tombstone lingers.
func (e *Engine) DeleteSolvedRecord(id string) error {
	e.mu.Lock()
	if _, ok := e.solved[id]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("solved record %s: %w", id, ErrNotFound)
	}
	delete(e.solved, id)
	e.writeCacheLocked()
	fallback := e.fallback
	e.mu.Unlock()

	if fallback {
		return nil
	}
	e.enqueue(DocSolved, false, func(ctx context.Context) error {
		return e.store.DeleteField(ctx, DocSolved, "problemData", id)
	})
	return nil
}

// ResetCycle wipes the daily set and returns to day 1. Solved history
// is untouched.
func (e *Engine) ResetCycle() error {
	e.mu.Lock()
	e.daily = map[string]DailyRecord{}
	e.currentDay = 1
	e.writeCacheLocked()
	e.mu.Unlock()

	e.writeDaily(false)
	return nil
}

// AddManualRecord logs a problem solved outside the daily rotation. The
// record carries the current day but no slot number. Returns the new
// record's id; an empty name is rejected before any state change.
func (e *Engine) AddManualRecord(name, link, notes string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrEmptyName
	}
	e.mu.Lock()
	now := e.now()
	id := ManualID(now)
	e.solved[id] = SolvedRecord{
		Name:          name,
		Link:          link,
		Notes:         notes,
		CompletedDate: isoTime(now),
		Day:           e.currentDay,
	}
	e.writeCacheLocked()
	e.mu.Unlock()

	e.writeSolved(false)
	return id, nil
}

// SetCurrentDay moves the rotation pointer. Immediate write.
func (e *Engine) SetCurrentDay(day int) error {
	if !e.catalog.ValidDay(day) {
		return fmt.Errorf("invalid day %d: catalog has days 1 to %d", day, e.catalog.Days())
	}
	e.mu.Lock()
	e.currentDay = day
	e.writeCacheLocked()
	e.mu.Unlock()

	e.writeDaily(false)
	return nil
}

// ClearDailySlot wipes one slot back to empty-but-present.
func (e *Engine) ClearDailySlot(day, slot int) error {
	if err := e.checkSlot(day, slot); err != nil {
		return err
	}
	e.mu.Lock()
	e.daily[DailyKey(day, slot)] = DailyRecord{Day: day, ProblemNum: slot}
	e.writeCacheLocked()
	e.mu.Unlock()

	e.writeDaily(false)
	return nil
}

// intField reads a numeric document field, tolerating the float64 that
// JSON decoding produces.
func intField(doc docstore.Document, key string, def int) int {
	switch v := doc[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
