package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLite is a durable Store backed by an embedded SQLite database.
//
// Documents are stored as JSON text in a single table, keyed by name.
// The database is opened with WAL mode so readers are not blocked during
// writes. Change notifications fan out to in-process subscribers only;
// cross-process clients subscribe through the document server instead.
type SQLite struct {
	conn *sql.DB
	path string

	mu     sync.Mutex
	subs   map[string]map[int]func(Snapshot)
	nextID int
}

// OpenSQLite opens (creating if needed) a document database at path.
//
// The caller MUST call Close() when done to checkpoint the WAL and
// release the connection.
//
// Example:
//
//	store, err := docstore.OpenSQLite(filepath.Join(dataDir, "grind.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func OpenSQLite(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLite{
		conn: conn,
		path: path,
		subs: make(map[string]map[int]func(Snapshot)),
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates the documents table. Idempotent.
func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		name       TEXT PRIMARY KEY,
		body       TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Get implements Store.Get.
func (s *SQLite) Get(ctx context.Context, name string) (Document, bool, error) {
	var body string
	err := s.conn.QueryRowContext(ctx,
		"SELECT body FROM documents WHERE name = ?", name).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to read document %s: %v", ErrUnavailable, name, err)
	}

	var doc Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, false, fmt.Errorf("failed to decode document %s: %w", name, err)
	}
	return doc, true, nil
}

// Set implements Store.Set.
func (s *SQLite) Set(ctx context.Context, name string, data Document, mergeDoc bool) error {
	err := s.mutate(ctx, name, func(doc Document) (Document, error) {
		if !mergeDoc {
			return Clone(data), nil
		}
		merge(doc, Clone(data))
		return doc, nil
	})
	if err != nil {
		return err
	}
	s.notify(ctx, name)
	return nil
}

// UpdateFields implements Store.UpdateFields.
func (s *SQLite) UpdateFields(ctx context.Context, name string, updates []FieldUpdate) error {
	err := s.mutate(ctx, name, func(doc Document) (Document, error) {
		for _, u := range updates {
			if err := setPath(doc, u.Path, u.Value); err != nil {
				return nil, err
			}
		}
		return doc, nil
	})
	if err != nil {
		return err
	}
	s.notify(ctx, name)
	return nil
}

// DeleteField implements Store.DeleteField.
func (s *SQLite) DeleteField(ctx context.Context, name string, path ...string) error {
	err := s.mutate(ctx, name, func(doc Document) (Document, error) {
		if err := deletePath(doc, path); err != nil {
			return nil, err
		}
		return doc, nil
	})
	if err != nil {
		return err
	}
	s.notify(ctx, name)
	return nil
}

// mutate runs a read-modify-write cycle on one document inside a
// transaction. The document is created empty if absent.
func (s *SQLite) mutate(ctx context.Context, name string, fn func(Document) (Document, error)) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	doc := Document{}
	var body string
	err = tx.QueryRowContext(ctx,
		"SELECT body FROM documents WHERE name = ?", name).Scan(&body)
	switch {
	case err == sql.ErrNoRows:
		// new document
	case err != nil:
		return fmt.Errorf("%w: failed to read document %s: %v", ErrUnavailable, name, err)
	default:
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return fmt.Errorf("failed to decode document %s: %w", name, err)
		}
	}

	doc, err = fn(doc)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", name, err)
	}

	query := `
	INSERT INTO documents (name, body, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		body = excluded.body,
		updated_at = excluded.updated_at
	`
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, query, name, string(raw), now); err != nil {
		return fmt.Errorf("%w: failed to write document %s: %v", ErrUnavailable, name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit document %s: %v", ErrUnavailable, name, err)
	}
	return nil
}

// Subscribe implements Store.Subscribe.
func (s *SQLite) Subscribe(name string, fn func(Snapshot)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs[name] == nil {
		s.subs[name] = make(map[int]func(Snapshot))
	}
	id := s.nextID
	s.nextID++
	s.subs[name][id] = fn

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[name], id)
	}
	return cancel, nil
}

// Close implements Store.Close. Performs a WAL checkpoint so all changes
// land in the main database file.
func (s *SQLite) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// notify reads back the document and delivers it to subscribers.
func (s *SQLite) notify(ctx context.Context, name string) {
	s.mu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs[name]))
	for _, fn := range s.subs[name] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	if len(fns) == 0 {
		return
	}

	snap := Snapshot{Doc: name}
	if doc, ok, err := s.Get(ctx, name); err == nil && ok {
		snap.Data = doc
		snap.Exists = true
	}
	for _, fn := range fns {
		fn(snap)
	}
}
