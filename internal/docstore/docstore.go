// Package docstore defines the document-store boundary used by the sync
// engine, plus three adapters: an in-memory store for tests, a durable
// SQLite-backed store, and a remote HTTP+WebSocket client.
//
// A store holds named JSON documents. Writers can merge or replace whole
// documents, update or delete individual fields by path, and subscribe to
// per-document change notifications. Notifications fan out to every
// subscriber, including the process that issued the write; callers that
// need to ignore their own writes must track that themselves.
//
// Field paths are passed as explicit segment slices, never as dot-joined
// strings. Record identifiers routinely contain literal dots (ISO
// timestamps with millisecond precision), and dot-joining them is exactly
// the historical client bug the engine's repair pass cleans up after.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnavailable indicates the store could not be reached or the
// operation failed at the storage layer. Callers treat it as transient.
var ErrUnavailable = errors.New("document store unavailable")

// Document is a decoded JSON document body.
type Document map[string]any

// FieldUpdate sets one field, addressed by path segments, to a value.
type FieldUpdate struct {
	Path  []string `json:"path"`
	Value any      `json:"value"`
}

// Snapshot is a point-in-time view of a document delivered to subscribers.
type Snapshot struct {
	Doc    string   `json:"doc"`
	Data   Document `json:"data,omitempty"`
	Exists bool     `json:"exists"`
}

// Store is the minimal document-store capability set the engine uses.
//
// Implementations must deliver a Snapshot to every subscriber of a
// document after each successful mutation of that document.
type Store interface {
	// Get reads a document. The second return value reports existence;
	// a missing document is not an error.
	Get(ctx context.Context, name string) (Document, bool, error)

	// Set writes a document. With merge=true, top-level keys in data
	// replace the corresponding keys of the stored document and other
	// keys are preserved. With merge=false the document is replaced
	// wholesale. Either form creates the document if absent.
	Set(ctx context.Context, name string, data Document, merge bool) error

	// UpdateFields applies all updates to the document atomically.
	// Intermediate maps along each path are created as needed.
	UpdateFields(ctx context.Context, name string, updates []FieldUpdate) error

	// DeleteField removes the field at path. Deleting a missing field
	// or a field of a missing document is a no-op.
	DeleteField(ctx context.Context, name string, path ...string) error

	// Subscribe registers fn for change notifications on the named
	// document and returns a cancel function. fn may be invoked from
	// another goroutine; it must not call back into the Store.
	Subscribe(name string, fn func(Snapshot)) (cancel func(), err error)

	// Close releases the store's resources and cancels subscriptions.
	Close() error
}

// Clone returns a deep copy of d via a JSON round trip.
func Clone(d Document) Document {
	if d == nil {
		return nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return Document{}
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return Document{}
	}
	return out
}

// Encode converts any JSON-marshalable value into a Document.
func Encode(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return d, nil
}

// setPath writes value at the given path inside doc, creating
// intermediate maps as needed. Non-map intermediates are overwritten.
func setPath(doc Document, path []string, value any) error {
	if len(path) == 0 {
		return fmt.Errorf("empty field path")
	}
	cur := map[string]any(doc)
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
	return nil
}

// deletePath removes the field at path from doc. Missing intermediates
// make the delete a no-op.
func deletePath(doc Document, path []string) error {
	if len(path) == 0 {
		return fmt.Errorf("empty field path")
	}
	cur := map[string]any(doc)
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	delete(cur, path[len(path)-1])
	return nil
}

// merge overlays the top-level keys of src onto dst.
func merge(dst, src Document) {
	for k, v := range src {
		dst[k] = v
	}
}
