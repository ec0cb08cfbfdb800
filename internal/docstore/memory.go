package docstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store used by tests and as the working set of
// the document server. Notifications are delivered synchronously on the
// mutating goroutine, after the store's lock has been released, which
// keeps test assertions deterministic.
type Memory struct {
	mu     sync.Mutex
	docs   map[string]Document
	subs   map[string]map[int]func(Snapshot)
	nextID int
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]Document),
		subs: make(map[string]map[int]func(Snapshot)),
	}
}

// Get implements Store.Get.
func (m *Memory) Get(ctx context.Context, name string) (Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[name]
	if !ok {
		return nil, false, nil
	}
	return Clone(doc), true, nil
}

// Set implements Store.Set.
func (m *Memory) Set(ctx context.Context, name string, data Document, mergeDoc bool) error {
	m.mu.Lock()
	if mergeDoc {
		cur, ok := m.docs[name]
		if !ok {
			cur = Document{}
		}
		merge(cur, Clone(data))
		m.docs[name] = cur
	} else {
		m.docs[name] = Clone(data)
	}
	m.mu.Unlock()

	m.notify(name)
	return nil
}

// UpdateFields implements Store.UpdateFields.
func (m *Memory) UpdateFields(ctx context.Context, name string, updates []FieldUpdate) error {
	m.mu.Lock()
	doc, ok := m.docs[name]
	if !ok {
		doc = Document{}
		m.docs[name] = doc
	}
	for _, u := range updates {
		if err := setPath(doc, u.Path, u.Value); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	m.mu.Unlock()

	m.notify(name)
	return nil
}

// DeleteField implements Store.DeleteField.
func (m *Memory) DeleteField(ctx context.Context, name string, path ...string) error {
	m.mu.Lock()
	doc, ok := m.docs[name]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if err := deletePath(doc, path); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	m.notify(name)
	return nil
}

// Subscribe implements Store.Subscribe.
func (m *Memory) Subscribe(name string, fn func(Snapshot)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subs[name] == nil {
		m.subs[name] = make(map[int]func(Snapshot))
	}
	id := m.nextID
	m.nextID++
	m.subs[name][id] = fn

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[name], id)
	}
	return cancel, nil
}

// Close implements Store.Close.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]map[int]func(Snapshot))
	return nil
}

// notify delivers the current snapshot of name to all its subscribers.
// Callbacks run outside the store lock so they can re-enter Get.
func (m *Memory) notify(name string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	snap := Snapshot{Doc: name}
	if doc, ok := m.docs[name]; ok {
		snap.Data = Clone(doc)
		snap.Exists = true
	}
	fns := make([]func(Snapshot), 0, len(m.subs[name]))
	for _, fn := range m.subs[name] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
