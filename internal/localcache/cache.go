// Package localcache provides the durable key-value fallback cache.
//
// The cache mirrors the engine's state so the tracker keeps working when
// the document store is unreachable at startup. It is a single JSON file
// holding string keys with arbitrary JSON values; writes replace the
// whole file atomically via a temp-file rename.
package localcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Cache is a file-backed key-value store.
type Cache struct {
	path string
	mu   sync.Mutex
}

// New creates a cache at path. The file is created lazily on first Set.
func New(path string) *Cache {
	return &Cache{path: path}
}

// Path returns the cache file location.
func (c *Cache) Path() string {
	return c.path
}

// Get reads the value stored under key into v. The boolean reports
// whether the key was present; a missing cache file is not an error.
func (c *Cache) Get(key string, v any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.load()
	if err != nil {
		return false, err
	}
	raw, ok := entries[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode cache key %s: %w", key, err)
	}
	return true, nil
}

// Set stores v under key, rewriting the cache file.
func (c *Cache) Set(key string, v any) error {
	return c.SetAll(map[string]any{key: v})
}

// SetAll stores several keys in one file rewrite. Keys not mentioned
// keep their prior values.
func (c *Cache) SetAll(values map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.load()
	if err != nil {
		return err
	}
	for key, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode cache key %s: %w", key, err)
		}
		entries[key] = raw
	}
	return c.save(entries)
}

// load reads the cache file. A missing file yields an empty map.
func (c *Cache) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	entries := map[string]json.RawMessage{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse cache file: %w", err)
	}
	return entries, nil
}

// save writes the cache file atomically.
func (c *Cache) save(entries map[string]json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}
