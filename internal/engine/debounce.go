package engine

import (
	"sync"
	"time"
)

// DefaultDebounceWindow is the quiet period for coalesced writes.
const DefaultDebounceWindow = time.Second

// pendingWrite is one scheduled-but-not-yet-issued write.
type pendingWrite struct {
	timer *time.Timer
	write func()
}

// coalescer batches writes per channel. The engine uses one channel per
// document, so a burst of edits to the same document collapses into a
// single store write carrying the payload of the last call.
//
// An immediate write runs on the caller's goroutine and clears any
// pending write on its own channel - the immediate payload supersedes
// it. Pending writes on other channels are untouched.
type coalescer struct {
	window time.Duration

	mu      sync.Mutex
	pending map[string]*pendingWrite
	stopped bool
}

func newCoalescer(window time.Duration) *coalescer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &coalescer{
		window:  window,
		pending: make(map[string]*pendingWrite),
	}
}

// schedule runs write immediately when debounce is false, or arms the
// channel's quiet-window timer when true. Only the write captured by
// the last call before the timer fires executes.
func (c *coalescer) schedule(channel string, write func(), debounce bool) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	if prev, ok := c.pending[channel]; ok {
		prev.timer.Stop()
		delete(c.pending, channel)
	}

	if !debounce {
		c.mu.Unlock()
		write()
		return
	}

	entry := &pendingWrite{write: write}
	entry.timer = time.AfterFunc(c.window, func() {
		c.mu.Lock()
		if c.pending[channel] != entry {
			// Superseded between firing and acquiring the lock.
			c.mu.Unlock()
			return
		}
		delete(c.pending, channel)
		c.mu.Unlock()
		write()
	})
	c.pending[channel] = entry
	c.mu.Unlock()
}

// flush issues every pending write now, on the caller's goroutine.
// Used at teardown so a short-lived process does not drop its last
// debounced edit.
func (c *coalescer) flush() {
	c.mu.Lock()
	writes := make([]func(), 0, len(c.pending))
	for channel, entry := range c.pending {
		entry.timer.Stop()
		writes = append(writes, entry.write)
		delete(c.pending, channel)
	}
	c.mu.Unlock()

	for _, write := range writes {
		write()
	}
}

// stop cancels all pending writes without issuing them.
func (c *coalescer) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for channel, entry := range c.pending {
		entry.timer.Stop()
		delete(c.pending, channel)
	}
}
