// Package dedup absorbs redundant delivery of the same inbound event over
// several paths (direct delivery, carbons, protocol retries).
package dedup

import (
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultBucket is the width of the coarse time bucket in the dedup key.
	DefaultBucket = 2 * time.Second
	// DefaultHorizon is how long an accepted key stays registered.
	DefaultHorizon = 10 * time.Second
)

// Window is a time-boxed set of recently accepted (sender, body, bucket)
// keys. Two distinct messages with identical body from the same sender in
// one bucket are indistinguishable; the second is dropped.
type Window struct {
	bucket  time.Duration
	horizon time.Duration

	mu     sync.Mutex
	keys   map[string]*time.Timer
	closed bool
}

// Option configures a Window.
type Option func(*Window)

// WithBucket overrides the bucket width.
func WithBucket(d time.Duration) Option {
	return func(w *Window) {
		if d > 0 {
			w.bucket = d
		}
	}
}

// WithHorizon overrides the eviction horizon.
func WithHorizon(d time.Duration) Option {
	return func(w *Window) {
		if d > 0 {
			w.horizon = d
		}
	}
}

// New creates an empty window.
func New(opts ...Option) *Window {
	w := &Window{
		bucket:  DefaultBucket,
		horizon: DefaultHorizon,
		keys:    make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ShouldProcess reports whether the event is new, registering it when it is.
func (w *Window) ShouldProcess(sender, body string, eventTimeMs int64) bool {
	return w.admit(w.key(sender, body, eventTimeMs))
}

// ShouldProcessID is ShouldProcess for events that carry a stable protocol
// id. The key is (peer, id); body and time are ignored.
func (w *Window) ShouldProcessID(peer, id string) bool {
	return w.admit("id|" + peer + "|" + id)
}

func (w *Window) admit(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, seen := w.keys[key]; seen {
		return false
	}
	if w.closed {
		// No eviction after Close; accept without registering.
		return true
	}
	w.keys[key] = time.AfterFunc(w.horizon, func() { w.evict(key) })
	return true
}

// Len returns the number of registered keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.keys)
}

// Close stops all pending eviction timers and clears the window.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, t := range w.keys {
		t.Stop()
		delete(w.keys, key)
	}
	w.closed = true
}

func (w *Window) evict(key string) {
	w.mu.Lock()
	delete(w.keys, key)
	w.mu.Unlock()
}

func (w *Window) key(sender, body string, eventTimeMs int64) string {
	bucket := eventTimeMs / w.bucket.Milliseconds()
	return sender + "|" + body + "|" + strconv.FormatInt(bucket, 10)
}
