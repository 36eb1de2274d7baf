package refx

import (
	"log/slog"
	"sync"
)

// WatchFn observes a successful mutation. It runs synchronously on the
// mutating goroutine after the new value is visible. key is the
// registration key, subject is the atom, ref, or agent that changed.
type WatchFn func(key string, subject any, oldVal, newVal any)

// watchSet is the keyed watch registry shared by Atom, Ref, and Agent.
// Re-registering a key replaces the callback but keeps its original
// firing position.
type watchSet struct {
	mu   sync.RWMutex
	keys []string // registration order
	fns  map[string]WatchFn
}

func (w *watchSet) add(key string, fn WatchFn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fns == nil {
		w.fns = make(map[string]WatchFn)
	}
	if _, exists := w.fns[key]; !exists {
		w.keys = append(w.keys, key)
	}
	w.fns[key] = fn
}

func (w *watchSet) remove(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.fns[key]; !exists {
		return
	}
	delete(w.fns, key)
	for i, k := range w.keys {
		if k == key {
			w.keys = append(w.keys[:i], w.keys[i+1:]...)
			break
		}
	}
}

// notify fires every registered watch in registration order. A panic in
// one callback is recovered and reported; it never unwinds the mutation
// that triggered it and never blocks the remaining watches.
func (w *watchSet) notify(logger *slog.Logger, metrics *Metrics, subject any, oldVal, newVal any) {
	w.mu.RLock()
	if len(w.keys) == 0 {
		w.mu.RUnlock()
		return
	}
	type entry struct {
		key string
		fn  WatchFn
	}
	entries := make([]entry, 0, len(w.keys))
	for _, k := range w.keys {
		entries = append(entries, entry{key: k, fn: w.fns[k]})
	}
	w.mu.RUnlock()

	for _, e := range entries {
		func() {
			defer func() {
				if r := recover(); r != nil {
					metrics.incWatchPanics()
					logger.Error("watch panicked",
						"key", e.key,
						"panic", r)
				}
			}()
			e.fn(e.key, subject, oldVal, newVal)
		}()
	}
}
