// Package watch implements the change-driven external-state watcher: a set
// of keyed watches is compared against freshly fetched records on every
// tick, alerts are emitted only when a record's fingerprint changes, and
// watches retire themselves when their record disappears or reaches a
// terminal state.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"git.home.luguber.info/inful/homehub/internal/logfields"
)

// FingerprintUnknown forces the next tick to treat whatever it finds as new
// information. Fresh and re-registered watches start here.
const FingerprintUnknown = ""

// Record is one current row from the external source.
type Record interface {
	// Key is the immutable identity a watch is registered under.
	Key() string
	// Fingerprint is the comparable projection of the record's mutable
	// fields; equality means "nothing worth alerting changed".
	Fingerprint() string
}

// Fetcher returns the current records for one source partition. An empty
// slice is valid and means no data is available right now.
type Fetcher func(ctx context.Context, partition string) ([]Record, error)

// ChangeFunc is invoked for each fingerprint change, with the previous
// fingerprint (possibly FingerprintUnknown) and the current record.
type ChangeFunc func(ctx context.Context, w Watch, previous string, current Record)

// Watch is one registered interest in an external record.
type Watch struct {
	Key         string `json:"key"`
	Partition   string `json:"partition"`
	Fingerprint string `json:"fingerprint"`
}

// Engine owns the watch set for a single bot. All methods are safe for
// concurrent use; commands and the background tick serialize on one mutex.
type Engine struct {
	name     string
	fetch    Fetcher
	terminal func(Record) bool
	onChange ChangeFunc

	mu      sync.Mutex
	watches map[string]*Watch
}

// NewEngine builds an engine. terminal may be nil when no terminal state
// exists for the source.
func NewEngine(name string, fetch Fetcher, terminal func(Record) bool, onChange ChangeFunc) *Engine {
	return &Engine{
		name:     name,
		fetch:    fetch,
		terminal: terminal,
		onChange: onChange,
		watches:  make(map[string]*Watch),
	}
}

// Add registers a watch, replacing any existing one under the same key. The
// fingerprint resets to unknown so a stale stored value cannot suppress or
// fabricate the next alert.
func (e *Engine) Add(key, partition string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watches[key] = &Watch{Key: key, Partition: partition, Fingerprint: FingerprintUnknown}
}

// Remove drops one watch; it reports whether the key existed.
func (e *Engine) Remove(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.watches[key]
	delete(e.watches, key)
	return ok
}

// Clear drops every watch and returns how many were removed.
func (e *Engine) Clear() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.watches)
	e.watches = make(map[string]*Watch)
	return n
}

// Keys returns the registered watch keys in sorted order.
func (e *Engine) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := make([]string, 0, len(e.watches))
	for k := range e.watches {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of active watches.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.watches)
}

// Tick fetches each referenced partition once, diffs every watch against
// the fetched records and retires finished watches. Removal is deferred to
// the end of the pass so the set is never mutated mid-iteration. A fetch
// failure for one partition leaves that partition's watches untouched; the
// tick only errors when every partition failed.
func (e *Engine) Tick(ctx context.Context) (changed int, removed []string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.watches) == 0 {
		return 0, nil, nil
	}

	partitions := make(map[string][]*Watch)
	for _, w := range e.watches {
		partitions[w.Partition] = append(partitions[w.Partition], w)
	}

	failed := 0
	for partition, group := range partitions {
		records, ferr := e.fetch(ctx, partition)
		if ferr != nil {
			failed++
			slog.Warn("Watch fetch failed, keeping partition watches",
				logfields.Loop(e.name),
				logfields.Partition(partition),
				logfields.Error(ferr))
			continue
		}

		byKey := make(map[string]Record, len(records))
		for _, rec := range records {
			byKey[rec.Key()] = rec
		}

		for _, w := range group {
			rec, found := byKey[w.Key]
			if !found {
				// Record left the board: retire silently.
				slog.Info("Auto-unwatching vanished record",
					logfields.Loop(e.name), logfields.WatchKey(w.Key))
				removed = append(removed, w.Key)
				continue
			}

			if fp := rec.Fingerprint(); fp != w.Fingerprint {
				previous := w.Fingerprint
				w.Fingerprint = fp
				changed++
				if e.onChange != nil {
					e.onChange(ctx, *w, previous, rec)
				}
			}

			if e.terminal != nil && e.terminal(rec) {
				slog.Info("Auto-unwatching terminal record",
					logfields.Loop(e.name), logfields.WatchKey(w.Key))
				removed = append(removed, w.Key)
			}
		}
	}

	for _, key := range removed {
		delete(e.watches, key)
	}

	if failed == len(partitions) {
		return changed, nil, fmt.Errorf("all %d partition fetches failed", failed)
	}
	return changed, removed, nil
}
