package market

import (
	"sort"
	"strings"
	"sync"
)

const seedSuffix = "_seed"

// WatchSet is a caller-scoped set of watched item identifiers.
//
// Identifiers are stored under a canonical form so that a base id and its
// seed-qualified variant are one watched identity: registering "carrot_seed"
// watches "carrot" too, and vice versa. The aliasing is deliberately limited
// to the "_seed" suffix; other categories have no documented alias rule.
//
// Safe for concurrent use: diffs read it while the embedder swaps it.
type WatchSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewWatchSet builds a WatchSet from raw identifiers.
func NewWatchSet(ids ...string) *WatchSet {
	w := &WatchSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		w.add(id)
	}
	return w
}

// CanonicalID maps an item identifier to its canonical watched form:
// lowercased, trimmed, with the "_seed" suffix stripped. Every component
// that keys state by item (the watch set, the alert deduper) must use the
// same form so "carrot" and "carrot_seed" are one identity everywhere.
func CanonicalID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.TrimSuffix(id, seedSuffix)
}

func (w *WatchSet) add(id string) {
	c := CanonicalID(id)
	if c == "" {
		return
	}
	w.ids[c] = struct{}{}
}

// Add registers an identifier (and, implicitly, its alias).
func (w *WatchSet) Add(id string) {
	w.mu.Lock()
	w.add(id)
	w.mu.Unlock()
}

// Remove drops an identifier and its alias.
func (w *WatchSet) Remove(id string) {
	w.mu.Lock()
	delete(w.ids, CanonicalID(id))
	w.mu.Unlock()
}

// Replace swaps the whole set. Used by hot reload.
func (w *WatchSet) Replace(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if c := CanonicalID(id); c != "" {
			next[c] = struct{}{}
		}
	}
	w.mu.Lock()
	w.ids = next
	w.mu.Unlock()
}

// Contains reports whether id (or its alias) is watched.
func (w *WatchSet) Contains(id string) bool {
	if w == nil {
		return false
	}
	w.mu.RLock()
	_, ok := w.ids[CanonicalID(id)]
	w.mu.RUnlock()
	return ok
}

// Len returns the number of watched identities.
func (w *WatchSet) Len() int {
	if w == nil {
		return 0
	}
	w.mu.RLock()
	n := len(w.ids)
	w.mu.RUnlock()
	return n
}

// IDs returns the canonical identifiers, sorted, for diagnostics.
func (w *WatchSet) IDs() []string {
	if w == nil {
		return nil
	}
	w.mu.RLock()
	out := make([]string, 0, len(w.ids))
	for id := range w.ids {
		out = append(out, id)
	}
	w.mu.RUnlock()
	sort.Strings(out)
	return out
}
