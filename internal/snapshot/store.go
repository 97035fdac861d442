// Package snapshot holds the last-known stock snapshot per category.
package snapshot

import (
	"sync"

	"github.com/WilardzySenpai/grow-garden-guru-sub001/market"
)

// Store keeps exactly one live snapshot per category.
//
// Snapshots are replaced atomically and never mutated in place; a failed
// fetch simply never calls Replace, leaving the prior snapshot intact.
// Safe for concurrent use, but the engine guarantees a single logical
// writer per category (fetch N+1 is not applied before fetch N).
type Store struct {
	mu    sync.RWMutex
	snaps map[market.Category]*market.Snapshot
}

func NewStore() *Store {
	return &Store{snaps: make(map[market.Category]*market.Snapshot)}
}

// Replace installs next as the live snapshot for its category and returns
// the previous one (nil on first observation).
func (s *Store) Replace(next market.Snapshot) *market.Snapshot {
	s.mu.Lock()
	prev := s.snaps[next.Category]
	s.snaps[next.Category] = &next
	s.mu.Unlock()
	return prev
}

// Get returns the live snapshot for cat, or nil if none was captured yet.
func (s *Store) Get(cat market.Category) *market.Snapshot {
	s.mu.RLock()
	snap := s.snaps[cat]
	s.mu.RUnlock()
	return snap
}

// Categories lists categories that currently hold a snapshot.
func (s *Store) Categories() []market.Category {
	s.mu.RLock()
	out := make([]market.Category, 0, len(s.snaps))
	for cat := range s.snaps {
		out = append(out, cat)
	}
	s.mu.RUnlock()
	return out
}
