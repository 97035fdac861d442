// Package dedupe suppresses repeated emission of the same restock
// transition within a cooldown window.
//
// Dual-mode deployments run a background poller and a foreground poller
// against the same categories; both are expected to observe the same
// transition, and it is this component's job (not the schedulers') to
// guarantee single delivery.
package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/WilardzySenpai/grow-garden-guru-sub001/market"
)

// DedupStore is the optional persistence hook for cross-restart
// suppression. It matches the storage package's dedup operations.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// Deduper tracks last-emitted times per item id.
//
// Correctness depends only on not re-emitting inside the window; eviction of
// stale entries is a memory concern handled by Sweep.
type Deduper struct {
	window time.Duration

	mu      sync.Mutex
	emitted map[string]time.Time

	store DedupStore // nil means in-memory only
}

// New creates a Deduper with the given cooldown window. A non-positive
// window disables suppression. store may be nil.
func New(window time.Duration, store DedupStore) *Deduper {
	return &Deduper{
		window:  window,
		emitted: make(map[string]time.Time),
		store:   store,
	}
}

// key uses the watch set's canonical form so the poll path (which may see
// "carrot_seed") and the push path (which may see "carrot") contend on one
// entry for the same transition.
func key(itemID string) string {
	return "restock|" + market.CanonicalID(itemID)
}

// Allow reports whether an alert for itemID may be emitted at now and, when
// it may, claims the emission in the same critical section. This is the
// entry point for the alert path: two observers of the same transition (the
// background and the foreground poller, or the poll and the push path)
// contend on one map entry, and exactly one of them wins.
//
// The persistent-store consult stays outside the lock; it only matters for
// the first emission after a restart, and by then the in-memory entry is
// already claimed, so a slow store cannot open a duplicate window.
func (d *Deduper) Allow(itemID string, now time.Time) bool {
	if d == nil || d.window <= 0 {
		return true
	}
	k := key(itemID)

	d.mu.Lock()
	if last, ok := d.emitted[k]; ok && now.Sub(last) < d.window {
		d.mu.Unlock()
		return false
	}
	d.emitted[k] = now
	d.mu.Unlock()

	if d.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
		until, found, err := d.store.GetDedup(ctx, k)
		cancel()
		if err == nil && found && now.Before(until) {
			// Persisted window still open; keep the claimed entry so later
			// observers are suppressed in memory too.
			return false
		}

		ctx, cancel = context.WithTimeout(context.Background(), 250*time.Millisecond)
		_ = d.store.PutDedup(ctx, k, now.Add(d.window))
		cancel()
	}
	return true
}

// ShouldEmit reports whether an alert for itemID may be emitted at now.
// Unlike Allow it does not claim the emission; pair it with Record, or use
// Allow when concurrent observers are possible.
func (d *Deduper) ShouldEmit(itemID string, now time.Time) bool {
	if d == nil || d.window <= 0 {
		return true
	}
	k := key(itemID)

	d.mu.Lock()
	last, ok := d.emitted[k]
	d.mu.Unlock()
	if ok && now.Sub(last) < d.window {
		return false
	}

	// Cross-restart check, best-effort and tightly bounded so a slow store
	// can never stall the alert path.
	if d.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
		until, found, err := d.store.GetDedup(ctx, k)
		cancel()
		if err == nil && found && now.Before(until) {
			d.mu.Lock()
			d.emitted[k] = until.Add(-d.window)
			d.mu.Unlock()
			return false
		}
	}
	return true
}

// Record marks itemID as emitted at now.
func (d *Deduper) Record(itemID string, now time.Time) {
	if d == nil || d.window <= 0 {
		return
	}
	k := key(itemID)

	d.mu.Lock()
	d.emitted[k] = now
	d.mu.Unlock()

	if d.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		_ = d.store.PutDedup(ctx, k, now.Add(d.window))
		cancel()
	}
}

// Sweep drops entries whose cooldown has fully elapsed. Called from the
// engine's housekeeping cron; returns the number of evicted entries.
func (d *Deduper) Sweep(now time.Time) int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	evicted := 0
	for k, last := range d.emitted {
		if now.Sub(last) >= d.window {
			delete(d.emitted, k)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked entries (diagnostics).
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.emitted)
}
