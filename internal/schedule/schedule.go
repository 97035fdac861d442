// Package schedule decides when each category's next fetch runs and owns
// the per-category timers that drive it.
//
// Fixed-cadence categories align to the upstream refresh boundary: many
// independently started clients converge on the same refresh moment instead
// of drifting apart. Expiry-aligned categories derive the next fetch from
// the earliest item window end in the current snapshot.
package schedule

import (
	"sync"
	"time"

	"github.com/WilardzySenpai/grow-garden-guru-sub001/market"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/pkg/logx"
)

// Defaults for due-time computation.
const (
	// AlignBuffer trails the upstream refresh boundary so the fetch lands
	// after the shop has actually rotated.
	AlignBuffer = 3 * time.Second

	// ExpiryFallback is the cadence for expiry-aligned categories whose
	// snapshot holds no windowed items yet.
	ExpiryFallback = 5 * time.Minute
)

// NextFixed returns the delay until the next boundary-aligned trigger:
// interval - (now mod interval) + buffer.
//
// Once a trigger has landed on boundary+buffer, consecutive triggers are
// spaced by exactly interval.
func NextFixed(now time.Time, interval, buffer time.Duration) time.Duration {
	if interval <= 0 {
		return buffer
	}
	elapsed := time.Duration(now.UnixNano()) % interval
	return interval - elapsed + buffer
}

// NextExpiry returns the delay until the earliest WindowEnd in snap.
// If every window has already expired the fetch is due immediately (0).
// With no windowed items, the fallback cadence applies (boundary-aligned).
func NextExpiry(now time.Time, snap *market.Snapshot, fallback, buffer time.Duration) time.Duration {
	min := snap.EarliestWindowEnd()
	if min == 0 {
		if fallback <= 0 {
			fallback = ExpiryFallback
		}
		return NextFixed(now, fallback, buffer)
	}
	due := time.Unix(min, 0).Add(buffer)
	if !due.After(now) {
		return 0
	}
	return due.Sub(now)
}

// Next computes the delay until cat's next fetch under sched, given the
// current snapshot (nil when nothing was captured yet).
//
// A failed fetch does not change the computation: the next due time always
// follows the schedule rule, never a retry loop.
func Next(now time.Time, sched market.Schedule, snap *market.Snapshot) time.Duration {
	if sched.AlignToItemExpiry {
		return NextExpiry(now, snap, sched.FixedInterval, AlignBuffer)
	}
	return NextFixed(now, sched.FixedInterval, AlignBuffer)
}

// Scheduler owns one pending timer per category. Categories are fully
// independent: arming or cancelling one never affects another.
type Scheduler struct {
	log logx.Logger

	mu      sync.Mutex
	timers  map[market.Category]*time.Timer
	stopped bool
}

func NewScheduler(log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{log: log, timers: make(map[market.Category]*time.Timer)}
}

// Arm schedules fn to run after delay for cat, replacing any pending timer
// for the same category. fn runs on its own goroutine; the caller re-arms
// after applying the fetch result, which serializes fetches per category.
//
// Arm after Stop is a no-op, so an in-flight completion racing teardown
// cannot resurrect a timer.
func (s *Scheduler) Arm(cat market.Category, delay time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if t, ok := s.timers[cat]; ok {
		t.Stop()
	}
	s.log.Trace("timer armed", logx.String("category", string(cat)), logx.Duration("delay", delay))
	s.timers[cat] = time.AfterFunc(delay, fn)
}

// Cancel drops cat's pending timer, if any.
func (s *Scheduler) Cancel(cat market.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[cat]; ok {
		t.Stop()
		delete(s.timers, cat)
	}
}

// Stop cancels every pending timer. The scheduler cannot be re-armed after
// Stop; teardown must not leave timers firing into a dead consumer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for cat, t := range s.timers {
		t.Stop()
		delete(s.timers, cat)
	}
}
