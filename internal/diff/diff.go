// Package diff detects restock transitions between successive snapshots.
package diff

import (
	"time"

	"github.com/WilardzySenpai/grow-garden-guru-sub001/market"
)

// Restocks compares next against prev for one category and returns a
// restock event for every watched item whose quantity transitioned from
// exactly zero to a positive value.
//
// Rules:
//   - prev == nil (first observation ever) yields no events; without a
//     baseline there is no transition, and alerting on startup would flood.
//   - An item absent from prev counts as quantity 0.
//   - Any other increase (n -> n+k for n > 0) is a quantity change, not a
//     restock, and produces nothing. The rule is applied uniformly in the
//     polling and the push path.
//   - Output preserves the item order of next.
func Restocks(prev *market.Snapshot, next market.Snapshot, watched *market.WatchSet, now time.Time) []market.RestockEvent {
	if prev == nil || watched.Len() == 0 {
		return nil
	}
	if now.IsZero() {
		now = time.Now()
	}

	var events []market.RestockEvent
	for _, it := range next.Items {
		if !watched.Contains(it.ItemID) {
			continue
		}
		if it.Quantity <= 0 {
			continue
		}
		if prev.Quantity(it.ItemID) != 0 {
			continue
		}
		events = append(events, market.RestockEvent{
			ItemID:      it.ItemID,
			DisplayName: it.DisplayName,
			Category:    next.Category,
			Quantity:    it.Quantity,
			IsRestock:   true,
			DetectedAt:  now,
		})
	}
	return events
}
