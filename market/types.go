// Package market defines the typed model for in-game shop stock:
// categories, snapshots, restock events and the per-caller watch set.
//
// Untyped upstream payloads are coerced into these types at the fetch and
// push boundaries; nothing outside this package deals with loose JSON shapes.
package market

import "time"

// Category identifies one independently tracked inventory type.
type Category string

const (
	CategorySeed     Category = "seed"
	CategoryGear     Category = "gear"
	CategoryEgg      Category = "egg"
	CategoryCosmetic Category = "cosmetic"
	CategoryEvent    Category = "event-shop"
	CategoryMerchant Category = "traveling-merchant"
)

// Schedule describes how a category's refresh cadence is derived.
//
// If AlignToItemExpiry is set, the next fetch time comes from the earliest
// WindowEnd among the category's current items rather than a fixed tick.
type Schedule struct {
	FixedInterval     time.Duration
	AlignToItemExpiry bool
}

// DefaultSchedules mirrors the upstream refresh cadences.
// Seeds and gear rotate every 5 minutes, eggs every 30, cosmetics hourly;
// the event shop and the traveling merchant publish their own expiry windows.
func DefaultSchedules() map[Category]Schedule {
	return map[Category]Schedule{
		CategorySeed:     {FixedInterval: 5 * time.Minute},
		CategoryGear:     {FixedInterval: 5 * time.Minute},
		CategoryEgg:      {FixedInterval: 30 * time.Minute},
		CategoryCosmetic: {FixedInterval: time.Hour},
		CategoryEvent:    {AlignToItemExpiry: true},
		CategoryMerchant: {AlignToItemExpiry: true},
	}
}

// StockItem is one offering in a category snapshot.
// Quantity is the authoritative availability signal.
type StockItem struct {
	ItemID      string `json:"item_id"`
	DisplayName string `json:"display_name"`
	Quantity    int    `json:"quantity"`
	WindowStart int64  `json:"window_start_unix"`
	WindowEnd   int64  `json:"window_end_unix"`
}

// Snapshot is the full item list for one category at one point in time.
//
// Snapshots are immutable once built: the store replaces them wholesale and
// never mutates Items in place.
type Snapshot struct {
	Category  Category
	Items     []StockItem
	FetchedAt time.Time
}

// Quantity returns the quantity for id, or 0 if the item is absent.
func (s *Snapshot) Quantity(id string) int {
	if s == nil {
		return 0
	}
	for _, it := range s.Items {
		if it.ItemID == id {
			return it.Quantity
		}
	}
	return 0
}

// EarliestWindowEnd returns the minimum WindowEnd across items, or 0 when
// the snapshot holds no items with a window.
func (s *Snapshot) EarliestWindowEnd() int64 {
	if s == nil {
		return 0
	}
	var min int64
	for _, it := range s.Items {
		if it.WindowEnd == 0 {
			continue
		}
		if min == 0 || it.WindowEnd < min {
			min = it.WindowEnd
		}
	}
	return min
}

// RestockEvent reports a watched item transitioning from depleted to
// available. IsRestock is true only for a 0 -> positive quantity transition.
type RestockEvent struct {
	ItemID      string    `json:"item_id"`
	DisplayName string    `json:"display_name"`
	Category    Category  `json:"category,omitempty"`
	Quantity    int       `json:"quantity"`
	IsRestock   bool      `json:"is_restock"`
	DetectedAt  time.Time `json:"detected_at"`
}

// ConnState is the realtime channel connectivity state.
// Transitions run connecting -> connected -> disconnected -> connecting ...
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
)
