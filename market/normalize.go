package market

import (
	"encoding/json"
	"strings"
	"time"
)

// NormalizeItems coerces a loose upstream payload value into a typed item
// list. The upstream API is dynamically shaped: a category key may be
// missing, null, or not an array at all. All of those degrade to an empty
// list, not an error; only individual records that cannot be read are
// skipped.
func NormalizeItems(raw json.RawMessage) []StockItem {
	if len(raw) == 0 {
		return nil
	}
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil
	}
	items := make([]StockItem, 0, len(rows))
	for _, row := range rows {
		it, ok := normalizeItem(row)
		if !ok {
			continue
		}
		items = append(items, it)
	}
	return items
}

// NormalizeSnapshot builds a Snapshot from a loose payload, stamping the
// capture time.
func NormalizeSnapshot(cat Category, raw json.RawMessage, fetchedAt time.Time) Snapshot {
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}
	return Snapshot{Category: cat, Items: NormalizeItems(raw), FetchedAt: fetchedAt}
}

func normalizeItem(row map[string]any) (StockItem, bool) {
	id := looseString(row, "item_id", "id", "name")
	if id == "" {
		return StockItem{}, false
	}
	display := looseString(row, "display_name", "title")
	if display == "" {
		display = id
	}
	return StockItem{
		ItemID:      id,
		DisplayName: display,
		Quantity:    clampNonNegative(looseInt(row, "quantity", "stock", "amount")),
		WindowStart: looseInt64(row, "window_start_unix", "start_date_unix"),
		WindowEnd:   looseInt64(row, "window_end_unix", "end_date_unix"),
	}, true
}

func looseString(row map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k].(string); ok {
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func looseInt(row map[string]any, keys ...string) int {
	return int(looseInt64(row, keys...))
}

func looseInt64(row map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := row[k].(type) {
		case float64:
			return int64(v)
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n
			}
		}
	}
	return 0
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
