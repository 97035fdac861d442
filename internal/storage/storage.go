// Package storage is the engine's opaque persistence boundary: alert
// records upserted per caller identity, the caller's watch list, and
// cross-restart dedup keys.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "" or "none": storage disabled (Open returns nil, nil)
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/WilardzySenpai/grow-garden-guru-sub001/market"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AlertRecord is the persisted shape of an emitted alert, keyed by the
// caller identity plus item.
type AlertRecord struct {
	Identity    string
	ItemID      string
	DisplayName string
	Category    market.Category
	Quantity    int
	DetectedAt  time.Time
}

// Store is the minimal persistence API the engine consumes.
type Store interface {
	// UpsertAlert records an emitted alert; a later alert for the same
	// (identity, item) replaces the previous record.
	UpsertAlert(ctx context.Context, rec AlertRecord) error
	// ListWatch returns the watched item ids registered for identity.
	ListWatch(ctx context.Context, identity string) ([]string, error)
	// AddWatch registers an item for identity (idempotent).
	AddWatch(ctx context.Context, identity, itemID string) error
	// RemoveWatch drops an item from identity's watch list.
	RemoveWatch(ctx context.Context, identity, itemID string) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
