// Package statusmirror maintains a durable, externally observable copy of
// the realtime channel's connection state. Processes that do not own the
// socket read connectivity from the mirror instead of opening their own
// connection.
package statusmirror

import (
	"context"

	"github.com/WilardzySenpai/grow-garden-guru-sub001/market"
)

// Mirror publishes connection-state changes and lets observers subscribe.
//
// Contract: a subscriber receives the current value before any subsequent
// change; there is no missed-initial-state window.
type Mirror interface {
	Publish(ctx context.Context, state market.ConnState) error
	Current(ctx context.Context) (market.ConnState, error)
	Subscribe(ctx context.Context, buffer int) (states <-chan market.ConnState, unsubscribe func(), err error)
	Close() error
}
