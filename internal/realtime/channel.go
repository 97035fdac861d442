// Package realtime maintains the persistent push connection to the upstream
// game-data service and models its connectivity as an explicit state
// machine: disconnected -> connecting -> connected -> disconnected -> ...
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/WilardzySenpai/grow-garden-guru-sub001/market"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/pkg/logx"
)

// ParseError marks a malformed push frame. The frame is dropped; the
// connection stays open.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("realtime: malformed frame: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// ErrClosed is returned by Connect after an intentional teardown.
var ErrClosed = errors.New("realtime: channel closed")

// Conn is the minimal websocket surface the channel needs; *websocket.Conn
// satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a push connection. Tests substitute a fake.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct{}

func (wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Callbacks route inbound traffic and state transitions. All callbacks are
// optional and must not block for long; they run on the channel's goroutines.
type Callbacks struct {
	// StateChanged fires on every transition of the state machine.
	StateChanged func(market.ConnState)
	// CategoryPush receives a pushed category payload, treated like a fetch
	// result by the owner.
	CategoryPush func(cat market.Category, items json.RawMessage)
	// AlertPush receives a server-pushed stock alert. The owner still runs
	// it through the deduper.
	AlertPush func(market.RestockEvent)
	// FrameDropped reports a ParseError for observability.
	FrameDropped func(error)
}

// Options configures a Channel.
type Options struct {
	URL string
	// Backoff is the fixed delay before the single reconnection attempt
	// after an unexpected close. Defaults to 5s.
	Backoff time.Duration
	// Dialer is swapped by tests; defaults to a gorilla/websocket dialer.
	Dialer Dialer
	Log    logx.Logger
}

// Channel owns one logical push connection. There is never more than one
// socket per Channel; reconnection is guarded by a single in-flight flag so
// a close and an error reported for the same failure schedule one attempt,
// not two.
type Channel struct {
	url     string
	backoff time.Duration
	dialer  Dialer
	log     logx.Logger
	cb      Callbacks

	mu           sync.Mutex
	state        market.ConnState
	conn         Conn
	gen          int // connection generation; stale readers detect replacement
	closed       bool
	reconnecting bool
	reconnectT   *time.Timer
}

func New(opts Options, cb Callbacks) *Channel {
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = wsDialer{}
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	return &Channel{
		url:     opts.URL,
		backoff: opts.Backoff,
		dialer:  opts.Dialer,
		log:     opts.Log,
		cb:      cb,
		state:   market.StateDisconnected,
	}
}

// State returns the current connection state.
func (c *Channel) State() market.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) setState(s market.ConnState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	if c.cb.StateChanged != nil {
		c.cb.StateChanged(s)
	}
}

// Connect runs the full connect sequence: state goes to connecting, the
// socket is dialed, and on success a reader goroutine is started and state
// becomes connected. A dial failure follows the same reconnect policy as an
// unexpected close.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	c.setState(market.StateConnecting)

	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		c.log.Warn("push connect failed", logx.Err(err))
		c.connectionBroken(ctx, err)
		return fmt.Errorf("realtime: dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.setState(market.StateConnected)
	c.log.Info("push channel connected")

	go c.readLoop(ctx, conn, gen)
	return nil
}

func (c *Channel) readLoop(ctx context.Context, conn Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stale := gen != c.gen
			c.mu.Unlock()
			if stale {
				return
			}
			c.connectionBroken(ctx, err)
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame parses one push frame. Frames are JSON objects whose keys are
// either category names (item arrays) or "stock_alert".
func (c *Channel) handleFrame(data []byte) {
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		c.dropFrame(&ParseError{Err: err})
		return
	}

	for key, raw := range frame {
		if key == "stock_alert" {
			ev, err := parseAlert(raw)
			if err != nil {
				c.dropFrame(&ParseError{Err: err})
				continue
			}
			if c.cb.AlertPush != nil {
				c.cb.AlertPush(ev)
			}
			continue
		}
		if cat, ok := knownCategory(key); ok && c.cb.CategoryPush != nil {
			c.cb.CategoryPush(cat, raw)
		}
		// Unknown keys are ignored; the upstream adds fields freely.
	}
}

func (c *Channel) dropFrame(err error) {
	c.log.Debug("push frame dropped", logx.Err(err))
	if c.cb.FrameDropped != nil {
		c.cb.FrameDropped(err)
	}
}

// connectionBroken applies the close policy for a failed or broken
// connection. Intentional teardown and definitive rejections (policy/auth
// close codes) do not reconnect; anything else schedules exactly one
// reconnection attempt after the fixed backoff.
func (c *Channel) connectionBroken(ctx context.Context, cause error) {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.closed {
		c.mu.Unlock()
		c.setState(market.StateDisconnected)
		return
	}
	if definitiveReject(cause) {
		c.mu.Unlock()
		c.log.Error("push channel rejected; not reconnecting", logx.Err(cause))
		c.setState(market.StateDisconnected)
		return
	}
	if c.reconnecting {
		// A close and an error reported for the same failure must not
		// schedule two attempts.
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.reconnectT = time.AfterFunc(c.backoff, func() {
		c.mu.Lock()
		c.reconnecting = false
		c.reconnectT = nil
		dead := c.closed
		c.mu.Unlock()
		if dead || ctx.Err() != nil {
			return
		}
		_ = c.Connect(ctx)
	})
	c.mu.Unlock()

	c.log.Warn("push channel lost; reconnecting",
		logx.Err(cause), logx.Duration("backoff", c.backoff))
	c.setState(market.StateDisconnected)
}

// Close tears the channel down intentionally. The close handler sees the
// flag and does not schedule a reconnect; a pending reconnect timer is
// cancelled.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	if c.reconnectT != nil {
		c.reconnectT.Stop()
		c.reconnectT = nil
	}
	c.reconnecting = false
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "teardown")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		_ = conn.Close()
	}
	c.setState(market.StateDisconnected)
	return nil
}

// definitiveReject reports close causes that must not trigger reconnection:
// policy violations and auth-style rejections.
func definitiveReject(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.ClosePolicyViolation, websocket.CloseUnsupportedData:
			return true
		}
		// 4000-4099: upstream application rejections (bad credentials,
		// banned session).
		if ce.Code >= 4000 && ce.Code < 4100 {
			return true
		}
	}
	return false
}

func parseAlert(raw json.RawMessage) (market.RestockEvent, error) {
	var ev market.RestockEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return market.RestockEvent{}, err
	}
	if ev.ItemID == "" {
		return market.RestockEvent{}, errors.New("stock_alert missing item_id")
	}
	if ev.DisplayName == "" {
		ev.DisplayName = ev.ItemID
	}
	if ev.DetectedAt.IsZero() {
		ev.DetectedAt = time.Now()
	}
	return ev, nil
}

func knownCategory(key string) (market.Category, bool) {
	cat := market.Category(key)
	switch cat {
	case market.CategorySeed, market.CategoryGear, market.CategoryEgg,
		market.CategoryCosmetic, market.CategoryEvent, market.CategoryMerchant:
		return cat, true
	}
	return "", false
}
