package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/WilardzySenpai/grow-garden-guru-sub001/market"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/pkg/logx"
)

type readResult struct {
	data []byte
	err  error
}

type fakeConn struct {
	frames chan readResult

	closeOnce sync.Once
	done      chan struct{}

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan readResult, 16), done: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case r := <-f.frames:
		return websocket.TextMessage, r.data, r.err
	case <-f.done:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	f.writes = append(f.writes, data)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type stateRecorder struct {
	mu     sync.Mutex
	states []market.ConnState
}

func (r *stateRecorder) record(s market.ConnState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) all() []market.ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]market.ConnState(nil), r.states...)
}

func newTestChannel(t *testing.T, d *fakeDialer, cb Callbacks) *Channel {
	t.Helper()
	return New(Options{
		URL:     "wss://upstream.test/push",
		Backoff: 20 * time.Millisecond,
		Dialer:  d,
		Log:     logx.Nop(),
	}, cb)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectTransitions(t *testing.T) {
	d := &fakeDialer{}
	rec := &stateRecorder{}
	c := newTestChannel(t, d, Callbacks{StateChanged: rec.record})
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	got := rec.all()
	want := []market.ConnState{market.StateConnecting, market.StateConnected}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	if c.State() != market.StateConnected {
		t.Fatalf("state = %q", c.State())
	}
}

func TestIntentionalCloseDoesNotReconnect(t *testing.T) {
	d := &fakeDialer{}
	c := newTestChannel(t, d, Callbacks{})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	time.Sleep(100 * time.Millisecond) // well past the backoff
	if got := d.dialCount(); got != 1 {
		t.Fatalf("dials = %d after intentional close, want 1", got)
	}
	if c.State() != market.StateDisconnected {
		t.Fatalf("state = %q", c.State())
	}
}

func TestUnexpectedCloseReconnectsExactlyOnce(t *testing.T) {
	d := &fakeDialer{}
	c := newTestChannel(t, d, Callbacks{})
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Simulate error and close handlers both firing for the same failure.
	cause := errors.New("connection reset")
	ctx := context.Background()
	c.connectionBroken(ctx, cause)
	c.connectionBroken(ctx, cause)

	waitFor(t, "reconnect", func() bool { return d.dialCount() == 2 })
	time.Sleep(60 * time.Millisecond) // no second attempt may follow
	if got := d.dialCount(); got != 2 {
		t.Fatalf("dials = %d, want exactly 2 (one reconnect)", got)
	}
	if c.State() != market.StateConnected {
		t.Fatalf("state after reconnect = %q", c.State())
	}
}

func TestPolicyCloseDoesNotReconnect(t *testing.T) {
	d := &fakeDialer{}
	c := newTestChannel(t, d, Callbacks{})
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	d.lastConn().frames <- readResult{err: &websocket.CloseError{Code: websocket.ClosePolicyViolation}}
	waitFor(t, "disconnect", func() bool { return c.State() == market.StateDisconnected })
	time.Sleep(60 * time.Millisecond)
	if got := d.dialCount(); got != 1 {
		t.Fatalf("dials = %d after policy close, want 1", got)
	}
}

func TestMalformedFrameDroppedConnectionStaysOpen(t *testing.T) {
	d := &fakeDialer{}
	var dropped atomic.Int32
	var pushed atomic.Int32
	c := newTestChannel(t, d, Callbacks{
		FrameDropped: func(err error) {
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Errorf("dropped frame error = %v, want *ParseError", err)
			}
			dropped.Add(1)
		},
		CategoryPush: func(cat market.Category, _ json.RawMessage) {
			if cat == market.CategorySeed {
				pushed.Add(1)
			}
		},
	})
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	conn := d.lastConn()
	conn.frames <- readResult{data: []byte(`{not json`)}
	conn.frames <- readResult{data: []byte(`{"seed":[{"item_id":"carrot_seed","quantity":1}]}`)}

	waitFor(t, "frame routing", func() bool { return dropped.Load() == 1 && pushed.Load() == 1 })
	if c.State() != market.StateConnected {
		t.Fatalf("state = %q, channel must survive a bad frame", c.State())
	}
}

func TestAlertPushRouting(t *testing.T) {
	d := &fakeDialer{}
	got := make(chan market.RestockEvent, 1)
	c := newTestChannel(t, d, Callbacks{
		AlertPush: func(ev market.RestockEvent) { got <- ev },
	})
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	d.lastConn().frames <- readResult{data: []byte(`{"stock_alert":{"item_id":"carrot_seed","quantity":7,"is_restock":true}}`)}

	select {
	case ev := <-got:
		if ev.ItemID != "carrot_seed" || ev.Quantity != 7 || !ev.IsRestock {
			t.Fatalf("alert = %+v", ev)
		}
		if ev.DisplayName != "carrot_seed" {
			t.Fatalf("display name not defaulted: %+v", ev)
		}
		if ev.DetectedAt.IsZero() {
			t.Fatal("DetectedAt not stamped")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alert not delivered")
	}
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	d := &fakeDialer{}
	c := newTestChannel(t, d, Callbacks{})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	c.connectionBroken(context.Background(), errors.New("reset"))
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := d.dialCount(); got != 1 {
		t.Fatalf("dials = %d, pending reconnect must be cancelled by Close", got)
	}
}

func TestDefinitiveRejectCodes(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&websocket.CloseError{Code: websocket.ClosePolicyViolation}, true},
		{&websocket.CloseError{Code: 4001}, true},
		{&websocket.CloseError{Code: websocket.CloseAbnormalClosure}, false},
		{&websocket.CloseError{Code: websocket.CloseGoingAway}, false},
		{errors.New("plain error"), false},
	}
	for _, tc := range cases {
		if got := definitiveReject(tc.err); got != tc.want {
			t.Errorf("definitiveReject(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
