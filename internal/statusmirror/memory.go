package statusmirror

import (
	"context"
	"sync"

	"github.com/WilardzySenpai/grow-garden-guru-sub001/market"
)

// memoryMirror is the in-process driver, used when no shared bus is
// configured and by tests.
type memoryMirror struct {
	mu      sync.Mutex
	current market.ConnState
	subs    map[int]chan market.ConnState
	nextID  int
	closed  bool
}

// NewMemory returns a process-local mirror starting in the disconnected
// state.
func NewMemory() Mirror {
	return &memoryMirror{
		current: market.StateDisconnected,
		subs:    make(map[int]chan market.ConnState),
	}
}

func (m *memoryMirror) Publish(_ context.Context, state market.ConnState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.current = state
	for _, ch := range m.subs {
		// Coalesce for slow subscribers: drop the oldest queued state so the
		// newest always lands.
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
	return nil
}

func (m *memoryMirror) Current(context.Context) (market.ConnState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, nil
}

func (m *memoryMirror) Subscribe(_ context.Context, buffer int) (<-chan market.ConnState, func(), error) {
	if buffer <= 0 {
		buffer = 4
	}
	ch := make(chan market.ConnState, buffer)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	// Current value first, before any change can be queued behind it.
	ch <- m.current
	m.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub, nil
}

func (m *memoryMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	return nil
}
