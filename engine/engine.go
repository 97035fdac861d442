// Package engine assembles the stock tracker: per-category polling on
// boundary-aligned timers, the realtime push channel, restock detection
// against the caller's watch set, alert dedup and the connection-state
// mirror. Consumers construct one Engine, Start it, and read snapshots and
// alert/state subscriptions from it; there is no process-wide instance.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/WilardzySenpai/grow-garden-guru-sub001/internal/dedupe"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/internal/diff"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/internal/eventbus"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/internal/fetch"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/internal/realtime"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/internal/schedule"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/internal/snapshot"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/internal/statusmirror"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/internal/storage"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/market"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/pkg/logx"
	"github.com/WilardzySenpai/grow-garden-guru-sub001/watchfile"
)

// ErrNotStarted is returned by operations that need a running engine.
var ErrNotStarted = errors.New("engine: not started")

// persistTimeout bounds best-effort writes on the alert path so a slow store
// never stalls emission.
const persistTimeout = 250 * time.Millisecond

// Engine owns the full synchronization loop for one caller identity.
type Engine struct {
	cfg Config
	log logx.Logger

	fetcher *fetch.Client
	snaps   *snapshot.Store
	sched   *schedule.Scheduler
	deduper *dedupe.Deduper
	watch   *market.WatchSet
	bus     eventbus.Bus
	mirror  statusmirror.Mirror
	store   storage.Store
	channel *realtime.Channel
	cron    *cron.Cron

	fileWatch *watchfile.Watcher

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
}

// New wires an Engine from cfg. It validates the configuration, opens the
// persistence boundary and the status mirror, but starts no goroutines;
// Start does that.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	log := cfg.Log.With(logx.String("identity", cfg.Identity))

	st, err := storage.Open(cfg.storageConfig(), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("engine: open storage: %w", err)
	}

	var mirror statusmirror.Mirror
	if cfg.RedisAddr != "" {
		mirror, err = statusmirror.NewRedis(cfg.mirrorRedisConfig(), log.With(logx.String("comp", "mirror")))
		if err != nil {
			if st != nil {
				_ = st.Close()
			}
			return nil, fmt.Errorf("engine: status mirror: %w", err)
		}
	} else {
		mirror = statusmirror.NewMemory()
	}

	var ds dedupe.DedupStore
	if st != nil {
		ds = st
	}

	var fetchOpts []fetch.Option
	if cfg.FetchRatePerSec > 0 {
		fetchOpts = append(fetchOpts, fetch.WithRateLimit(cfg.FetchRatePerSec))
	}

	e := &Engine{
		cfg:     cfg,
		log:     log,
		fetcher: fetch.NewClient(cfg.BaseURL, log.With(logx.String("comp", "fetch")), fetchOpts...),
		snaps:   snapshot.NewStore(),
		sched:   schedule.NewScheduler(log.With(logx.String("comp", "schedule"))),
		deduper: dedupe.New(cfg.DedupWindow, ds),
		watch:   market.NewWatchSet(cfg.Watch...),
		bus:     eventbus.New(),
		mirror:  mirror,
		store:   st,
	}

	if cfg.PushURL != "" {
		e.channel = realtime.New(realtime.Options{
			URL:     cfg.PushURL,
			Backoff: cfg.ReconnectBackoff,
			Log:     log.With(logx.String("comp", "realtime")),
		}, realtime.Callbacks{
			StateChanged: e.onStateChanged,
			CategoryPush: e.onCategoryPush,
			AlertPush:    e.onAlertPush,
			FrameDropped: e.onFrameDropped,
		})
	}
	return e, nil
}

// Start brings the engine up: merges the persisted watch list, takes a first
// snapshot of every scheduled category, arms the per-category timers, opens
// the push channel and starts the housekeeping cron. Start is one-shot.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("engine: already started")
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	runCtx := e.ctx
	e.mu.Unlock()

	if e.store != nil {
		ids, err := e.store.ListWatch(runCtx, e.cfg.Identity)
		if err != nil {
			e.log.Warn("persisted watch list unavailable", logx.Err(err))
		}
		for _, id := range ids {
			e.watch.Add(id)
		}
	}

	if e.cfg.WatchFile != "" {
		w, err := watchfile.Watch(e.cfg.WatchFile, e.log.With(logx.String("comp", "watchfile")), func(ids []string) {
			e.watch.Replace(ids)
			e.log.Info("watch list reloaded", logx.Int("items", e.watch.Len()))
		})
		if err != nil {
			e.shutdown()
			return fmt.Errorf("engine: watch file: %w", err)
		}
		e.fileWatch = w
	}

	e.log.Info("engine starting",
		logx.Int("watched", e.watch.Len()),
		logx.Int("categories", len(e.cfg.Schedules)),
		logx.Bool("push", e.channel != nil))

	// First observation for every category. Yields no alerts (no baseline)
	// but seeds the snapshots the schedule computation needs.
	cats := make([]market.Category, 0, len(e.cfg.Schedules))
	for cat := range e.cfg.Schedules {
		cats = append(cats, cat)
	}
	for _, res := range e.fetcher.FetchAll(runCtx, cats) {
		if res.Err != nil {
			e.log.Warn("initial fetch failed", logx.String("category", string(res.Category)), logx.Err(res.Err))
			e.bus.Publish(eventbus.Event{Kind: eventbus.KindFetchFailed, Data: string(res.Category)})
			continue
		}
		e.apply(res.Snapshot)
	}
	for _, cat := range cats {
		e.arm(cat)
	}

	if e.channel != nil {
		go func() { _ = e.channel.Connect(runCtx) }()
	}

	e.cron = cron.New()
	_, _ = e.cron.AddFunc("@every 1m", func() {
		if n := e.deduper.Sweep(time.Now()); n > 0 {
			e.log.Debug("dedup entries swept", logx.Int("evicted", n))
		}
	})
	_, _ = e.cron.AddFunc("@every 30s", e.heartbeat)
	e.cron.Start()
	return nil
}

// Stop tears the engine down: timers, cron, push channel, file watcher,
// mirror and store. Idempotent; safe to call on a never-started engine.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.shutdown()

	if e.cron != nil {
		stopCtx := e.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}
	e.log.Info("engine stopped")
	return nil
}

func (e *Engine) shutdown() {
	e.sched.Stop()
	if e.channel != nil {
		_ = e.channel.Close()
	}
	if e.fileWatch != nil {
		_ = e.fileWatch.Close()
	}
	_ = e.mirror.Close()
	if e.store != nil {
		_ = e.store.Close()
	}
}

// Snapshot returns the last-known stock for cat, or nil before the first
// successful fetch. The returned snapshot is never mutated; a later fetch
// replaces it wholesale.
func (e *Engine) Snapshot(cat market.Category) *market.Snapshot {
	return e.snaps.Get(cat)
}

// OnAlert registers fn for every emitted restock alert and returns its
// unsubscribe function. fn runs on a dedicated goroutine per registration;
// slow consumers drop, they never stall the engine.
func (e *Engine) OnAlert(fn func(market.RestockEvent)) (unsubscribe func()) {
	ch, unsub := e.bus.Subscribe(16)
	go func() {
		for ev := range ch {
			if ev.Kind != eventbus.KindAlert {
				continue
			}
			if alert, ok := ev.Data.(market.RestockEvent); ok {
				fn(alert)
			}
		}
	}()
	return unsub
}

// ConnectionState returns the realtime channel's current state. Without a
// configured push endpoint it reads the mirror, which other processes may be
// feeding.
func (e *Engine) ConnectionState() market.ConnState {
	if e.channel != nil {
		return e.channel.State()
	}
	state, err := e.mirror.Current(context.Background())
	if err != nil {
		return market.StateDisconnected
	}
	return state
}

// SubscribeConnectionState streams connection-state changes, current value
// first.
func (e *Engine) SubscribeConnectionState(buffer int) (<-chan market.ConnState, func(), error) {
	e.mu.Lock()
	runCtx := e.ctx
	e.mu.Unlock()
	if runCtx == nil {
		return nil, nil, ErrNotStarted
	}
	return e.mirror.Subscribe(runCtx, buffer)
}

// SetWatch replaces the watch set wholesale.
func (e *Engine) SetWatch(ids []string) {
	e.watch.Replace(ids)
}

// AddWatch registers an item (and its seed alias) and persists it for the
// engine's identity when a store is configured.
func (e *Engine) AddWatch(ctx context.Context, itemID string) error {
	e.watch.Add(itemID)
	if e.store == nil {
		return nil
	}
	return e.store.AddWatch(ctx, e.cfg.Identity, itemID)
}

// RemoveWatch drops an item from the watch set and the persisted list.
func (e *Engine) RemoveWatch(ctx context.Context, itemID string) error {
	e.watch.Remove(itemID)
	if e.store == nil {
		return nil
	}
	return e.store.RemoveWatch(ctx, e.cfg.Identity, itemID)
}

// Watched lists the canonical watched identifiers.
func (e *Engine) Watched() []string { return e.watch.IDs() }

// Events exposes the internal bus for consumers that want fetch outcomes and
// dropped-frame signals alongside alerts.
func (e *Engine) Events(buffer int) (<-chan eventbus.Event, func()) {
	return e.bus.Subscribe(buffer)
}

// runFetch performs one scheduled fetch for cat and re-arms its timer. A
// failure leaves the previous snapshot intact and still re-arms: retry
// happens on the next natural boundary, never in a tight loop.
func (e *Engine) runFetch(cat market.Category) {
	e.mu.Lock()
	runCtx := e.ctx
	stopped := e.stopped
	e.mu.Unlock()
	if stopped || runCtx == nil || runCtx.Err() != nil {
		return
	}

	snap, err := e.fetcher.Fetch(runCtx, cat)

	// Re-check liveness: a fetch that completes while Stop runs must be
	// discarded, not applied to the store or persisted after teardown.
	e.mu.Lock()
	stopped = e.stopped
	e.mu.Unlock()
	if stopped || runCtx.Err() != nil {
		return
	}

	if err != nil {
		e.log.Warn("fetch failed", logx.String("category", string(cat)), logx.Err(err))
		e.bus.Publish(eventbus.Event{Kind: eventbus.KindFetchFailed, Data: string(cat)})
	} else {
		e.apply(snap)
		e.bus.Publish(eventbus.Event{Kind: eventbus.KindFetchOK, Data: string(cat)})
	}
	e.arm(cat)
}

// arm schedules cat's next fetch per its cadence rule, replacing any pending
// timer for the category.
func (e *Engine) arm(cat market.Category) {
	sched, ok := e.cfg.Schedules[cat]
	if !ok {
		return
	}
	delay := schedule.Next(time.Now(), sched, e.snaps.Get(cat))
	e.sched.Arm(cat, delay, func() { e.runFetch(cat) })
}

// apply installs snap as the live snapshot and emits restock alerts for
// watched 0 -> positive transitions against the previous one.
func (e *Engine) apply(snap market.Snapshot) {
	prev := e.snaps.Replace(snap)
	for _, ev := range diff.Restocks(prev, snap, e.watch, snap.FetchedAt) {
		e.emit(ev)
	}
}

// emit runs one restock event through the deduper and, if allowed, publishes
// it and records it best-effort in the store.
func (e *Engine) emit(ev market.RestockEvent) {
	now := ev.DetectedAt
	if now.IsZero() {
		now = time.Now()
		ev.DetectedAt = now
	}
	// Atomic check-and-claim: the background and foreground pollers (and the
	// push path) may all observe the same transition concurrently, and only
	// one may emit.
	if !e.deduper.Allow(ev.ItemID, now) {
		e.log.Debug("alert suppressed", logx.String("item", ev.ItemID))
		return
	}

	e.log.Info("restock alert",
		logx.String("item", ev.ItemID),
		logx.String("category", string(ev.Category)),
		logx.Int("quantity", ev.Quantity))
	e.bus.Publish(eventbus.Event{Kind: eventbus.KindAlert, Time: now, Data: ev})

	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := e.store.UpsertAlert(ctx, storage.AlertRecord{
			Identity:    e.cfg.Identity,
			ItemID:      ev.ItemID,
			DisplayName: ev.DisplayName,
			Category:    ev.Category,
			Quantity:    ev.Quantity,
			DetectedAt:  ev.DetectedAt,
		})
		cancel()
		if err != nil {
			e.log.Warn("alert persist failed", logx.String("item", ev.ItemID), logx.Err(err))
		}
	}
}

// onCategoryPush treats a pushed category payload exactly like a fetch
// result: normalize, replace, diff.
func (e *Engine) onCategoryPush(cat market.Category, raw json.RawMessage) {
	snap := market.NormalizeSnapshot(cat, raw, time.Now())
	e.apply(snap)
	// A pushed rotation moves the expiry-aligned due time; recompute it.
	if sched, ok := e.cfg.Schedules[cat]; ok && sched.AlignToItemExpiry {
		e.arm(cat)
	}
}

// onAlertPush applies the same rules to server-pushed alerts as to locally
// detected ones: watched items only, restock transitions only, deduped.
func (e *Engine) onAlertPush(ev market.RestockEvent) {
	if !ev.IsRestock || !e.watch.Contains(ev.ItemID) {
		return
	}
	e.emit(ev)
}

func (e *Engine) onStateChanged(state market.ConnState) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	if err := e.mirror.Publish(ctx, state); err != nil {
		e.log.Warn("mirror publish failed", logx.Err(err))
	}
	cancel()
	e.bus.Publish(eventbus.Event{Kind: eventbus.KindConnState, Data: state})
}

func (e *Engine) onFrameDropped(err error) {
	e.bus.Publish(eventbus.Event{Kind: eventbus.KindFrameDrop, Data: err})
}

// heartbeat republishes the current state so the mirror's durable record
// stays fresh even without transitions.
func (e *Engine) heartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	_ = e.mirror.Publish(ctx, e.ConnectionState())
}
