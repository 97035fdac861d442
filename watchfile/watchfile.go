// Package watchfile loads the watched-item list from a YAML file and
// hot-reloads it on change.
//
// Format:
//
//	items:
//	  - carrot_seed
//	  - bug_egg
package watchfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.yaml.in/yaml/v3"

	"github.com/WilardzySenpai/grow-garden-guru-sub001/pkg/logx"
)

// debounceDelay coalesces editor write bursts and partial writes into one
// reload.
const debounceDelay = 250 * time.Millisecond

type doc struct {
	Items []string `yaml:"items"`
}

// Parse reads a YAML watch list. Blank entries are dropped; an empty file is
// a valid empty list.
func Parse(data []byte) ([]string, error) {
	var d doc
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(d.Items))
	for _, id := range d.Items {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Load parses the watch list at path.
func Load(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Watcher hot-reloads one watch-list file. The parent directory is watched
// and events are matched by basename, which survives atomic rename-based
// saves.
type Watcher struct {
	path     string
	log      logx.Logger
	onChange func([]string)

	cancel context.CancelFunc
	done   chan struct{}

	timerMu sync.Mutex
	timer   *time.Timer

	mu      sync.Mutex
	lastKey string
}

// Watch loads path, delivers the initial list to onChange, and starts a
// background watcher that re-delivers on every content change. A file that
// fails to parse after a change is skipped; the previous list stays active.
func Watch(path string, log logx.Logger, onChange func([]string)) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("watchfile: onChange is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	ids, err := Load(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     path,
		log:      log,
		onChange: onChange,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	w.lastKey = listKey(ids)
	onChange(ids)

	go w.run(ctx)
	return w, nil
}

// Close stops the watcher. Idempotent.
func (w *Watcher) Close() error {
	w.cancel()
	<-w.done

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.timerMu.Unlock()
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	dir := filepath.Dir(w.path)
	file := filepath.Base(w.path)
	const restartBackoff = time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		fw, err := fsnotify.NewWatcher()
		if err == nil {
			err = fw.Add(dir)
			if err != nil {
				_ = fw.Close()
			}
		}
		if err != nil {
			w.log.Warn("watch init failed", logx.Err(err), logx.String("dir", dir))
			select {
			case <-ctx.Done():
				return
			case <-time.After(restartBackoff):
				continue
			}
		}

		w.log.Debug("watch list watcher started", logx.String("path", w.path))

		// Runs until the watcher breaks; the outer loop recreates it.
		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = fw.Close()
				return
			case ev, ok := <-fw.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					w.debounce()
				}
			case err, ok := <-fw.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means missed events; reload once and keep going.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					w.debounce()
					continue
				}
				w.log.Warn("watch error", logx.Err(err), logx.String("dir", dir))
				if strings.Contains(strings.ToLower(err.Error()), "closed") {
					broken = true
				}
			}
		}

		_ = fw.Close()
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartBackoff):
		}
	}
}

func (w *Watcher) debounce() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	ids, err := Load(w.path)
	if err != nil {
		w.log.Warn("watch list parse failed; keeping previous",
			logx.String("path", w.path), logx.Err(err))
		return
	}

	key := listKey(ids)
	w.mu.Lock()
	unchanged := key == w.lastKey
	w.lastKey = key
	w.mu.Unlock()
	if unchanged {
		return
	}

	w.log.Debug("watch list changed", logx.Int("items", len(ids)))
	w.onChange(ids)
}

// listKey is an order-insensitive fingerprint used to skip redundant
// publishes when the file is rewritten without content changes.
func listKey(ids []string) string {
	cp := append([]string(nil), ids...)
	for i := range cp {
		cp[i] = strings.ToLower(cp[i])
	}
	sort.Strings(cp)
	return strings.Join(cp, "\n")
}
