package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	defaultDebounce = 500 * time.Millisecond
	flushInterval   = 100 * time.Millisecond
)

// Watcher invalidates an Index when files under its root change. Bursts of
// events collapse into a single invalidation per debounce window.
type Watcher struct {
	index   *Index
	watcher *fsnotify.Watcher
	log     *zap.Logger

	mu       sync.Mutex
	debounce time.Duration
	pending  map[string]time.Time
	running  bool

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewWatcher(index *Index, log *zap.Logger) (*Watcher, error) {
	if index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		index:    index,
		watcher:  fsw,
		log:      log,
		debounce: defaultDebounce,
		pending:  make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// SetDebounce overrides the default 500ms batching window. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d <= 0 {
		return
	}
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addRecursive(w.index.Root()); err != nil {
		w.log.Warn("workspace watch setup failed", zap.Error(err))
	}
	go w.run(ctx)
	return nil
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	_ = w.watcher.Close()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if _, skip := skipDirs[filepath.Base(p)]; skip && p != root {
			return filepath.SkipDir
		}
		if addErr := w.watcher.Add(p); addErr != nil {
			w.log.Debug("watch add failed", zap.String("dir", p), zap.Error(addErr))
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.mu.Lock()
			w.pending[ev.Name] = time.Now()
			w.mu.Unlock()
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(ev.Name)
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("workspace watcher error", zap.Error(err))
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) flush() {
	now := time.Now()
	ready := false

	w.mu.Lock()
	for name, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			delete(w.pending, name)
			ready = true
		}
	}
	w.mu.Unlock()

	if ready {
		w.index.Invalidate()
		w.log.Debug("workspace index invalidated")
	}
}
