package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher observes one loaded config file and delivers reloaded snapshots.
// It watches the parent directory rather than the file itself so that
// editors saving via rename are still observed.
type Watcher struct {
	fsw      *fsnotify.Watcher
	path     string // absolute path of the watched file
	onChange func(*Config)
	logger   *zap.Logger

	debounce time.Duration
	tick     time.Duration

	mu      sync.Mutex
	pending time.Time // zero when no change is waiting to settle

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// Watch starts observing path and calls onChange with each successfully
// reloaded snapshot. Reload failures are logged and swallowed: the previous
// snapshot stays authoritative. Stop the watcher by cancelling ctx or calling
// Stop.
func Watch(ctx context.Context, path string, logger *zap.Logger, onChange func(*Config)) (*Watcher, error) {
	return newWatcher(ctx, path, logger, onChange, 500*time.Millisecond, 100*time.Millisecond)
}

func newWatcher(ctx context.Context, path string, logger *zap.Logger, onChange func(*Config), debounce, tick time.Duration) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		path:     abs,
		onChange: onChange,
		logger:   logger.Named("config"),
		debounce: debounce,
		tick:     tick,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

// Stop halts the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer w.fsw.Close()

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))

		case <-ticker.C:
			w.deliverSettled()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != filepath.Base(w.path) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return // chmod and removal are not reload triggers
	}
	w.mu.Lock()
	w.pending = time.Now()
	w.mu.Unlock()
}

// deliverSettled reloads once a change has gone quiet for the debounce
// window, collapsing editor save bursts into one delivery.
func (w *Watcher) deliverSettled() {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("config reloaded", zap.String("path", w.path))
	w.onChange(cfg)
}
