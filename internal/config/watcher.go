package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-loads a config file on change and hands the result to a
// callback, debounced against editors that emit several events per save.
// Grounded on the teacher's templates.Registry file watcher (same
// fsnotify-events-plus-debounce-timer shape), scaled down to one file.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a Watcher for path. It watches the containing
// directory rather than the file itself, since editors commonly replace a
// file by rename rather than in-place write.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: 250 * time.Millisecond,
		logger:   logger.With("component", "config.watcher"),
		fsw:      fsw,
	}, nil
}

// Start watches for changes to the config file until ctx is canceled or
// Close is called. onChange is invoked with a freshly loaded, validated
// Config each time the file settles after an edit; a reload that fails
// validation is logged and the previous Config keeps serving.
func (w *Watcher) Start(ctx context.Context, onChange func(*Config)) {
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.loop(watchCtx, onChange)
}

func (w *Watcher) loop(ctx context.Context, onChange func(*Config)) {
	defer w.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed, keeping previous config", "error", err)
				return
			}
			w.logger.Info("config reloaded")
			onChange(cfg)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

// Close stops the watch loop and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}
