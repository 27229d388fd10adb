package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration file when it changes on disk and hands
// each valid snapshot to the registered callback. Invalid snapshots are
// logged and dropped; the previous configuration stays in effect.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(*Config)
	logger   *slog.Logger
	cancel   context.CancelFunc
}

// NewWatcher creates a watcher for the given config file. The callback runs
// on the watcher goroutine; it must not block.
func NewWatcher(path string, logger *slog.Logger, onReload func(*Config)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files on save,
	// which drops a direct file watch.
	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		path:     absPath,
		watcher:  fsWatcher,
		onReload: onReload,
		logger:   logger,
		cancel:   cancel,
	}

	go w.watchLoop(ctx)

	return w, nil
}

// Close stops the watcher goroutine and releases the underlying notifier.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	// Debounce rapid successive writes (editors often emit several events per save).
	var debounce *time.Timer
	const debounceDelay = 200 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous configuration",
			"path", w.path,
			"error", err,
		)
		return
	}

	w.logger.Info("configuration reloaded",
		"path", w.path,
		"rate_limit", cfg.RateLimit.Limit,
		"allowed_hosts", len(cfg.Image.AllowedHosts),
	)

	if w.onReload != nil {
		w.onReload(cfg)
	}
}
