package suite

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig controls Watch.
type WatchConfig struct {
	// Debounce groups bursts of file events into one reload.
	Debounce time.Duration
	// RunOnStart runs the suites once before waiting for changes.
	RunOnStart bool
	Logger     *slog.Logger
}

// Watch calls fn with the suites of dir every time a YAML file in dir is
// written, created or renamed. A directory that fails to load is logged and
// skipped until the next change. Watch blocks until ctx is done.
func Watch(ctx context.Context, dir string, cfg WatchConfig, fn func(context.Context, []*Suite)) error {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 250 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", dir, err)
	}

	reload := func() {
		suites, err := LoadDir(dir)
		if err != nil {
			cfg.Logger.Error("reload suites", "dir", dir, "error", err)
			return
		}
		cfg.Logger.Info("suites reloaded", "dir", dir, "suites", len(suites))
		fn(ctx, suites)
	}
	if cfg.RunOnStart {
		reload()
	}

	timer := time.NewTimer(cfg.Debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isSuiteFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				cfg.Logger.Debug("suite changed", "file", event.Name, "op", event.Op.String())
				timer.Reset(cfg.Debounce)
			}
		case <-timer.C:
			reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch dir %q: %w", dir, err)
		}
	}
}
