package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "hpvcal/internal/log"
)

// reloadDebounce absorbs the burst of events editors emit for one save.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the config at path whenever the file changes and passes each
// successfully loaded config to fn. Configs that fail to parse or validate are
// logged and skipped; the previous config stays in effect. fn is called from
// the watch loop, one reload at a time.
//
// The parent directory is watched rather than the file, since atomic saves
// (including Save) replace the file by rename. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(path)
	file := filepath.Base(path)
	if err := w.Add(dir); err != nil {
		return err
	}
	appLog.Debug("config watcher started", "dir", dir, "file", file)

	// The debounce timer only signals; loading and fn run on this goroutine.
	due := make(chan struct{}, 1)
	timer := time.AfterFunc(time.Hour, func() {
		select {
		case due <- struct{}{}:
		default:
		}
	})
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(reloadDebounce)
			}
		case <-due:
			reload(path, fn)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			appLog.Error("config watcher error", err, "dir", dir)
		}
	}
}

func reload(path string, fn func(*Config)) {
	// Load would recreate a removed file with defaults.
	if _, err := os.Stat(path); err != nil {
		return
	}
	cfg, err := Load(path)
	if err != nil {
		appLog.Warn("config reload rejected", "path", path, "err", err.Error())
		return
	}
	appLog.Info("config reloaded", "path", path, "feeds", len(cfg.Feeds))
	fn(cfg)
}
