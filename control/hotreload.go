// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// File watcher pushing reloaded configuration into a ConfigStore.

package control

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"github.com/momentics/hioload-io/internal/logging"
)

// reloadDebounce lets bursts of write events settle before reloading.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads the configuration file at path whenever it is written or
// replaced and stores the result. Invalid files are logged and ignored. Watch
// blocks until ctx ends.
func Watch(ctx context.Context, path string, store *ConfigStore, logger logr.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("control: config watcher: %w", err)
	}
	defer w.Close()

	// watch the directory so editors that replace the file are seen
	dir, name := filepath.Split(filepath.Clean(path))
	if dir == "" {
		dir = "."
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("control: watch %q: %w", dir, err)
	}
	log := logger.WithName("config-watcher").WithValues("path", path)
	trace := log.V(logging.TRACE)

	reload := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			trace.Info("config event", "event", ev.String())
			if filepath.Base(ev.Name) != name || !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			cfg, err := LoadConfig(path)
			if err != nil {
				log.Error(err, "config reload failed")
				continue
			}
			if err := store.Set(cfg); err != nil {
				log.Error(err, "config rejected")
				continue
			}
			log.Info("config reloaded")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error(err, "config watcher failed")
		case <-ctx.Done():
			return nil
		}
	}
}
