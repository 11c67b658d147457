// Package watcher reports edits to the linked-path config file so the
// control plane can tell connected clients to reload it.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// relevantOps are the operations that change the file's content. Editors
// that save via rename show up as Create on the target name.
const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

// Watcher watches a single file.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *zap.Logger
}

// New creates a watcher for path. Bursts of events closer together than
// debounce are reported once.
func New(path string, debounce time.Duration, logger *zap.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: debounce,
		logger:   logger.Named("watcher"),
	}
}

// Run watches until ctx is done, calling onChange after each debounced burst
// of changes. The parent directory is watched rather than the file so that
// replace-by-rename saves are not lost.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.logger.Info("Watching config file", zap.String("path", w.path))

	var (
		timer  *time.Timer
		fire   <-chan time.Time
		events = fw.Events
		errs   = fw.Errors
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(relevantOps) {
				continue
			}
			w.logger.Debug("Config file event", zap.String("op", ev.Op.String()))

			if w.debounce <= 0 {
				onChange()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.logger.Info("Config file changed", zap.String("path", w.path))
			onChange()

		case err, ok := <-errs:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", zap.Error(err))
		}
	}
}
