// Package watch re-runs the harness when files under the watched
// directories change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pagerun/internal/logging"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher debounces file events from a set of directory trees.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger
}

// New watches every directory under each of paths. A path naming a file
// watches that file's directory.
func New(paths []string, debounce time.Duration) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths to watch")
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:  fw,
		debounce: debounce,
		logger:   logging.Get(logging.CategoryWatch),
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", p, err)
		}
		if !info.IsDir() {
			p = filepath.Dir(p)
		}
		if err := w.addTree(p); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

// addTree adds root and every non-hidden directory below it.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		w.logger.Debug("watching", zap.String("dir", path))
		return nil
	})
}

// relevant filters out attribute-only changes and editor temp files.
func relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") {
		return false
	}
	return true
}

// Run calls trigger once per burst of changes until ctx is done. A burst
// ends when no relevant event has arrived for the debounce interval.
// trigger runs on the calling goroutine.
func (w *Watcher) Run(ctx context.Context, trigger func(ctx context.Context)) error {
	tick := w.debounce / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	debounceTicker := time.NewTicker(tick)
	defer debounceTicker.Stop()

	var lastEvent time.Time
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						w.logger.Warn("failed to watch new directory", zap.Error(err))
					}
				}
			}
			if !relevant(ev) {
				continue
			}
			w.logger.Debug("change", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			lastEvent = time.Now()
			pending = true

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-debounceTicker.C:
			if pending && time.Since(lastEvent) >= w.debounce {
				pending = false
				trigger(ctx)
			}
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
