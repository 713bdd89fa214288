package session

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period Watch waits for before refreshing.
const DefaultDebounce = 300 * time.Millisecond

// Watch refreshes the session whenever the package directory changes,
// until ctx is cancelled. Bursts of events within debounce trigger one
// refresh. New directories are added to the watch list as they appear.
func (s *Session) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, s.root); err != nil {
		return err
	}
	s.logger.Info("watcher: started", slog.String("root", s.root))

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			fire = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			s.logger.Info("watcher: stopped")
			return nil

		case <-fire:
			c, err := s.Refresh()
			if err != nil {
				s.logger.Warn("watcher: refresh failed", slog.String("error", err.Error()))
				continue
			}
			s.logger.Debug("watcher: refreshed", slog.Int("changes", c.Len()))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addDirsRecursive(w, ev.Name); err != nil {
						s.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", err.Error()))
					}
				}
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			schedule()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher: error", slog.String("error", err.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
