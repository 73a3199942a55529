package tasks

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a project file must stay quiet before it is
// re-rendered.
const DefaultDebounce = 500 * time.Millisecond

// ProjectWatcher calls OnChange after the watched project file was
// written. Bursts of events within Debounce trigger one call.
type ProjectWatcher struct {
	Path     string
	Debounce time.Duration
	OnChange func(ctx context.Context, path string)
	Logger   *slog.Logger
}

// Run watches until ctx is done. The directory is watched rather than the
// file so editors that replace the file on save are seen.
func (w *ProjectWatcher) Run(ctx context.Context) error {
	log := w.Logger
	if log == nil {
		log = slog.Default()
	}
	delay := w.Debounce
	if delay <= 0 {
		delay = DefaultDebounce
	}
	abs, err := filepath.Abs(w.Path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	log.Info("watching project", "path", abs)

	timer := time.NewTimer(delay)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug("project changed", "op", event.Op.String())
			timer.Reset(delay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("project watcher error", "error", err)
		case <-timer.C:
			if w.OnChange != nil {
				w.OnChange(ctx, abs)
			}
		}
	}
}
