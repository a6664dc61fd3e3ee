// pattern: Imperative Shell

package store

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"coderoom/internal/logging"
)

const watchDebounce = 200 * time.Millisecond

// Watcher re-applies the rooms seed file whenever it changes, so rooms
// can be provisioned while the broker is running. Events are debounced;
// editors typically emit several write/rename events per save.
type Watcher struct {
	fsw    *fsnotify.Watcher
	store  *SQLite
	path   string
	logger *logging.ScopedLogger
	done   chan struct{}
}

// WatchSeed starts watching the seed file at path. The parent directory
// is watched rather than the file itself so atomic-rename saves are seen.
func WatchSeed(s *SQLite, path string, logProvider logging.LoggerProvider) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:    fsw,
		store:  s,
		path:   path,
		logger: logProvider.For("store.watcher"),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("seed watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	rooms, err := LoadSeed(w.path)
	if err != nil {
		w.logger.Warn("seed reload failed", "path", w.path, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ApplySeed(ctx, w.store, rooms); err != nil {
		w.logger.Warn("seed apply failed", "path", w.path, "error", err)
		return
	}
	w.logger.Info("seed reapplied", "path", w.path, "rooms", len(rooms))
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
