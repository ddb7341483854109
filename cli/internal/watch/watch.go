// Package watch re-runs a callback when query files change.
package watch

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/satishbabariya/pgtyped-go/internal/debug"
)

// DefaultDebounce is how long a file must stay quiet before the callback runs.
const DefaultDebounce = 300 * time.Millisecond

// Callback receives the absolute path of a changed file.
type Callback func(path string) error

// Watcher watches files for changes
type Watcher struct {
	files    map[string]bool
	callback Callback
	debounce time.Duration
	watcher  *fsnotify.Watcher
	log      *slog.Logger
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

// NewWatcher creates a watcher for files. Each file's directory is watched
// so editors that replace files on save are still observed.
func NewWatcher(files []string, debounce time.Duration, callback Callback) (*Watcher, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to watch")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		files:    make(map[string]bool, len(files)),
		callback: callback,
		debounce: debounce,
		watcher:  watcher,
		log:      debug.Component("watch", nil),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, file := range files {
		absPath, err := filepath.Abs(file)
		if err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
		w.files[absPath] = true
		dirs[filepath.Dir(absPath)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch directory: %w", err)
		}
	}

	return w, nil
}

// Start runs the callback once per file and then on every change, until
// Stop. Callback errors after the first run are logged.
func (w *Watcher) Start() error {
	for file := range w.files {
		if err := w.callback(file); err != nil {
			return fmt.Errorf("initial callback failed: %w", err)
		}
	}

	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	pending := make(map[string]bool)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			eventPath, err := filepath.Abs(event.Name)
			if err != nil || !w.files[eventPath] {
				continue
			}
			// Debounce: reset timer on each event
			pending[eventPath] = true
			timer.Reset(w.debounce)

		case <-timer.C:
			for path := range pending {
				if err := w.callback(path); err != nil {
					w.log.Warn("watch callback failed", "file", path, "error", err)
				}
			}
			clear(pending)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)

		case <-w.done:
			return
		}
	}
}

// Stop stops watching and waits for a running callback to return.
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		<-w.stopped
	})
	return err
}
