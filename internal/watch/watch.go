// Package watch reports on-disk changes to the served model bundle.
// The running bundle is never reloaded; a change only means a restart is due.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Change is one observed modification inside the bundle directory.
type Change struct {
	Path string
	Op   fsnotify.Op
}

// Watcher observes a bundle directory.
type Watcher struct {
	dir      string
	fsw      *fsnotify.Watcher
	logger   *zap.Logger
	onChange func(Change)

	mu      sync.Mutex
	changes int
	running bool
	done    chan struct{} // closed when Run returns
}

// New starts watching dir. onChange may be nil.
func New(dir string, logger *zap.Logger, onChange func(Change)) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:      dir,
		fsw:      fsw,
		logger:   logger.Named("watch"),
		onChange: onChange,
		done:     make(chan struct{}),
	}, nil
}

// Run blocks until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.mu.Lock()
			w.changes++
			w.mu.Unlock()

			w.logger.Warn("model bundle changed on disk; restart to serve the new artifacts",
				zap.String("dir", w.dir),
				zap.String("file", filepath.Base(ev.Name)),
				zap.String("op", ev.Op.String()),
			)
			if w.onChange != nil {
				w.onChange(Change{Path: ev.Name, Op: ev.Op})
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", zap.Error(err))
		}
	}
}

// Changes reports how many modifications have been observed.
func (w *Watcher) Changes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.changes
}

// Close stops the underlying watcher and, if Run was started, waits for it to return.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if running {
		<-w.done
	}
	return err
}
