package contextset

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"taskpilot/pkg/logx"
)

const defaultDebounce = 200 * time.Millisecond

type pendingOp int

const (
	opCreate pendingOp = iota + 1
	opRemove
)

// Watcher keeps a Set in step with the workspace while a run is in progress: new files that
// pass the globs are included and removed files are forgotten.
type Watcher struct {
	mu       sync.Mutex
	set      *Set
	watcher  *fsnotify.Watcher
	pending  map[string]pendingOp
	debounce time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	logger   *logx.Logger
}

// NewWatcher creates a watcher for set. It does nothing until Start.
func NewWatcher(set *Set) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		set:      set,
		watcher:  fw,
		pending:  make(map[string]pendingOp),
		debounce: defaultDebounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logx.NewLogger("context-watcher"),
	}, nil
}

// Start registers every non-excluded directory and begins processing events in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addTree(w.set.Root()); err != nil {
		return err
	}

	go w.run(ctx)
	return nil
}

// Stop ends event processing and releases the fsnotify handle.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("Error closing watcher: %v", err)
	}
}

// addTree watches dir and its non-excluded subdirectories. Files found below a directory that
// appeared after Start are queued as creations since their events were missed.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			if dir != w.set.Root() {
				w.queue(p, opCreate)
			}
			return nil
		}
		if p != w.set.Root() && w.set.dirExcluded(w.set.Normalize(p)) {
			return filepath.SkipDir
		}
		if addErr := w.watcher.Add(p); addErr != nil {
			w.logger.Warn("Cannot watch %s: %v", p, addErr)
		}
		return nil
	})
}

func (w *Watcher) queue(p string, op pendingOp) {
	w.mu.Lock()
	w.pending[p] = op
	w.mu.Unlock()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush()
			return
		case <-w.stopCh:
			w.flush()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error: %v", err)
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			if w.set.dirExcluded(w.set.Normalize(event.Name)) {
				return
			}
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("Cannot watch new directory %s: %v", event.Name, err)
			}
			return
		}
		w.queue(event.Name, opCreate)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.queue(event.Name, opRemove)
	}
}

// flush applies queued events. The last event per path wins.
func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]pendingOp)
	w.mu.Unlock()

	for p, op := range pending {
		switch op {
		case opCreate:
			if _, err := os.Stat(p); err != nil || !w.set.Matches(p) {
				continue
			}
			if err := w.set.Include(p); err != nil {
				w.logger.Warn("New file not added to context: %v", err)
				continue
			}
			w.logger.Debug("Included new file %s", w.set.Normalize(p))
		case opRemove:
			w.set.Forget(p)
		}
	}
}
