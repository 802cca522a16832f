// Package watch turns filesystem changes below a directory into indexing
// jobs.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/papercomputeco/kdb/pkg/source/local"
	"github.com/papercomputeco/kdb/pkg/worker"
)

// DefaultDebounce coalesces bursts of writes to one file into one job.
const DefaultDebounce = 500 * time.Millisecond

// Enqueuer accepts jobs.
type Enqueuer interface {
	Enqueue(job worker.Job) bool
}

// Config configures a Watcher.
type Config struct {
	// Store maps paths to source ids and decides which files count.
	Store *local.Store

	// Jobs receives one job per settled change.
	Jobs Enqueuer

	// Debounce is how long a file must be quiet before its job is queued.
	Debounce time.Duration

	// InitialSync queues every existing document when Run starts.
	InitialSync bool

	Logger *zap.Logger
}

// Watcher watches the store root recursively.
type Watcher struct {
	config *Config
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer

	// inflight counts debounce callbacks that are scheduled or running.
	inflight sync.WaitGroup
}

// New creates a watcher.
func New(c *Config) (*Watcher, error) {
	if c.Store == nil || c.Jobs == nil {
		return nil, errors.New("store and job queue are required")
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return &Watcher{
		config:  c,
		logger:  c.Logger,
		pending: make(map[string]*time.Timer),
	}, nil
}

// Run watches until ctx is done. Directories created while running are
// added to the watch. Run returns only once no debounce callback can still
// enqueue a job.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()
	defer w.stopPending()

	root := w.config.Store.Root()
	if err := w.addTree(watcher, root); err != nil {
		return err
	}
	w.logger.Info("watching documents", zap.String("root", root))

	if w.config.InitialSync {
		keys, err := w.config.Store.List(ctx)
		if err != nil {
			return err
		}
		for _, key := range keys {
			w.config.Jobs.Enqueue(worker.Job{SourceID: key, Op: worker.OpIngest})
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handle(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

func (w *Watcher) handle(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(watcher, event.Name); err != nil {
				w.logger.Warn("failed to watch new directory",
					zap.String("path", event.Name),
					zap.Error(err),
				)
			}
			return
		}
	}

	if !w.config.Store.Matches(event.Name) {
		return
	}
	key, err := w.config.Store.Key(event.Name)
	if err != nil {
		return
	}

	var op worker.Op
	switch {
	case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
		op = worker.OpIngest
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		op = worker.OpDelete
	default:
		return
	}

	w.schedule(key, op)
}

// schedule (re)starts the debounce timer of key.
func (w *Watcher) schedule(key string, op worker.Op) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[key]; ok && t.Stop() {
		w.inflight.Done()
	}
	w.inflight.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(w.config.Debounce, func() {
		defer w.inflight.Done()

		w.mu.Lock()
		if w.pending[key] == timer {
			delete(w.pending, key)
		}
		w.mu.Unlock()

		w.logger.Debug("document changed",
			zap.String("source_id", key),
			zap.String("op", string(op)),
		)
		w.config.Jobs.Enqueue(worker.Job{SourceID: key, Op: op})
	})
	w.pending[key] = timer
}

// stopPending cancels timers that have not fired and waits for callbacks
// that already have.
func (w *Watcher) stopPending() {
	w.mu.Lock()
	for key, t := range w.pending {
		if t.Stop() {
			w.inflight.Done()
		}
		delete(w.pending, key)
	}
	w.mu.Unlock()

	w.inflight.Wait()
}

// addTree watches dir and every non-hidden directory below it.
func (w *Watcher) addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
		return nil
	})
}
