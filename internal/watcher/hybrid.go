package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HybridWatcher uses fsnotify when available and falls back to polling when
// the native watcher cannot be created (inotify limits, unsupported
// filesystems). The fallback is one-way for the lifetime of the watcher.
type HybridWatcher struct {
	opts      Options
	mu        sync.Mutex
	fsw       *fsnotify.Watcher
	fallback  *PollingWatcher
	debouncer *Debouncer
	errors    chan error
	cancel    context.CancelFunc
	done      chan struct{}
	started   bool
	stopped   bool
}

var _ Watcher = (*HybridWatcher)(nil)

// NewHybridWatcher creates a hybrid watcher.
func NewHybridWatcher(opts Options) *HybridWatcher {
	opts = opts.WithDefaults()
	return &HybridWatcher{
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow, opts.EventBufferSize),
		errors:    make(chan error, 16),
	}
}

// Start begins watching the given directory recursively.
func (w *HybridWatcher) Start(ctx context.Context, path string) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("fsnotify_unavailable_falling_back_to_polling",
			slog.String("error", err.Error()))
		return w.startFallback(ctx, path)
	}

	if err := addRecursive(fsw, path, w.ignored); err != nil {
		_ = fsw.Close()
		slog.Warn("fsnotify_watch_failed_falling_back_to_polling",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return w.startFallback(ctx, path)
	}

	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.loop(ctx, fsw)

	slog.Debug("hybrid_watcher_started",
		slog.String("path", path),
		slog.String("mode", "fsnotify"))
	return nil
}

func (w *HybridWatcher) startFallback(ctx context.Context, path string) error {
	fallback := NewPollingWatcher(w.opts)
	w.mu.Lock()
	w.fallback = fallback
	w.mu.Unlock()

	if err := fallback.Start(ctx, path); err != nil {
		return err
	}
	go w.forwardFallback(fallback)
	return nil
}

// forwardFallback relays the polling watcher's batches through our channels.
func (w *HybridWatcher) forwardFallback(fallback *PollingWatcher) {
	for {
		select {
		case batch, ok := <-fallback.Events():
			if !ok {
				return
			}
			for _, ev := range batch {
				w.debouncer.Add(ev)
			}
		case err, ok := <-fallback.Errors():
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *HybridWatcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *HybridWatcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if w.ignored(base) {
		return
	}

	var op Operation
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
		// New directories must be added to the watch set.
		if err := addRecursive(fsw, event.Name, w.ignored); err == nil {
			slog.Debug("watch_dir_added", slog.String("path", event.Name))
		}
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      event.Name,
		Operation: op,
		Timestamp: time.Now(),
	})
}

// addRecursive watches path and, if it is a directory, all subdirectories.
func addRecursive(fsw *fsnotify.Watcher, path string, ignored func(string) bool) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == path {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != path && ignored(d.Name()) {
			return filepath.SkipDir
		}
		return fsw.Add(p)
	})
}

func (w *HybridWatcher) ignored(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, dir := range w.opts.IgnoreDirs {
		if name == dir {
			return true
		}
	}
	return false
}

// Stop stops the watcher and releases resources.
func (w *HybridWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped || !w.started {
		w.stopped = true
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	fsw := w.fsw
	fallback := w.fallback
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}
	if fsw != nil {
		_ = fsw.Close()
	}
	if w.done != nil {
		<-w.done
	}
	if fallback != nil {
		_ = fallback.Stop()
	}
	w.debouncer.Close()
	close(w.errors)
	return nil
}

// Events returns the coalesced event channel.
func (w *HybridWatcher) Events() <-chan []FileEvent {
	return w.debouncer.Events()
}

// Errors returns the error channel.
func (w *HybridWatcher) Errors() <-chan error {
	return w.errors
}
