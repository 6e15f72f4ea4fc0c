package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// fileSnapshot captures the state of a file for change comparison.
type fileSnapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// PollingWatcher detects file changes by periodically walking the tree and
// diffing snapshots. It is the fallback when fsnotify cannot be used
// (network mounts, inotify limits).
type PollingWatcher struct {
	opts      Options
	root      string
	mu        sync.Mutex
	state     map[string]fileSnapshot
	debouncer *Debouncer
	errors    chan error
	cancel    context.CancelFunc
	done      chan struct{}
	started   bool
	stopped   bool
}

var _ Watcher = (*PollingWatcher)(nil)

// NewPollingWatcher creates a polling watcher.
func NewPollingWatcher(opts Options) *PollingWatcher {
	opts = opts.WithDefaults()
	return &PollingWatcher{
		opts:      opts,
		state:     make(map[string]fileSnapshot),
		debouncer: NewDebouncer(opts.DebounceWindow, opts.EventBufferSize),
		errors:    make(chan error, 16),
	}
}

// Start begins polling the given directory recursively.
func (w *PollingWatcher) Start(ctx context.Context, path string) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.root = path
	w.mu.Unlock()

	// Baseline snapshot so the first tick only reports real changes.
	baseline, err := w.walk(path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.state = baseline
	w.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.loop(ctx)

	slog.Debug("polling_watcher_started",
		slog.String("path", path),
		slog.Duration("interval", w.opts.PollInterval))
	return nil
}

func (w *PollingWatcher) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.detectChanges()
		}
	}
}

// detectChanges walks the tree and emits events for anything that differs
// from the previous snapshot.
func (w *PollingWatcher) detectChanges() {
	current, err := w.walk(w.root)
	if err != nil {
		select {
		case w.errors <- err:
		default:
		}
		return
	}

	w.mu.Lock()
	prev := w.state
	w.state = current
	w.mu.Unlock()

	now := time.Now()
	for path, snap := range current {
		old, existed := prev[path]
		switch {
		case !existed:
			w.debouncer.Add(FileEvent{Path: path, Operation: OpCreate, IsDir: snap.isDir, Timestamp: now})
		case !snap.isDir && (old.modTime != snap.modTime || old.size != snap.size):
			w.debouncer.Add(FileEvent{Path: path, Operation: OpModify, IsDir: false, Timestamp: now})
		}
	}
	for path, old := range prev {
		if _, exists := current[path]; !exists {
			w.debouncer.Add(FileEvent{Path: path, Operation: OpDelete, IsDir: old.isDir, Timestamp: now})
		}
	}
}

// walk snapshots every entry under root, skipping ignored directories.
func (w *PollingWatcher) walk(root string) (map[string]fileSnapshot, error) {
	snapshots := make(map[string]fileSnapshot)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if d.IsDir() && path != root && w.ignored(d.Name()) {
			return filepath.SkipDir
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		snapshots[path] = fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   d.IsDir(),
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return snapshots, nil
}

func (w *PollingWatcher) ignored(name string) bool {
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

// Stop stops the watcher.
func (w *PollingWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped || !w.started {
		w.stopped = true
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}
	if w.done != nil {
		<-w.done
	}
	w.debouncer.Close()
	close(w.errors)
	return nil
}

// Events returns the coalesced event channel.
func (w *PollingWatcher) Events() <-chan []FileEvent {
	return w.debouncer.Events()
}

// Errors returns the error channel.
func (w *PollingWatcher) Errors() <-chan error {
	return w.errors
}
