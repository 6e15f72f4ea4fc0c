package watcher

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid file events within a time window.
// Editors frequently emit CREATE+MODIFY bursts for a single save; the
// debouncer collapses each burst into one event per path.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]FileEvent
	timer   *time.Timer
	output  chan []FileEvent
	closed  bool
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(window time.Duration, bufferSize int) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]FileEvent),
		output:  make(chan []FileEvent, bufferSize),
	}
}

// Add records an event, coalescing it with any pending event for the same
// path, and (re)arms the flush timer.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	if prev, ok := d.pending[event.Path]; ok {
		merged, keep := coalesce(prev, event)
		if !keep {
			delete(d.pending, event.Path)
		} else {
			d.pending[event.Path] = merged
		}
	} else {
		d.pending[event.Path] = event
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// coalesce merges two events for the same path. keep=false means the pair
// cancels out entirely.
func coalesce(prev, next FileEvent) (merged FileEvent, keep bool) {
	switch {
	case prev.Operation == OpCreate && next.Operation == OpDelete:
		// Created then deleted inside the window: nothing happened.
		return FileEvent{}, false
	case prev.Operation == OpCreate && next.Operation == OpModify:
		// Still a create from the consumer's point of view.
		next.Operation = OpCreate
		return next, true
	case prev.Operation == OpDelete && next.Operation == OpCreate:
		// Delete followed by create is a replace.
		next.Operation = OpModify
		return next, true
	case prev.Operation == OpModify && next.Operation == OpDelete:
		return next, true
	default:
		return next, true
	}
}

// flush emits all pending events as a single batch.
func (d *Debouncer) flush() {
	d.mu.Lock()
	if d.closed || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	batch := make([]FileEvent, 0, len(d.pending))
	for _, ev := range d.pending {
		batch = append(batch, ev)
	}
	d.pending = make(map[string]FileEvent)
	d.mu.Unlock()

	// Non-blocking send: a stalled consumer drops the batch rather than
	// wedging the watcher. The scan path repairs any dropped events.
	select {
	case d.output <- batch:
	default:
	}
}

// Events returns the channel of coalesced event batches.
func (d *Debouncer) Events() <-chan []FileEvent {
	return d.output
}

// Close stops the debouncer and closes the output channel.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
