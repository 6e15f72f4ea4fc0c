// Package index coordinates incremental synchronization between canonical
// memory sources and the retrieval index.
//
// A single sync goroutine owns all index writes; searches never wait on a
// sync. Triggers (watcher batches, the interval timer, forced syncs) feed
// one coalescing channel, so a burst of edits produces one sync pass.
package index

import (
	"sync"
	"sync/atomic"
	"time"
)

// Phase is the manager's position in the sync lifecycle.
type Phase string

const (
	// PhaseIdle means no sync is running.
	PhaseIdle Phase = "idle"
	// PhaseScanning means sources are being fingerprinted and diffed.
	PhaseScanning Phase = "scanning"
	// PhaseSyncing means changed sources are being chunked, embedded, and
	// written to the index.
	PhaseSyncing Phase = "syncing"
)

// SyncState is a point-in-time snapshot of the manager. Only the manager
// mutates it; everyone else reads copies via Snapshot.
type SyncState struct {
	Phase Phase

	// Dirty is true when known changes have not yet been fully indexed,
	// including after a failed sync.
	Dirty bool

	// DirtySources lists source paths pending indexing, sorted.
	DirtySources []string

	// LastSyncTime, LastSyncOutcome ("ok" or "error"), and LastSyncError
	// describe the most recent completed sync attempt.
	LastSyncTime    time.Time
	LastSyncOutcome string
	LastSyncError   string

	// Backend is the active store backend name; Degraded is true once the
	// fallback controller has re-routed away from the configured backend.
	Backend  string
	Degraded bool

	// Documents and Chunks count indexed sources and records.
	Documents int
	Chunks    int

	// DeniedReads counts retrieval requests rejected by the path guard.
	DeniedReads int64
}

// stateTracker holds SyncState behind a mutex, with the denied-read counter
// kept atomic so the guard can bump it from any goroutine.
type stateTracker struct {
	mu     sync.Mutex
	state  SyncState
	denied atomic.Int64
}

func newStateTracker() *stateTracker {
	return &stateTracker{state: SyncState{Phase: PhaseIdle, LastSyncOutcome: ""}}
}

// Snapshot returns a copy of the current state.
func (t *stateTracker) Snapshot() SyncState {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := t.state
	snap.DirtySources = append([]string(nil), t.state.DirtySources...)
	snap.DeniedReads = t.denied.Load()
	return snap
}

// CountDeniedRead increments the path-guard denial counter.
func (t *stateTracker) CountDeniedRead() {
	t.denied.Add(1)
}

// update applies fn under the state lock.
func (t *stateTracker) update(fn func(*SyncState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.state)
}
