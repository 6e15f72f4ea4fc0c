package store

import (
	"context"
	"log/slog"
	"sync"

	recallerr "github.com/recallkit/recall/internal/errors"
)

// FallbackStore serves from a primary backend and degrades one-way to a
// fallback when the primary fails a health probe or a store operation.
// There is no fail-back within a process lifetime: flapping between
// backends would leave neither index complete, so recovery takes a restart.
type FallbackStore struct {
	primary  Store
	fallback Store

	mu        sync.RWMutex
	degraded  bool
	onDegrade func()
}

var _ Store = (*FallbackStore)(nil)

// NewFallbackStore composes primary and fallback. The primary is probed
// once up front; an unhealthy primary degrades immediately.
func NewFallbackStore(ctx context.Context, primary, fallback Store) *FallbackStore {
	s := &FallbackStore{primary: primary, fallback: fallback}
	if !primary.Healthy(ctx) {
		s.degrade("startup health probe failed")
	}
	return s
}

// Degraded reports whether the fallback side is active.
func (s *FallbackStore) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// OnDegrade registers a callback invoked when the store fails over. Writes
// only ever reach the active backend, so at failover the surviving side is
// missing everything indexed before it; the callback is the hook to schedule
// that rebuild. Registering after degradation has already happened (startup
// probe failure) invokes the callback immediately.
func (s *FallbackStore) OnDegrade(fn func()) {
	s.mu.Lock()
	s.onDegrade = fn
	already := s.degraded
	s.mu.Unlock()

	if already && fn != nil {
		fn()
	}
}

func (s *FallbackStore) active() Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.degraded {
		return s.fallback
	}
	return s.primary
}

func (s *FallbackStore) degrade(reason string) {
	s.mu.Lock()
	if s.degraded {
		s.mu.Unlock()
		return
	}
	s.degraded = true
	cb := s.onDegrade
	s.mu.Unlock()

	slog.Warn("store_backend_degraded",
		slog.String("code", recallerr.ErrCodeBackendDegraded),
		slog.String("from", s.primary.Name()),
		slog.String("to", s.fallback.Name()),
		slog.String("reason", reason))

	if cb != nil {
		cb()
	}
}

// shouldFailOver decides whether an error justifies switching backends.
// Validation errors and fatal dimension mismatches would fail on the
// fallback too; only store IO and corruption indicate a sick backend.
func shouldFailOver(err error) bool {
	return recallerr.HasCode(err, recallerr.ErrCodeStoreIO) ||
		recallerr.HasCode(err, recallerr.ErrCodeCorruptIndex)
}

// run executes op against the active backend, failing over once.
func (s *FallbackStore) run(op func(Store) error) error {
	if s.Degraded() {
		return op(s.fallback)
	}

	err := op(s.primary)
	if err == nil || !shouldFailOver(err) {
		return err
	}

	s.degrade(err.Error())
	return op(s.fallback)
}

// Upsert inserts or replaces records on the active backend.
func (s *FallbackStore) Upsert(ctx context.Context, records []*Record) error {
	return s.run(func(st Store) error { return st.Upsert(ctx, records) })
}

// Delete removes records on the active backend.
func (s *FallbackStore) Delete(ctx context.Context, chunkIDs []string) error {
	return s.run(func(st Store) error { return st.Delete(ctx, chunkIDs) })
}

// DeleteBySource removes a source's records on the active backend.
func (s *FallbackStore) DeleteBySource(ctx context.Context, sourcePath string) error {
	return s.run(func(st Store) error { return st.DeleteBySource(ctx, sourcePath) })
}

// ChunkIDsBySource queries the active backend.
func (s *FallbackStore) ChunkIDsBySource(ctx context.Context, sourcePath string) ([]string, error) {
	var ids []string
	err := s.run(func(st Store) error {
		var opErr error
		ids, opErr = st.ChunkIDsBySource(ctx, sourcePath)
		return opErr
	})
	return ids, err
}

// Get queries the active backend.
func (s *FallbackStore) Get(ctx context.Context, chunkID string) (*Record, error) {
	var rec *Record
	err := s.run(func(st Store) error {
		var opErr error
		rec, opErr = st.Get(ctx, chunkID)
		return opErr
	})
	return rec, err
}

// LexicalSearch queries the active backend.
func (s *FallbackStore) LexicalSearch(ctx context.Context, query string, limit int) ([]*Hit, error) {
	var hits []*Hit
	err := s.run(func(st Store) error {
		var opErr error
		hits, opErr = st.LexicalSearch(ctx, query, limit)
		return opErr
	})
	return hits, err
}

// VectorSearch queries the active backend.
func (s *FallbackStore) VectorSearch(ctx context.Context, query []float32, limit int) ([]*Hit, error) {
	var hits []*Hit
	err := s.run(func(st Store) error {
		var opErr error
		hits, opErr = st.VectorSearch(ctx, query, limit)
		return opErr
	})
	return hits, err
}

// Stats queries the active backend.
func (s *FallbackStore) Stats(ctx context.Context) (*Stats, error) {
	var stats *Stats
	err := s.run(func(st Store) error {
		var opErr error
		stats, opErr = st.Stats(ctx)
		return opErr
	})
	return stats, err
}

// Flush flushes the active backend.
func (s *FallbackStore) Flush(ctx context.Context) error {
	return s.run(func(st Store) error { return st.Flush(ctx) })
}

// Healthy reports the active backend's health.
func (s *FallbackStore) Healthy(ctx context.Context) bool {
	return s.active().Healthy(ctx)
}

// Name returns the active backend's name.
func (s *FallbackStore) Name() string {
	return s.active().Name()
}

// Close closes both backends.
func (s *FallbackStore) Close() error {
	errPrimary := s.primary.Close()
	errFallback := s.fallback.Close()
	if errPrimary != nil {
		return errPrimary
	}
	return errFallback
}
