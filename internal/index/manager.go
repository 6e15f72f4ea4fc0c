package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/recallkit/recall/internal/chunk"
	"github.com/recallkit/recall/internal/config"
	"github.com/recallkit/recall/internal/embed"
	recallerr "github.com/recallkit/recall/internal/errors"
	"github.com/recallkit/recall/internal/scanner"
	"github.com/recallkit/recall/internal/store"
	"github.com/recallkit/recall/internal/watcher"
)

// ManagerConfig wires the sync pipeline's dependencies.
type ManagerConfig struct {
	// Scanner discovers and fingerprints canonical sources.
	Scanner *scanner.Scanner

	// Store is the index backend (usually the fallback decorator).
	Store store.Store

	// Manifest persists fingerprints, transcript offsets, and index state.
	Manifest *store.Manifest

	// Embedder generates chunk vectors; nil runs lexical-only.
	Embedder embed.Embedder

	// Markdown chunks curated memory and daily logs; Transcript chunks
	// appended transcript lines.
	Markdown   chunk.Chunker
	Transcript *chunk.TranscriptChunker

	// Watcher feeds debounced change batches; nil disables watch mode.
	Watcher watcher.Watcher

	// WatchRoot is the directory the watcher observes.
	WatchRoot string

	// Mode selects the trigger policy; Interval is the periodic safety-net
	// timer (also the sole trigger in interval mode).
	Mode     config.SyncMode
	Interval time.Duration
}

// Manager owns all index writes. One sync goroutine consumes a coalescing
// trigger channel; searches read the store concurrently and never block on
// a sync in progress.
type Manager struct {
	cfg     ManagerConfig
	tracker *stateTracker

	trigger chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// syncMu enforces the single-writer discipline across the background
	// loop and explicit SyncNow calls.
	syncMu sync.Mutex
}

// degrader is implemented by the fallback store decorator.
type degrader interface{ Degraded() bool }

// NewManager creates an index manager. Call Start to begin background
// syncing, or drive it manually with SyncNow.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Transcript == nil {
		cfg.Transcript = chunk.NewTranscriptChunker()
	}
	if cfg.Markdown == nil {
		cfg.Markdown = chunk.NewMarkdownChunker()
	}
	return &Manager{
		cfg:     cfg,
		tracker: newStateTracker(),
		trigger: make(chan struct{}, 1),
	}
}

// Snapshot returns the current sync state.
func (m *Manager) Snapshot() SyncState {
	snap := m.tracker.Snapshot()
	snap.Backend = m.cfg.Store.Name()
	if d, ok := m.cfg.Store.(degrader); ok {
		snap.Degraded = d.Degraded()
	}
	return snap
}

// CountDeniedRead records a path-guard denial in the status counters.
func (m *Manager) CountDeniedRead() {
	m.tracker.CountDeniedRead()
}

// InvalidateIndex drops every recorded fingerprint and schedules a sync, so
// the next pass re-indexes all sources from scratch. The fallback store
// calls this on failover: the surviving backend never saw the writes that
// went to the failed one, so the manifest's "indexed" claims no longer hold.
func (m *Manager) InvalidateIndex() {
	ctx := context.Background()

	fps, err := m.cfg.Manifest.Fingerprints(ctx)
	if err != nil {
		slog.Error("index_invalidate_failed", slog.String("error", err.Error()))
		return
	}
	for path := range fps {
		if err := m.cfg.Manifest.ForgetSource(ctx, path); err != nil {
			slog.Error("index_invalidate_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return
		}
	}

	m.tracker.update(func(s *SyncState) { s.Dirty = true })
	slog.Info("index_invalidated", slog.Int("sources", len(fps)))
	m.Trigger()
}

// Start launches the sync loop and, in debounce mode, the file watcher.
// The first sync always runs a full scan so offline edits converge.
func (m *Manager) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if m.cfg.Mode == config.SyncModeDebounce && m.cfg.Watcher != nil {
		if err := m.cfg.Watcher.Start(ctx, m.cfg.WatchRoot); err != nil {
			slog.Warn("watcher_start_failed",
				slog.String("root", m.cfg.WatchRoot),
				slog.String("error", err.Error()))
		} else {
			m.wg.Add(1)
			go m.consumeWatcher(ctx)
		}
	}

	m.wg.Add(1)
	go m.run(ctx)

	m.Trigger()
	return nil
}

// Stop halts the sync loop and flushes the store.
func (m *Manager) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.cfg.Watcher != nil {
		_ = m.cfg.Watcher.Stop()
	}
	m.wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.cfg.Store.Flush(flushCtx)
}

// Trigger requests a sync. A queued trigger is superseded rather than
// stacked: the next sync pass covers all changes since the last one.
func (m *Manager) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// SyncNow runs one full sync pass synchronously.
func (m *Manager) SyncNow(ctx context.Context) error {
	return m.syncOnce(ctx)
}

// run is the single sync goroutine.
func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	var tickC <-chan time.Time
	if m.cfg.Mode != config.SyncModeManual && m.cfg.Interval > 0 {
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.trigger:
		case <-tickC:
		}

		if err := m.syncOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Error("sync_failed", slog.String("error", err.Error()))
		}
	}
}

// consumeWatcher turns watcher batches into sync triggers.
func (m *Manager) consumeWatcher(ctx context.Context) {
	defer m.wg.Done()

	events := m.cfg.Watcher.Events()
	errs := m.cfg.Watcher.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-events:
			if !ok {
				return
			}
			slog.Debug("watch_batch_received", slog.Int("events", len(batch)))
			m.Trigger()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

// syncOnce runs the incremental pipeline: scan, diff, chunk, embed missing
// chunks, write, and update the manifest. Unchanged documents produce no
// provider calls and no index writes.
func (m *Manager) syncOnce(ctx context.Context) error {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	start := time.Now()
	m.tracker.update(func(s *SyncState) { s.Phase = PhaseScanning })

	prev, err := m.cfg.Manifest.Fingerprints(ctx)
	if err != nil {
		return m.finishSync(ctx, nil, err)
	}

	changes, srcErrs, err := m.cfg.Scanner.Scan(ctx, prev)
	if err != nil {
		return m.finishSync(ctx, nil, err)
	}
	for _, serr := range srcErrs {
		slog.Warn("source_read_failed", slog.String("error", serr.Error()))
	}

	var dirty []scanner.Change
	for _, ch := range changes {
		if ch.Kind != scanner.Unchanged {
			dirty = append(dirty, ch)
		}
	}
	if len(dirty) == 0 {
		return m.finishSync(ctx, nil, nil)
	}

	dirtyPaths := make([]string, len(dirty))
	for i, ch := range dirty {
		dirtyPaths[i] = ch.Path
	}
	m.tracker.update(func(s *SyncState) {
		s.Phase = PhaseSyncing
		s.Dirty = true
		s.DirtySources = dirtyPaths
	})

	if err := m.checkDimensions(ctx); err != nil {
		return m.finishSync(ctx, dirtyPaths, err)
	}

	var firstErr error
	remaining := make([]string, 0, len(dirty))
	for _, ch := range dirty {
		if ctx.Err() != nil {
			return m.finishSync(ctx, dirtyPaths, ctx.Err())
		}

		var serr error
		switch {
		case ch.Kind == scanner.Removed:
			serr = m.removeSource(ctx, ch.Path)
		case ch.SourceKind == scanner.KindTranscript:
			serr = m.syncTranscript(ctx, ch)
		default:
			serr = m.syncDocument(ctx, ch)
		}
		if serr != nil {
			slog.Warn("source_sync_failed",
				slog.String("path", ch.Path),
				slog.String("change", ch.Kind.String()),
				slog.String("error", serr.Error()))
			remaining = append(remaining, ch.Path)
			if firstErr == nil {
				firstErr = serr
			}
		}
	}

	if err := m.cfg.Store.Flush(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	slog.Info("sync_complete",
		slog.Int("changed_sources", len(dirty)),
		slog.Int("failed_sources", len(remaining)),
		slog.Duration("duration", time.Since(start)))

	return m.finishSync(ctx, remaining, firstErr)
}

// finishSync records the sync outcome and returns err unchanged.
func (m *Manager) finishSync(ctx context.Context, remaining []string, err error) error {
	now := time.Now()
	if err == nil {
		_ = m.cfg.Manifest.SetState(ctx, store.StateKeyLastSync, now.UTC().Format(time.RFC3339))
	}

	docs, chunks := m.counts(ctx)
	sort.Strings(remaining)

	m.tracker.update(func(s *SyncState) {
		s.Phase = PhaseIdle
		s.LastSyncTime = now
		s.Documents = docs
		s.Chunks = chunks
		s.DirtySources = remaining
		s.Dirty = len(remaining) > 0 || err != nil
		if err != nil {
			s.LastSyncOutcome = "error"
			s.LastSyncError = err.Error()
		} else {
			s.LastSyncOutcome = "ok"
			s.LastSyncError = ""
		}
	})
	return err
}

func (m *Manager) counts(ctx context.Context) (docs, chunks int) {
	stats, err := m.cfg.Store.Stats(ctx)
	if err != nil {
		return 0, 0
	}
	return stats.Documents, stats.Chunks
}

// checkDimensions verifies the embedder still matches the index. A changed
// dimension invalidates every stored vector, so sync refuses to mix them.
func (m *Manager) checkDimensions(ctx context.Context) error {
	if m.cfg.Embedder == nil {
		return nil
	}

	dims := m.cfg.Embedder.Dimensions()
	recorded, err := m.cfg.Manifest.GetState(ctx, store.StateKeyDimensions)
	if err != nil {
		return err
	}
	if recorded == "" {
		if err := m.cfg.Manifest.SetState(ctx, store.StateKeyDimensions, strconv.Itoa(dims)); err != nil {
			return err
		}
		return m.cfg.Manifest.SetState(ctx, store.StateKeyModel, m.cfg.Embedder.ModelName())
	}

	recordedDims, err := strconv.Atoi(recorded)
	if err != nil {
		return m.cfg.Manifest.SetState(ctx, store.StateKeyDimensions, strconv.Itoa(dims))
	}
	if recordedDims != dims {
		model, _ := m.cfg.Manifest.GetState(ctx, store.StateKeyModel)
		return recallerr.New(recallerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("index has %d-dimension vectors (%s) but embedder %s produces %d: reindex or restore the original model",
				recordedDims, model, m.cfg.Embedder.ModelName(), dims), nil)
	}

	if model, _ := m.cfg.Manifest.GetState(ctx, store.StateKeyModel); model != m.cfg.Embedder.ModelName() {
		slog.Warn("embedding_model_changed",
			slog.String("recorded", model),
			slog.String("current", m.cfg.Embedder.ModelName()))
		_ = m.cfg.Manifest.SetState(ctx, store.StateKeyModel, m.cfg.Embedder.ModelName())
	}
	return nil
}

// removeSource purges a deleted source from the index and manifest.
func (m *Manager) removeSource(ctx context.Context, path string) error {
	if err := m.cfg.Store.DeleteBySource(ctx, path); err != nil {
		return err
	}
	slog.Debug("source_removed", slog.String("path", path))
	return m.cfg.Manifest.ForgetSource(ctx, path)
}

// syncDocument re-indexes a whole markdown document. Chunk IDs are content
// addressed, so unchanged regions reuse their stored vectors and only new
// chunks reach the embedding provider.
func (m *Manager) syncDocument(ctx context.Context, ch scanner.Change) error {
	content, err := os.ReadFile(ch.Path)
	if err != nil {
		return recallerr.SourceReadError(ch.Path, err)
	}

	chunks, err := m.cfg.Markdown.Chunk(ctx, &chunk.FileInput{Path: ch.Path, Content: content})
	if err != nil {
		return err
	}

	existingIDs, err := m.cfg.Store.ChunkIDsBySource(ctx, ch.Path)
	if err != nil {
		return err
	}
	existing := make(map[string]struct{}, len(existingIDs))
	for _, id := range existingIDs {
		existing[id] = struct{}{}
	}

	var toEmbed []*chunk.Chunk
	current := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		current[c.ID] = struct{}{}
		if _, ok := existing[c.ID]; !ok {
			toEmbed = append(toEmbed, c)
		}
	}

	vectors, err := m.embedChunks(ctx, toEmbed)
	if err != nil {
		return err
	}

	// The document may have moved on while embeddings were in flight; a
	// stale result must not overwrite newer state. The source stays dirty
	// and the next pass redoes it.
	if moved, err := fingerprintMoved(ch.Path, ch.Fingerprint); err != nil {
		return err
	} else if moved {
		slog.Debug("sync_result_discarded", slog.String("path", ch.Path))
		return nil
	}

	records := make([]*store.Record, 0, len(chunks))
	for _, c := range chunks {
		rec := &store.Record{
			ChunkID:     c.ID,
			SourcePath:  c.SourcePath,
			SourceKind:  string(ch.SourceKind),
			HeadingPath: c.HeadingPath,
			Content:     c.Content,
			StartLine:   c.StartLine,
			EndLine:     c.EndLine,
			ModTime:     ch.ModTime,
		}
		if vec, ok := vectors[c.ID]; ok {
			rec.Vector = vec
		} else if _, kept := existing[c.ID]; kept && m.cfg.Embedder != nil {
			old, gerr := m.cfg.Store.Get(ctx, c.ID)
			if gerr == nil && old != nil {
				rec.Vector = old.Vector
			}
		}
		records = append(records, rec)
	}

	if err := m.cfg.Store.Upsert(ctx, records); err != nil {
		return err
	}

	var stale []string
	for _, id := range existingIDs {
		if _, ok := current[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := m.cfg.Store.Delete(ctx, stale); err != nil {
			return err
		}
	}

	slog.Debug("document_synced",
		slog.String("path", ch.Path),
		slog.Int("chunks", len(chunks)),
		slog.Int("embedded", len(toEmbed)),
		slog.Int("stale_removed", len(stale)))

	return m.cfg.Manifest.RecordSource(ctx, store.SourceEntry{
		Path:        ch.Path,
		Fingerprint: ch.Fingerprint,
		SourceKind:  string(ch.SourceKind),
		ModTime:     ch.ModTime,
		ChunkCount:  len(chunks),
	})
}

// syncTranscript indexes only the lines appended since the recorded byte
// offset. A rewritten (shrunken) transcript is purged and re-read from zero.
func (m *Manager) syncTranscript(ctx context.Context, ch scanner.Change) error {
	off, err := m.cfg.Manifest.Offset(ctx, ch.Path)
	if err != nil {
		return err
	}

	delta, err := scanner.ReadTranscriptDelta(ch.Path, off.Offset, off.NextLine)
	if err != nil {
		return recallerr.SourceReadError(ch.Path, err)
	}

	if delta.Reset {
		slog.Info("transcript_rewritten", slog.String("path", ch.Path))
		if err := m.cfg.Store.DeleteBySource(ctx, ch.Path); err != nil {
			return err
		}
	}

	if len(delta.Lines) > 0 {
		chunks := m.cfg.Transcript.ChunkLines(ch.Path, delta.Lines, delta.StartLine)
		vectors, err := m.embedChunks(ctx, chunks)
		if err != nil {
			return err
		}

		records := make([]*store.Record, 0, len(chunks))
		for _, c := range chunks {
			records = append(records, &store.Record{
				ChunkID:    c.ID,
				SourcePath: c.SourcePath,
				SourceKind: string(scanner.KindTranscript),
				Content:    c.Content,
				StartLine:  c.StartLine,
				EndLine:    c.EndLine,
				ModTime:    ch.ModTime,
				Vector:     vectors[c.ID],
			})
		}
		if err := m.cfg.Store.Upsert(ctx, records); err != nil {
			return err
		}

		slog.Debug("transcript_synced",
			slog.String("path", ch.Path),
			slog.Int("new_lines", len(delta.Lines)),
			slog.Int("chunks", len(chunks)))
	}

	next := store.TranscriptOffset{
		Offset:   delta.NewOffset,
		NextLine: delta.StartLine + len(delta.Lines),
	}
	if err := m.cfg.Manifest.RecordOffset(ctx, ch.Path, next); err != nil {
		return err
	}

	return m.cfg.Manifest.RecordSource(ctx, store.SourceEntry{
		Path:        ch.Path,
		Fingerprint: ch.Fingerprint,
		SourceKind:  string(scanner.KindTranscript),
		ModTime:     ch.ModTime,
		ChunkCount:  len(delta.Lines),
	})
}

// embedChunks returns chunk ID → vector for the given chunks, or an empty
// map in lexical-only mode.
func (m *Manager) embedChunks(ctx context.Context, chunks []*chunk.Chunk) (map[string][]float32, error) {
	out := make(map[string][]float32, len(chunks))
	if m.cfg.Embedder == nil || len(chunks) == 0 {
		return out, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := m.cfg.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, c := range chunks {
		out[c.ID] = vecs[i]
	}
	return out, nil
}

// fingerprintMoved reports whether the file's content no longer matches the
// fingerprint this sync pass was computed from.
func fingerprintMoved(path, fingerprint string) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, recallerr.SourceReadError(path, err)
	}
	return scanner.Fingerprint(content) != fingerprint, nil
}
