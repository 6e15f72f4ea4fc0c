package index

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallkit/recall/internal/config"
	"github.com/recallkit/recall/internal/embed"
	recallerr "github.com/recallkit/recall/internal/errors"
	"github.com/recallkit/recall/internal/scanner"
	"github.com/recallkit/recall/internal/store"
)

// countingEmbedder counts texts sent to the provider, to verify that
// unchanged content never reaches it.
type countingEmbedder struct {
	embed.Embedder
	texts atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.texts.Add(1)
	return c.Embedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.texts.Add(int64(len(texts)))
	return c.Embedder.EmbedBatch(ctx, texts)
}

type testEnv struct {
	root     string
	manager  *Manager
	store    *store.BuiltinStore
	manifest *store.Manifest
	embedder *countingEmbedder
}

func newTestEnv(t *testing.T, transcripts bool) *testEnv {
	t.Helper()

	root := t.TempDir()
	embedder := &countingEmbedder{Embedder: embed.NewStaticEmbedder()}

	s, err := store.NewBuiltinStore(store.BuiltinConfig{VectorDimensions: embedder.Dimensions()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	manifest, err := store.NewManifest("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = manifest.Close() })

	sc := scanner.New(scanner.Options{
		MemoryRoot:         root,
		CuratedFile:        filepath.Join(root, "MEMORY.md"),
		IncludeCurated:     true,
		IncludeDailyLogs:   true,
		IncludeTranscripts: transcripts,
	})

	mgr := NewManager(ManagerConfig{
		Scanner:  sc,
		Store:    s,
		Manifest: manifest,
		Embedder: embedder,
		Mode:     config.SyncModeManual,
	})

	return &testEnv{root: root, manager: mgr, store: s, manifest: manifest, embedder: embedder}
}

func (e *testEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.root, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestManager_InitialSyncIndexesAllSources(t *testing.T) {
	// Given a curated file and a daily log
	env := newTestEnv(t, false)
	env.write(t, "MEMORY.md", "# Decisions\n\nDark mode is the default theme.\n")
	env.write(t, "2026-08-20.md", "# Log\n\nShipped the billing migration today.\n")
	ctx := context.Background()

	// When the first sync runs
	require.NoError(t, env.manager.SyncNow(ctx))

	// Then both documents are indexed and the state is clean
	hits, err := env.store.LexicalSearch(ctx, "dark mode theme", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	snap := env.manager.Snapshot()
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.False(t, snap.Dirty)
	assert.Equal(t, "ok", snap.LastSyncOutcome)
	assert.Equal(t, 2, snap.Documents)
}

func TestManager_UnchangedSourcesCostNothing(t *testing.T) {
	// Given a fully synced memory root
	env := newTestEnv(t, false)
	env.write(t, "MEMORY.md", "# Facts\n\nThe standup moved to nine thirty.\n")
	ctx := context.Background()
	require.NoError(t, env.manager.SyncNow(ctx))

	embedsAfterFirst := env.embedder.texts.Load()
	statsBefore, err := env.store.Stats(ctx)
	require.NoError(t, err)

	// When syncing again with no edits
	require.NoError(t, env.manager.SyncNow(ctx))

	// Then no text is re-embedded and the index is untouched
	assert.Equal(t, embedsAfterFirst, env.embedder.texts.Load())
	statsAfter, err := env.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, statsBefore.Chunks, statsAfter.Chunks)
	assert.Equal(t, statsBefore.Vectors, statsAfter.Vectors)
}

func TestManager_ModifiedDocEmbedsOnlyChangedChunks(t *testing.T) {
	// Given a document with two independent sections
	env := newTestEnv(t, false)
	path := env.write(t, "MEMORY.md",
		"# Preferences\n\nTabs are preferred in the legacy repo.\n\n# Contacts\n\nAsk Morgan about the deploy pipeline.\n")
	ctx := context.Background()
	require.NoError(t, env.manager.SyncNow(ctx))

	before := env.embedder.texts.Load()

	// When only the second section changes
	require.NoError(t, os.WriteFile(path, []byte(
		"# Preferences\n\nTabs are preferred in the legacy repo.\n\n# Contacts\n\nAsk Riley about the deploy pipeline now.\n"), 0o644))
	require.NoError(t, env.manager.SyncNow(ctx))

	// Then exactly one chunk reaches the provider
	assert.Equal(t, before+1, env.embedder.texts.Load())

	hits, err := env.store.LexicalSearch(ctx, "Riley deploy pipeline", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	// And the superseded chunk is gone
	hits, err = env.store.LexicalSearch(ctx, "Morgan", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestManager_DeletedSourceIsPurged(t *testing.T) {
	// Given an indexed daily log
	env := newTestEnv(t, false)
	env.write(t, "MEMORY.md", "# Facts\n\nKeep the retro notes short.\n")
	logPath := env.write(t, "2026-08-21.md", "# Log\n\nInterviewed the platform candidate.\n")
	ctx := context.Background()
	require.NoError(t, env.manager.SyncNow(ctx))

	// When the log is deleted and a sync runs
	require.NoError(t, os.Remove(logPath))
	require.NoError(t, env.manager.SyncNow(ctx))

	// Then its chunks and manifest entry are gone
	hits, err := env.store.LexicalSearch(ctx, "platform candidate", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	fps, err := env.manifest.Fingerprints(ctx)
	require.NoError(t, err)
	assert.NotContains(t, fps, logPath)
}

func TestManager_TranscriptSyncReadsOnlyAppendedLines(t *testing.T) {
	// Given an indexed transcript
	env := newTestEnv(t, true)
	env.write(t, "MEMORY.md", "# Facts\n\nNothing notable.\n")
	tr := env.write(t, "session-1.jsonl",
		`{"role":"user","content":"how do we rotate the signing keys"}`+"\n"+
			`{"role":"assistant","content":"the rotation runbook lives in the ops wiki"}`+"\n")
	ctx := context.Background()
	require.NoError(t, env.manager.SyncNow(ctx))

	before := env.embedder.texts.Load()

	// When two lines are appended
	f, err := os.OpenFile(tr, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"role":"user","content":"did the key rotation finish"}` + "\n" +
		`{"role":"assistant","content":"yes, rotation completed on staging and prod"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, env.manager.SyncNow(ctx))

	// Then only the appended lines were chunked and embedded
	assert.Equal(t, before+1, env.embedder.texts.Load(), "two appended lines form one chunk")

	off, err := env.manifest.Offset(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, 5, off.NextLine)

	hits, err := env.store.LexicalSearch(ctx, "rotation completed staging", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
}

func TestManager_RewrittenTranscriptReindexesFromZero(t *testing.T) {
	env := newTestEnv(t, true)
	tr := env.write(t, "session-2.jsonl",
		`{"role":"user","content":"remember the vendor contract renews in october"}`+"\n")
	ctx := context.Background()
	require.NoError(t, env.manager.SyncNow(ctx))

	// When the transcript shrinks (rewritten, not appended)
	require.NoError(t, os.WriteFile(tr, []byte(`{"role":"user","content":"fresh session"}`+"\n"), 0o644))
	require.NoError(t, env.manager.SyncNow(ctx))

	// Then the old content is purged and the new content is indexed
	hits, err := env.store.LexicalSearch(ctx, "vendor contract october", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = env.store.LexicalSearch(ctx, "fresh session", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	off, err := env.manifest.Offset(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, 2, off.NextLine)
}

func TestManager_DimensionMismatchAbortsSync(t *testing.T) {
	// Given a manifest recorded against a different embedding dimension
	env := newTestEnv(t, false)
	env.write(t, "MEMORY.md", "# Facts\n\nSomething to index.\n")
	ctx := context.Background()
	require.NoError(t, env.manifest.SetState(ctx, store.StateKeyDimensions, "768"))
	require.NoError(t, env.manifest.SetState(ctx, store.StateKeyModel, "nomic-embed-text"))

	// When a sync runs with the static embedder
	err := env.manager.SyncNow(ctx)

	// Then it aborts with a dimension mismatch and the state stays dirty
	require.Error(t, err)
	assert.True(t, recallerr.HasCode(err, recallerr.ErrCodeDimensionMismatch))

	snap := env.manager.Snapshot()
	assert.True(t, snap.Dirty)
	assert.Equal(t, "error", snap.LastSyncOutcome)
	assert.NotEmpty(t, snap.LastSyncError)
}

func TestManager_StartupSyncConvergesOfflineEdits(t *testing.T) {
	// Given sources that existed before the manager started
	env := newTestEnv(t, false)
	env.write(t, "MEMORY.md", "# Facts\n\nOffline edits must converge on boot.\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, env.manager.Start(ctx))
	defer func() { _ = env.manager.Stop() }()

	// Then the startup trigger indexes them without any explicit sync
	require.Eventually(t, func() bool {
		snap := env.manager.Snapshot()
		return snap.LastSyncOutcome == "ok" && snap.Documents == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestManager_TriggerNeverBlocks(t *testing.T) {
	env := newTestEnv(t, false)

	// A burst of triggers coalesces into at most one queued sync.
	for range 100 {
		env.manager.Trigger()
	}
	assert.Len(t, env.manager.trigger, 1)
}

// brokenWriteStore fails writes on demand, driving the fallback decorator.
type brokenWriteStore struct {
	store.Store
	failing atomic.Bool
}

func (b *brokenWriteStore) Upsert(ctx context.Context, records []*store.Record) error {
	if b.failing.Load() {
		return recallerr.New(recallerr.ErrCodeStoreIO, "simulated disk failure", nil)
	}
	return b.Store.Upsert(ctx, records)
}

func TestManager_FailoverRebuildsSurvivingBackend(t *testing.T) {
	// Given a manager over a fallback pair, with the rebuild hook wired
	root := t.TempDir()
	embedder := embed.NewStaticEmbedder()
	ctx := context.Background()

	primaryInner, err := store.NewBuiltinStore(store.BuiltinConfig{VectorDimensions: embedder.Dimensions()})
	require.NoError(t, err)
	fallbackInner, err := store.NewBuiltinStore(store.BuiltinConfig{VectorDimensions: embedder.Dimensions()})
	require.NoError(t, err)
	primary := &brokenWriteStore{Store: primaryInner}
	fs := store.NewFallbackStore(ctx, primary, fallbackInner)
	t.Cleanup(func() { _ = fs.Close() })

	manifest, err := store.NewManifest("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = manifest.Close() })

	sc := scanner.New(scanner.Options{
		MemoryRoot:       root,
		CuratedFile:      filepath.Join(root, "MEMORY.md"),
		IncludeCurated:   true,
		IncludeDailyLogs: true,
	})
	mgr := NewManager(ManagerConfig{
		Scanner:  sc,
		Store:    fs,
		Manifest: manifest,
		Embedder: embedder,
		Mode:     config.SyncModeManual,
	})
	fs.OnDegrade(mgr.InvalidateIndex)

	curated := filepath.Join(root, "MEMORY.md")
	require.NoError(t, os.WriteFile(curated, []byte("# Facts\n\nDark mode is the default theme.\n"), 0o644))
	logPath := filepath.Join(root, "2026-08-20.md")
	require.NoError(t, os.WriteFile(logPath, []byte("# Log\n\nShipped the billing migration today.\n"), 0o644))
	require.NoError(t, mgr.SyncNow(ctx))
	require.False(t, fs.Degraded())

	// When the primary dies and an edit forces a write mid-sync
	primary.failing.Store(true)
	require.NoError(t, os.WriteFile(curated, []byte("# Facts\n\nLight mode is the default theme now.\n"), 0o644))
	require.NoError(t, mgr.SyncNow(ctx))
	require.True(t, fs.Degraded())

	// Then the next sync rebuilds every source into the surviving backend,
	// including documents that were untouched since before the failover.
	require.NoError(t, mgr.SyncNow(ctx))

	hits, err := fs.LexicalSearch(ctx, "billing migration", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, logPath, hits[0].Record.SourcePath)

	hits, err = fs.LexicalSearch(ctx, "light mode", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
}
