package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManifest(t *testing.T) *Manifest {
	t.Helper()
	m, err := NewManifest("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManifest_FingerprintsRoundTrip(t *testing.T) {
	m := newManifest(t)
	ctx := context.Background()

	require.NoError(t, m.RecordSource(ctx, SourceEntry{
		Path:        "/m/MEMORY.md",
		Fingerprint: "abc123",
		SourceKind:  "curated-memory",
		ModTime:     time.Now(),
		ChunkCount:  4,
	}))

	fps, err := m.Fingerprints(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"/m/MEMORY.md": "abc123"}, fps)
}

func TestManifest_ForgetSourceRemovesOffsetToo(t *testing.T) {
	m := newManifest(t)
	ctx := context.Background()

	require.NoError(t, m.RecordSource(ctx, SourceEntry{
		Path: "/m/session.jsonl", Fingerprint: "f1", SourceKind: "transcript", ModTime: time.Now(),
	}))
	require.NoError(t, m.RecordOffset(ctx, "/m/session.jsonl", TranscriptOffset{Offset: 512, NextLine: 20}))

	require.NoError(t, m.ForgetSource(ctx, "/m/session.jsonl"))

	fps, err := m.Fingerprints(ctx)
	require.NoError(t, err)
	assert.Empty(t, fps)

	off, err := m.Offset(ctx, "/m/session.jsonl")
	require.NoError(t, err)
	assert.Equal(t, int64(0), off.Offset)
	assert.Equal(t, 1, off.NextLine)
}

func TestManifest_OffsetDefaultsForUnknownTranscript(t *testing.T) {
	m := newManifest(t)

	off, err := m.Offset(context.Background(), "/m/never-seen.jsonl")
	require.NoError(t, err)
	assert.Equal(t, int64(0), off.Offset)
	assert.Equal(t, 1, off.NextLine)
}

func TestManifest_StateRoundTrip(t *testing.T) {
	m := newManifest(t)
	ctx := context.Background()

	val, err := m.GetState(ctx, StateKeyModel)
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, m.SetState(ctx, StateKeyModel, "nomic-embed-text"))
	require.NoError(t, m.SetState(ctx, StateKeyDimensions, "768"))

	val, err = m.GetState(ctx, StateKeyModel)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", val)
}

func TestManifest_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.db")
	ctx := context.Background()

	m, err := NewManifest(path)
	require.NoError(t, err)
	require.NoError(t, m.RecordSource(ctx, SourceEntry{
		Path: "/m/a.md", Fingerprint: "fp1", SourceKind: "daily-log", ModTime: time.Now(),
	}))
	require.NoError(t, m.RecordOffset(ctx, "/m/t.jsonl", TranscriptOffset{Offset: 99, NextLine: 5}))
	require.NoError(t, m.Close())

	reopened, err := NewManifest(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	fps, err := reopened.Fingerprints(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fp1", fps["/m/a.md"])

	off, err := reopened.Offset(ctx, "/m/t.jsonl")
	require.NoError(t, err)
	assert.Equal(t, int64(99), off.Offset)
	assert.Equal(t, 5, off.NextLine)
}
