package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig("/mem")

	assert.Equal(t, "/mem", cfg.MemoryRoot)
	assert.Equal(t, filepath.Join("/mem", "MEMORY.md"), cfg.CuratedFile)
	assert.Equal(t, SyncModeDebounce, cfg.Sync.Mode)
	assert.Equal(t, 0.6, cfg.Search.LexicalWeight)
	assert.Equal(t, 0.4, cfg.Search.SemanticWeight)
	assert.True(t, cfg.Search.Lexical)
	assert.Equal(t, "builtin", cfg.Store.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(DefaultPath(dir))

	require.NoError(t, err)
	assert.Equal(t, dir, cfg.MemoryRoot)
	assert.Equal(t, 10, cfg.Search.MaxResults)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	// Given: a config file that only sets the provider and debounce
	dir := t.TempDir()
	path := DefaultPath(dir)
	content := "memory_root: " + dir + "\nembeddings:\n  provider: ollama\nsync:\n  debounce: 250ms\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// When: loaded
	cfg, err := Load(path)

	// Then: explicit values apply, everything else defaults
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.Debounce)
	assert.Equal(t, 700, cfg.Search.SnippetMaxBytes)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RECALL_PROVIDER", "none")
	t.Setenv("RECALL_SYNC_MODE", "manual")

	cfg, err := Load(DefaultPath(dir))

	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Embeddings.Provider)
	assert.Equal(t, SyncModeManual, cfg.Sync.Mode)
	assert.True(t, cfg.VectorDisabled())
}

func TestValidate_RejectsBothSidesDisabled(t *testing.T) {
	cfg := NewConfig("/mem")
	cfg.Search.Lexical = false
	cfg.Embeddings.Provider = "none"

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one")
}

func TestValidate_RejectsBadWeights(t *testing.T) {
	cfg := NewConfig("/mem")
	cfg.Search.LexicalWeight = 0.8
	cfg.Search.SemanticWeight = 0.8

	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownSyncMode(t *testing.T) {
	cfg := NewConfig("/mem")
	cfg.Sync.Mode = "eventually"

	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsGetWindowInversion(t *testing.T) {
	cfg := NewConfig("/mem")
	cfg.Get.DefaultLines = 500
	cfg.Get.MaxLines = 400

	assert.Error(t, cfg.Validate())
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := DefaultPath(dir)

	cfg := NewConfig(dir)
	cfg.Search.MinScore = 0.2
	cfg.ExtraPaths = []string{filepath.Join(dir, "notes")}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.2, loaded.Search.MinScore)
	assert.Equal(t, cfg.ExtraPaths, loaded.ExtraPaths)
}
