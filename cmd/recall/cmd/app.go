package cmd

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/recallkit/recall/internal/config"
	"github.com/recallkit/recall/internal/embed"
	"github.com/recallkit/recall/internal/index"
	"github.com/recallkit/recall/internal/mcp"
	"github.com/recallkit/recall/internal/scanner"
	"github.com/recallkit/recall/internal/search"
	"github.com/recallkit/recall/internal/store"
	"github.com/recallkit/recall/internal/watcher"
)

// app is the wired component graph shared by the serving commands.
type app struct {
	cfg      *config.Config
	store    *store.FallbackStore
	manifest *store.Manifest
	embedder embed.Embedder
	manager  *index.Manager
	ranker   *search.Ranker
	guard    *mcp.Guard
	lock     *store.DirLock
}

// newApp builds the full pipeline from configuration. withLock guards the
// data directory against a second writing process; read-only commands
// (search, get, status) skip it.
func newApp(ctx context.Context, cfg *config.Config, withLock bool) (*app, error) {
	a := &app{cfg: cfg}

	if withLock {
		a.lock = store.NewDirLock(cfg.DataDir)
		if err := a.lock.Acquire(); err != nil {
			return nil, err
		}
	}

	provider := strings.ToLower(cfg.Embeddings.Provider)
	if provider == "" {
		provider = embed.ProviderStatic
	}
	embedder, err := embed.NewEmbedder(ctx, embed.FactoryConfig{
		Provider:   provider,
		Model:      cfg.Embeddings.Model,
		OllamaHost: cfg.Embeddings.OllamaHost,
		BatchSize:  cfg.Embeddings.BatchSize,
		CacheSize:  cfg.Embeddings.CacheSize,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.embedder = embedder

	dims := 0
	if embedder != nil {
		dims = embedder.Dimensions()
	}
	st, err := store.Open(ctx, store.OpenConfig{
		Backend:          cfg.Store.Backend,
		DataDir:          cfg.DataDir,
		VectorDimensions: dims,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = st

	manifest, err := store.NewManifest(filepath.Join(cfg.DataDir, "manifest.db"))
	if err != nil {
		a.close()
		return nil, err
	}
	a.manifest = manifest

	scan := scanner.New(scanner.Options{
		MemoryRoot:         cfg.MemoryRoot,
		CuratedFile:        cfg.CuratedFile,
		IncludeCurated:     cfg.Sources.Curated,
		IncludeDailyLogs:   cfg.Sources.DailyLogs,
		IncludeTranscripts: cfg.Sources.Transcripts,
	})

	var w watcher.Watcher
	if cfg.Sync.Mode == config.SyncModeDebounce {
		w = watcher.NewHybridWatcher(watcher.Options{
			DebounceWindow: cfg.Sync.Debounce,
			IgnoreDirs:     []string{filepath.Base(cfg.DataDir)},
		})
	}

	a.manager = index.NewManager(index.ManagerConfig{
		Scanner:   scan,
		Store:     st,
		Manifest:  manifest,
		Embedder:  embedder,
		Watcher:   w,
		WatchRoot: cfg.MemoryRoot,
		Mode:      cfg.Sync.Mode,
		Interval:  cfg.Sync.Interval,
	})

	// On failover the surviving backend starts empty; a full re-index
	// repopulates it. Fires immediately if the startup probe already failed.
	st.OnDegrade(a.manager.InvalidateIndex)

	a.ranker = search.NewRanker(st, embedder, search.Config{
		Weights: search.Weights{
			Lexical:  cfg.Search.LexicalWeight,
			Semantic: cfg.Search.SemanticWeight,
		},
		RRFConstant:     cfg.Search.RRFConstant,
		Lexical:         cfg.Search.Lexical,
		SnippetMaxBytes: cfg.Search.SnippetMaxBytes,
	})

	a.guard, err = mcp.NewGuard(mcp.GuardConfig{
		MemoryRoot:        cfg.MemoryRoot,
		CuratedFile:       cfg.CuratedFile,
		ExtraPaths:        cfg.ExtraPaths,
		AllowedExtensions: cfg.Get.AllowedExtensions,
		OnDeny:            a.manager.CountDeniedRead,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

// close releases components in reverse construction order.
func (a *app) close() {
	if a.manifest != nil {
		_ = a.manifest.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.lock != nil {
		_ = a.lock.Release()
	}
}
