package store

import (
	"context"
	"fmt"
	"path/filepath"

	recallerr "github.com/recallkit/recall/internal/errors"
)

// OpenConfig configures backend construction.
type OpenConfig struct {
	// Backend selects the primary backend (BackendBuiltin or BackendSQLite).
	Backend string

	// DataDir is the index data directory. Empty means in-memory (tests).
	DataDir string

	// VectorDimensions enables the builtin vector side when positive.
	VectorDimensions int
}

// sqliteStoreFileName is the alternative backend's database file.
const sqliteStoreFileName = "index.db"

// Open builds the configured primary backend paired with the other backend
// as its one-way fallback.
func Open(ctx context.Context, cfg OpenConfig) (*FallbackStore, error) {
	var sqlitePath string
	if cfg.DataDir != "" {
		sqlitePath = filepath.Join(cfg.DataDir, sqliteStoreFileName)
	}

	builtin, err := NewBuiltinStore(BuiltinConfig{
		DataDir:          cfg.DataDir,
		VectorDimensions: cfg.VectorDimensions,
	})
	if err != nil {
		return nil, err
	}

	sqlite, err := NewSQLiteStore(sqlitePath)
	if err != nil {
		_ = builtin.Close()
		return nil, err
	}

	switch cfg.Backend {
	case BackendBuiltin, "":
		return NewFallbackStore(ctx, builtin, sqlite), nil
	case BackendSQLite:
		return NewFallbackStore(ctx, sqlite, builtin), nil
	default:
		_ = builtin.Close()
		_ = sqlite.Close()
		return nil, recallerr.New(recallerr.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown store backend: %s", cfg.Backend), nil)
	}
}
