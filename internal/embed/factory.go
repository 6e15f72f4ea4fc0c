package embed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	recallerr "github.com/recallkit/recall/internal/errors"
)

// Provider names accepted by the factory.
const (
	ProviderOllama = "ollama"
	ProviderStatic = "static"
	ProviderNone   = "none"
)

// FactoryConfig selects and configures an embedding provider.
type FactoryConfig struct {
	Provider   string
	Model      string
	OllamaHost string
	BatchSize  int
	CacheSize  int

	// ExpectedDimensions pins the dimensionality recorded in the index.
	ExpectedDimensions int

	Timeout time.Duration
}

// NewEmbedder builds the configured provider wrapped in an LRU cache.
// Provider "none" returns (nil, nil): retrieval runs lexical-only.
// When ollama is configured but unreachable, the factory degrades to the
// static provider rather than failing startup, unless the error is fatal.
func NewEmbedder(ctx context.Context, cfg FactoryConfig) (Embedder, error) {
	switch cfg.Provider {
	case ProviderNone:
		return nil, nil

	case ProviderStatic:
		return NewCachedEmbedder(NewStaticEmbedder(), cfg.CacheSize), nil

	case ProviderOllama:
		inner, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:               cfg.OllamaHost,
			Model:              cfg.Model,
			BatchSize:          cfg.BatchSize,
			Timeout:            cfg.Timeout,
			ExpectedDimensions: cfg.ExpectedDimensions,
		})
		if err != nil {
			if recallerr.IsFatal(err) {
				return nil, err
			}
			slog.Warn("ollama_unavailable_using_static_provider",
				slog.String("error", err.Error()))
			return NewCachedEmbedder(NewStaticEmbedder(), cfg.CacheSize), nil
		}
		return NewCachedEmbedder(inner, cfg.CacheSize), nil

	default:
		return nil, recallerr.New(recallerr.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown embedding provider: %s", cfg.Provider), nil)
	}
}
