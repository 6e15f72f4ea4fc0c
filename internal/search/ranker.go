package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/recallkit/recall/internal/embed"
	"github.com/recallkit/recall/internal/store"
)

// Default result shaping when the caller passes zero values.
const (
	DefaultMaxResults = 10
	DefaultMinScore   = 0.05

	// candidateMultiplier sizes each side's candidate pool relative to the
	// requested result count, so fusion has enough overlap to work with.
	candidateMultiplier = 4
)

// Result is one ranked retrieval hit.
type Result struct {
	ChunkID     string
	Path        string
	SourceKind  string
	HeadingPath string
	StartLine   int
	EndLine     int
	Snippet     string
	Score       float64 // fused, normalized 0..1
	ModTime     time.Time
}

// Config tunes the ranker. Zero values fall back to package defaults.
type Config struct {
	Weights         Weights
	RRFConstant     int
	Lexical         bool // lexical side enabled
	SnippetMaxBytes int
}

// Ranker runs hybrid retrieval over an index store. The embedder may be nil,
// which disables the semantic side (lexical-only mode).
type Ranker struct {
	store    store.Store
	embedder embed.Embedder
	cfg      Config
}

// NewRanker builds a ranker over the given store and optional embedder.
func NewRanker(s store.Store, e embed.Embedder, cfg Config) *Ranker {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights
	}
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = DefaultRRFConstant
	}
	if cfg.SnippetMaxBytes <= 0 {
		cfg.SnippetMaxBytes = DefaultSnippetMaxBytes
	}
	return &Ranker{store: s, embedder: e, cfg: cfg}
}

// Rank retrieves, fuses, and filters candidates for query. k caps the result
// count and minScore drops weak hits; non-positive k and negative minScore
// use the package defaults. A blank query returns no results.
//
// Either retrieval side may fail without failing the query as long as the
// other side produced candidates.
func (r *Ranker) Rank(ctx context.Context, query string, k int, minScore float64) ([]*Result, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if k <= 0 {
		k = DefaultMaxResults
	}
	if minScore < 0 {
		minScore = DefaultMinScore
	}

	lexHits, vecHits, err := r.gather(ctx, query, k*candidateMultiplier)
	if err != nil {
		return nil, err
	}

	weights := r.cfg.Weights
	if r.embedder == nil {
		weights = Weights{Lexical: 1.0}
	} else if !r.cfg.Lexical {
		weights = Weights{Semantic: 1.0}
	}

	fused := fuse(lexHits, vecHits, weights, r.cfg.RRFConstant)

	results := make([]*Result, 0, k)
	for _, h := range fused {
		if h.score < minScore {
			break
		}
		if h.record == nil {
			continue
		}
		results = append(results, &Result{
			ChunkID:     h.chunkID,
			Path:        h.record.SourcePath,
			SourceKind:  h.record.SourceKind,
			HeadingPath: h.record.HeadingPath,
			StartLine:   h.record.StartLine,
			EndLine:     h.record.EndLine,
			Snippet:     snippet(h.record.Content, r.cfg.SnippetMaxBytes),
			Score:       h.score,
			ModTime:     h.record.ModTime,
		})
		if len(results) == k {
			break
		}
	}

	slog.Debug("hybrid_rank",
		slog.Int("lexical_candidates", len(lexHits)),
		slog.Int("vector_candidates", len(vecHits)),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))

	return results, nil
}

// gather runs both retrieval sides concurrently. One side failing degrades
// to the other; both failing fails the query.
func (r *Ranker) gather(ctx context.Context, query string, pool int) (lex, vec []*store.Hit, err error) {
	g, gctx := errgroup.WithContext(ctx)

	var lexErr, vecErr error

	if r.cfg.Lexical {
		g.Go(func() error {
			lex, lexErr = r.store.LexicalSearch(gctx, query, pool)
			return nil
		})
	}

	if r.embedder != nil {
		g.Go(func() error {
			embedding, embedErr := r.embedder.Embed(gctx, query)
			if embedErr != nil {
				vecErr = embedErr
				return nil
			}
			vec, vecErr = r.store.VectorSearch(gctx, embedding, pool)
			return nil
		})
	}

	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, waitErr
	}

	if lexErr != nil && r.embedder == nil {
		return nil, nil, lexErr
	}
	if vecErr != nil && !r.cfg.Lexical {
		return nil, nil, vecErr
	}
	if lexErr != nil && vecErr != nil {
		return nil, nil, errors.Join(lexErr, vecErr)
	}
	if lexErr != nil {
		slog.Warn("lexical_search_degraded", slog.String("error", lexErr.Error()))
	}
	if vecErr != nil {
		slog.Warn("vector_search_degraded", slog.String("error", vecErr.Error()))
	}

	return lex, vec, nil
}
