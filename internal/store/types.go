// Package store implements the index backends for memory retrieval.
//
// Two backends exist: the builtin store (bleve BM25 + HNSW vectors) and the
// sqlite store (FTS5 + brute-force cosine). Both satisfy Store; the fallback
// decorator composes them for degraded operation.
package store

import (
	"context"
	"time"
)

// Record is one indexed chunk with everything needed to render a hit.
type Record struct {
	// ChunkID is the content-addressed chunk identifier.
	ChunkID string

	// SourcePath is the absolute path of the source document.
	SourcePath string

	// SourceKind classifies the source (curated-memory, daily-log, transcript).
	SourceKind string

	// HeadingPath is the markdown heading breadcrumb, empty for transcripts.
	HeadingPath string

	// Content is the chunk text.
	Content string

	// StartLine and EndLine are 1-indexed, inclusive.
	StartLine int
	EndLine   int

	// ModTime is the source document's modification time, used for ranking
	// tie-breaks.
	ModTime time.Time

	// Vector is the chunk embedding; nil when the vector side is disabled.
	Vector []float32
}

// Hit is one search result from a single retrieval channel.
type Hit struct {
	ChunkID string
	Score   float64
	Record  *Record
}

// Stats summarizes the index contents.
type Stats struct {
	Documents  int // distinct source documents
	Chunks     int
	Vectors    int
	Dimensions int
}

// Store is the index backend contract. Implementations are safe for
// concurrent readers with a single writer.
type Store interface {
	// Upsert inserts or replaces records by chunk ID.
	Upsert(ctx context.Context, records []*Record) error

	// Delete removes records by chunk ID. Unknown IDs are ignored.
	Delete(ctx context.Context, chunkIDs []string) error

	// DeleteBySource removes every record belonging to a source document.
	DeleteBySource(ctx context.Context, sourcePath string) error

	// ChunkIDsBySource returns the chunk IDs currently indexed for a source.
	ChunkIDsBySource(ctx context.Context, sourcePath string) ([]string, error)

	// Get returns a record by chunk ID, or nil when absent.
	Get(ctx context.Context, chunkID string) (*Record, error)

	// LexicalSearch returns BM25-scored hits for a keyword query.
	LexicalSearch(ctx context.Context, query string, limit int) ([]*Hit, error)

	// VectorSearch returns similarity-scored hits for a query embedding.
	VectorSearch(ctx context.Context, query []float32, limit int) ([]*Hit, error)

	// Stats returns index statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Flush persists in-memory state to disk.
	Flush(ctx context.Context) error

	// Healthy reports whether the backend can currently serve operations.
	Healthy(ctx context.Context) bool

	// Name identifies the backend ("builtin", "sqlite", or the active side
	// of a fallback pair).
	Name() string

	// Close flushes and releases resources.
	Close() error
}

// Backend names.
const (
	BackendBuiltin = "builtin"
	BackendSQLite  = "sqlite"
)
