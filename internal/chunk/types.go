// Package chunk splits memory sources into retrievable units.
package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Size defaults, in bytes of content.
const (
	// DefaultMaxChunkBytes bounds a single chunk's content.
	DefaultMaxChunkBytes = 1200
	// DefaultTranscriptGroupLines is how many transcript entries are grouped
	// into one chunk.
	DefaultTranscriptGroupLines = 8
)

// Chunk is a retrievable unit of content.
type Chunk struct {
	// ID is the content-addressed identifier:
	// SHA256(source_path + "\x00" + content)[:16]. Unchanged content keeps
	// its ID across syncs, so its embedding is never recomputed. Chunkers
	// salt the hash when the same content occurs more than once in a
	// source, so byte-identical chunks still get distinct IDs.
	ID string

	// SourcePath is the absolute path of the source document.
	SourcePath string

	// Content is the chunk text.
	Content string

	// HeadingPath is the breadcrumb of markdown headings enclosing this
	// chunk ("Projects > Recall > Decisions"). Empty for transcripts.
	HeadingPath string

	// StartLine and EndLine are 1-indexed, inclusive.
	StartLine int
	EndLine   int
}

// FileInput is the input to a Chunker.
type FileInput struct {
	Path    string
	Content []byte
}

// Chunker splits a source document into chunks.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)
}

// ID computes the content-addressed chunk identifier.
func ID(sourcePath, content string) string {
	return idSalted(sourcePath, content, 0)
}

// idSalted computes the chunk identifier with a disambiguating salt for
// repeated content. Salt 0 is the unsalted form, so unique content keeps
// the IDs it has always had.
func idSalted(sourcePath, content string, salt int) string {
	h := sha256.New()
	h.Write([]byte(sourcePath))
	h.Write([]byte{0})
	h.Write([]byte(content))
	if salt != 0 {
		fmt.Fprintf(h, "\x00%d", salt)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
