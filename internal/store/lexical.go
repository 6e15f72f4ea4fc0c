package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	recallerr "github.com/recallkit/recall/internal/errors"
)

// LexicalIndex wraps bleve v2 for BM25 keyword search over chunk content.
type LexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// lexicalDocument is the document shape handed to bleve.
type lexicalDocument struct {
	Content     string `json:"content"`
	HeadingPath string `json:"heading_path"`
}

// validateLexicalIntegrity checks a bleve index directory before opening.
// A missing or unparseable index_meta.json means a crashed or torn write.
func validateLexicalIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isBleveCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// NewLexicalIndex opens or creates a BM25 index at path. An empty path
// creates an in-memory index. A corrupt on-disk index is cleared and
// recreated; the next sync repopulates it.
func NewLexicalIndex(path string) (*LexicalIndex, error) {
	indexMapping := createLexicalMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, recallerr.StoreIOError("create index directory", mkErr)
		}

		if validErr := validateLexicalIntegrity(path); validErr != nil {
			slog.Warn("lexical_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, recallerr.New(recallerr.ErrCodeCorruptIndex,
					fmt.Sprintf("lexical index corrupted at %s and cannot be cleared: %v", path, removeErr), nil)
			}
			slog.Info("lexical_index_cleared", slog.String("path", path))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isBleveCorruptionError(err) {
			slog.Warn("lexical_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, recallerr.New(recallerr.ErrCodeCorruptIndex,
					fmt.Sprintf("lexical index corrupted, cannot clear: %v", removeErr), nil)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, recallerr.StoreIOError("open lexical index", err)
	}

	return &LexicalIndex{index: idx, path: path}, nil
}

// createLexicalMapping builds the index mapping. Memory content is prose,
// so the standard analyzer (unicode tokenization, lowercase, english stop
// words) fits better than a code-aware one.
func createLexicalMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = standard.Name

	docMapping := bleve.NewDocumentMapping()
	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", contentField)
	headingField := bleve.NewTextFieldMapping()
	headingField.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("heading_path", headingField)
	indexMapping.DefaultMapping = docMapping

	return indexMapping
}

// Index adds or replaces documents in the index.
func (l *LexicalIndex) Index(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return recallerr.New(recallerr.ErrCodeStoreIO, "lexical index is closed", nil)
	}

	batch := l.index.NewBatch()
	for _, rec := range records {
		doc := lexicalDocument{Content: rec.Content, HeadingPath: rec.HeadingPath}
		if err := batch.Index(rec.ChunkID, doc); err != nil {
			return recallerr.StoreIOError(fmt.Sprintf("index chunk %s", rec.ChunkID), err)
		}
	}
	if err := l.index.Batch(batch); err != nil {
		return recallerr.StoreIOError("execute index batch", err)
	}
	return nil
}

// Search returns BM25-scored hits for the query.
func (l *LexicalIndex) Search(ctx context.Context, queryStr string, limit int) ([]*Hit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, recallerr.New(recallerr.ErrCodeStoreIO, "lexical index is closed", nil)
	}
	if strings.TrimSpace(queryStr) == "" {
		return []*Hit{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	result, err := l.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, recallerr.StoreIOError("lexical search", err)
	}

	hits := make([]*Hit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, &Hit{ChunkID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

// Delete removes documents by chunk ID.
func (l *LexicalIndex) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return recallerr.New(recallerr.ErrCodeStoreIO, "lexical index is closed", nil)
	}

	batch := l.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	if err := l.index.Batch(batch); err != nil {
		return recallerr.StoreIOError("delete from lexical index", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (l *LexicalIndex) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0
	}
	count, _ := l.index.DocCount()
	return int(count)
}

// Close closes the underlying index. Bleve persists on write, so there is
// no separate flush step.
func (l *LexicalIndex) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.index != nil {
		return l.index.Close()
	}
	return nil
}
