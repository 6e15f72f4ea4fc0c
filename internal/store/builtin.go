package store

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	recallerr "github.com/recallkit/recall/internal/errors"
)

// BuiltinStore is the default backend: bleve for BM25, HNSW for vectors,
// and a gob-persisted record catalog for hit rendering and source bookkeeping.
type BuiltinStore struct {
	mu       sync.RWMutex
	lexical  *LexicalIndex
	vector   *VectorIndex // nil when the vector side is disabled
	records  map[string]*Record
	bySource map[string]map[string]struct{}
	dataDir  string
	closed   bool
}

var _ Store = (*BuiltinStore)(nil)

// BuiltinConfig configures the builtin store.
type BuiltinConfig struct {
	// DataDir is the directory holding index files. Empty means fully
	// in-memory (tests).
	DataDir string

	// VectorDimensions enables the vector side when positive.
	VectorDimensions int
}

const (
	lexicalDirName  = "lexical.bleve"
	vectorFileName  = "vectors.hnsw"
	recordsFileName = "records.gob"
)

// NewBuiltinStore opens or creates the builtin backend under DataDir.
func NewBuiltinStore(cfg BuiltinConfig) (*BuiltinStore, error) {
	var lexicalPath string
	if cfg.DataDir != "" {
		lexicalPath = filepath.Join(cfg.DataDir, lexicalDirName)
	}

	lexical, err := NewLexicalIndex(lexicalPath)
	if err != nil {
		return nil, err
	}

	s := &BuiltinStore{
		lexical:  lexical,
		records:  make(map[string]*Record),
		bySource: make(map[string]map[string]struct{}),
		dataDir:  cfg.DataDir,
	}

	if cfg.VectorDimensions > 0 {
		vector, err := NewVectorIndex(VectorConfig{Dimensions: cfg.VectorDimensions})
		if err != nil {
			_ = lexical.Close()
			return nil, err
		}
		s.vector = vector

		if cfg.DataDir != "" {
			vectorPath := filepath.Join(cfg.DataDir, vectorFileName)
			if _, statErr := os.Stat(vectorPath); statErr == nil {
				if loadErr := vector.Load(vectorPath); loadErr != nil {
					// A corrupt vector file is rebuilt by the next full sync.
					_ = os.Remove(vectorPath)
					_ = os.Remove(vectorPath + ".meta")
				}
			}
		}
	}

	if cfg.DataDir != "" {
		if err := s.loadRecords(); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	return s, nil
}

// Upsert inserts or replaces records by chunk ID.
func (s *BuiltinStore) Upsert(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return recallerr.New(recallerr.ErrCodeStoreIO, "store is closed", nil)
	}

	if err := s.lexical.Index(ctx, records); err != nil {
		return err
	}

	if s.vector != nil {
		var ids []string
		var vectors [][]float32
		for _, rec := range records {
			if rec.Vector != nil {
				ids = append(ids, rec.ChunkID)
				vectors = append(vectors, rec.Vector)
			}
		}
		if err := s.vector.Add(ctx, ids, vectors); err != nil {
			return err
		}
	}

	for _, rec := range records {
		if old, exists := s.records[rec.ChunkID]; exists && old.SourcePath != rec.SourcePath {
			s.removeFromSource(old.SourcePath, rec.ChunkID)
		}
		s.records[rec.ChunkID] = rec
		if s.bySource[rec.SourcePath] == nil {
			s.bySource[rec.SourcePath] = make(map[string]struct{})
		}
		s.bySource[rec.SourcePath][rec.ChunkID] = struct{}{}
	}
	return nil
}

// Delete removes records by chunk ID.
func (s *BuiltinStore) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return recallerr.New(recallerr.ErrCodeStoreIO, "store is closed", nil)
	}
	return s.deleteLocked(ctx, chunkIDs)
}

func (s *BuiltinStore) deleteLocked(ctx context.Context, chunkIDs []string) error {
	if err := s.lexical.Delete(ctx, chunkIDs); err != nil {
		return err
	}
	if s.vector != nil {
		if err := s.vector.Delete(ctx, chunkIDs); err != nil {
			return err
		}
	}
	for _, id := range chunkIDs {
		if rec, exists := s.records[id]; exists {
			s.removeFromSource(rec.SourcePath, id)
			delete(s.records, id)
		}
	}
	return nil
}

func (s *BuiltinStore) removeFromSource(sourcePath, chunkID string) {
	if ids := s.bySource[sourcePath]; ids != nil {
		delete(ids, chunkID)
		if len(ids) == 0 {
			delete(s.bySource, sourcePath)
		}
	}
}

// DeleteBySource removes every record belonging to a source document.
func (s *BuiltinStore) DeleteBySource(ctx context.Context, sourcePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return recallerr.New(recallerr.ErrCodeStoreIO, "store is closed", nil)
	}

	ids := s.chunkIDsLocked(sourcePath)
	if len(ids) == 0 {
		return nil
	}
	return s.deleteLocked(ctx, ids)
}

// ChunkIDsBySource returns the chunk IDs indexed for a source, sorted.
func (s *BuiltinStore) ChunkIDsBySource(ctx context.Context, sourcePath string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerr.New(recallerr.ErrCodeStoreIO, "store is closed", nil)
	}
	return s.chunkIDsLocked(sourcePath), nil
}

func (s *BuiltinStore) chunkIDsLocked(sourcePath string) []string {
	set := s.bySource[sourcePath]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns a record by chunk ID, or nil when absent.
func (s *BuiltinStore) Get(ctx context.Context, chunkID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerr.New(recallerr.ErrCodeStoreIO, "store is closed", nil)
	}
	return s.records[chunkID], nil
}

// LexicalSearch returns BM25-scored hits with records attached.
func (s *BuiltinStore) LexicalSearch(ctx context.Context, query string, limit int) ([]*Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerr.New(recallerr.ErrCodeStoreIO, "store is closed", nil)
	}

	hits, err := s.lexical.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return s.attachRecords(hits), nil
}

// VectorSearch returns similarity-scored hits with records attached.
func (s *BuiltinStore) VectorSearch(ctx context.Context, query []float32, limit int) ([]*Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerr.New(recallerr.ErrCodeStoreIO, "store is closed", nil)
	}
	if s.vector == nil {
		return []*Hit{}, nil
	}

	hits, err := s.vector.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return s.attachRecords(hits), nil
}

// attachRecords fills in hit records, dropping hits whose record vanished.
func (s *BuiltinStore) attachRecords(hits []*Hit) []*Hit {
	out := make([]*Hit, 0, len(hits))
	for _, hit := range hits {
		if rec, ok := s.records[hit.ChunkID]; ok {
			hit.Record = rec
			out = append(out, hit)
		}
	}
	return out
}

// Stats returns index statistics.
func (s *BuiltinStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerr.New(recallerr.ErrCodeStoreIO, "store is closed", nil)
	}

	stats := &Stats{
		Documents: len(s.bySource),
		Chunks:    len(s.records),
	}
	if s.vector != nil {
		stats.Vectors = s.vector.Count()
		stats.Dimensions = s.vector.Dimensions()
	}
	return stats, nil
}

// Flush persists the vector graph and record catalog. Bleve persists on
// every batch, so only the in-memory structures need writing.
func (s *BuiltinStore) Flush(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return recallerr.New(recallerr.ErrCodeStoreIO, "store is closed", nil)
	}
	if s.dataDir == "" {
		return nil
	}

	if s.vector != nil {
		if err := s.vector.Save(filepath.Join(s.dataDir, vectorFileName)); err != nil {
			return err
		}
	}
	return s.saveRecords()
}

// builtinCatalog is the gob shape of the persisted record catalog.
type builtinCatalog struct {
	Records map[string]*Record
}

func (s *BuiltinStore) saveRecords() error {
	path := filepath.Join(s.dataDir, recordsFileName)
	tmpPath := path + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return recallerr.StoreIOError("create records file", err)
	}

	// Vectors live in the HNSW file; strip them to keep the catalog small.
	slim := make(map[string]*Record, len(s.records))
	for id, rec := range s.records {
		cp := *rec
		cp.Vector = nil
		slim[id] = &cp
	}

	if err := gob.NewEncoder(file).Encode(builtinCatalog{Records: slim}); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return recallerr.StoreIOError("encode records", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return recallerr.StoreIOError("close records file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return recallerr.StoreIOError("rename records file", err)
	}
	return nil
}

func (s *BuiltinStore) loadRecords() error {
	path := filepath.Join(s.dataDir, recordsFileName)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return recallerr.StoreIOError("open records file", err)
	}
	defer func() { _ = file.Close() }()

	var catalog builtinCatalog
	if err := gob.NewDecoder(file).Decode(&catalog); err != nil {
		return recallerr.New(recallerr.ErrCodeCorruptIndex,
			fmt.Sprintf("decode records catalog: %v", err), err)
	}

	s.records = catalog.Records
	if s.records == nil {
		s.records = make(map[string]*Record)
	}
	s.bySource = make(map[string]map[string]struct{})
	for id, rec := range s.records {
		if s.bySource[rec.SourcePath] == nil {
			s.bySource[rec.SourcePath] = make(map[string]struct{})
		}
		s.bySource[rec.SourcePath][id] = struct{}{}
	}
	return nil
}

// Healthy reports whether the store can serve operations.
func (s *BuiltinStore) Healthy(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// Name identifies this backend.
func (s *BuiltinStore) Name() string {
	return BackendBuiltin
}

// Close flushes and releases resources.
func (s *BuiltinStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// Flush takes the read lock; do it before marking closed.
	flushErr := s.Flush(context.Background())

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if err := s.lexical.Close(); err != nil && flushErr == nil {
		flushErr = err
	}
	if s.vector != nil {
		if err := s.vector.Close(); err != nil && flushErr == nil {
			flushErr = err
		}
	}
	return flushErr
}
