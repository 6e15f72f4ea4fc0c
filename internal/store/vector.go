package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	recallerr "github.com/recallkit/recall/internal/errors"
)

// VectorConfig configures the HNSW vector index.
type VectorConfig struct {
	Dimensions int
	M          int
	EfSearch   int
}

// VectorIndex is an HNSW-backed nearest-neighbor index with cosine distance.
// Deletions are lazy: the node stays in the graph but loses its ID mapping,
// which sidesteps graph breakage when removing the last node.
type VectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorConfig

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

// vectorMetadata is the gob sidecar persisted next to the graph file.
type vectorMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorConfig
}

// NewVectorIndex creates an empty vector index.
func NewVectorIndex(cfg VectorConfig) (*VectorIndex, error) {
	if cfg.Dimensions <= 0 {
		return nil, recallerr.New(recallerr.ErrCodeConfigInvalid, "vector index requires positive dimensions", nil)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &VectorIndex{
		graph:  graph,
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}, nil
}

// Add inserts vectors, replacing any existing entry with the same ID.
func (s *VectorIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return recallerr.New(recallerr.ErrCodeInvalidInput,
			fmt.Sprintf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors)), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return recallerr.New(recallerr.ErrCodeStoreIO, "vector index is closed", nil)
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return recallerr.New(recallerr.ErrCodeDimensionMismatch,
				fmt.Sprintf("vector has %d dimensions, index expects %d", len(v), s.config.Dimensions), nil)
		}
	}

	for i, id := range ids {
		if existingKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}
	return nil
}

// Search returns up to k nearest neighbors by cosine similarity.
// Lazy-deleted nodes are filtered out of the results.
func (s *VectorIndex) Search(ctx context.Context, query []float32, k int) ([]*Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerr.New(recallerr.ErrCodeStoreIO, "vector index is closed", nil)
	}
	if len(query) != s.config.Dimensions {
		return nil, recallerr.New(recallerr.ErrCodeDimensionMismatch,
			fmt.Sprintf("query has %d dimensions, index expects %d", len(query), s.config.Dimensions), nil)
	}
	if s.graph.Len() == 0 {
		return []*Hit{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Over-fetch to compensate for orphans filtered below.
	slack := s.graph.Len() - len(s.idMap)
	if slack < 0 {
		slack = 0
	}
	if slack > 32 {
		slack = 32
	}
	nodes := s.graph.Search(normalized, k+slack)

	hits := make([]*Hit, 0, k)
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue
		}
		distance := s.graph.Distance(normalized, node.Value)
		hits = append(hits, &Hit{
			ChunkID: id,
			Score:   float64(1.0 - distance/2.0),
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Delete removes vectors by ID via lazy deletion.
func (s *VectorIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return recallerr.New(recallerr.ErrCodeStoreIO, "vector index is closed", nil)
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}
	return nil
}

// Contains reports whether an ID is indexed.
func (s *VectorIndex) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	_, ok := s.idMap[id]
	return ok
}

// Count returns the number of live vectors.
func (s *VectorIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// Dimensions returns the configured dimensionality.
func (s *VectorIndex) Dimensions() int {
	return s.config.Dimensions
}

// Save persists the graph and metadata sidecar atomically (temp + rename).
func (s *VectorIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return recallerr.New(recallerr.ErrCodeStoreIO, "vector index is closed", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return recallerr.StoreIOError("create vector index directory", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return recallerr.StoreIOError("create vector index file", err)
	}
	if err := s.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return recallerr.StoreIOError("export vector graph", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return recallerr.StoreIOError("close vector index file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return recallerr.StoreIOError("rename vector index file", err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *VectorIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return recallerr.StoreIOError("create vector metadata file", err)
	}

	meta := vectorMetadata{IDMap: s.idMap, NextKey: s.nextKey, Config: s.config}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return recallerr.StoreIOError("encode vector metadata", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return recallerr.StoreIOError("close vector metadata file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return recallerr.StoreIOError("rename vector metadata file", err)
	}
	return nil
}

// Load restores the graph and metadata from disk.
func (s *VectorIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return recallerr.New(recallerr.ErrCodeStoreIO, "vector index is closed", nil)
	}

	if err := s.loadMetadata(path + ".meta"); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return recallerr.StoreIOError("open vector index file", err)
	}
	defer func() { _ = file.Close() }()

	// hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return recallerr.New(recallerr.ErrCodeCorruptIndex,
			fmt.Sprintf("import vector graph: %v", err), err)
	}
	return nil
}

func (s *VectorIndex) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return recallerr.StoreIOError("open vector metadata file", err)
	}
	defer func() { _ = file.Close() }()

	var meta vectorMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return recallerr.New(recallerr.ErrCodeCorruptIndex,
			fmt.Sprintf("decode vector metadata: %v", err), err)
	}

	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.config = meta.Config
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		s.keyMap[key] = id
	}
	return nil
}

// ReadVectorIndexDimensions reads the dimensionality recorded in an existing
// index's metadata sidecar. Returns 0 when no index exists yet.
func ReadVectorIndexDimensions(vectorPath string) (int, error) {
	file, err := os.Open(vectorPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, recallerr.StoreIOError("open vector metadata file", err)
	}
	defer func() { _ = file.Close() }()

	var meta vectorMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return 0, recallerr.New(recallerr.ErrCodeCorruptIndex,
			fmt.Sprintf("decode vector metadata: %v", err), err)
	}
	return meta.Config.Dimensions, nil
}

// Close releases the graph.
func (s *VectorIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
