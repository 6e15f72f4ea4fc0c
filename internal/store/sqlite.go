package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no CGO

	recallerr "github.com/recallkit/recall/internal/errors"
)

// SQLiteStore is the alternative backend: one WAL-mode database holding the
// record catalog, an FTS5 table for BM25, and embedding blobs scanned with
// brute-force cosine. Simpler operationally than the builtin pair of index
// files, slower on large vector sets.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

// validateSQLiteIntegrity runs a quick integrity check before opening.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteStore opens or creates the sqlite backend. Empty path means
// in-memory (tests). A corrupt database is cleared and recreated; the next
// sync repopulates it.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, recallerr.StoreIOError("create store directory", err)
		}

		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			slog.Warn("sqlite_store_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, recallerr.New(recallerr.ErrCodeCorruptIndex,
					fmt.Sprintf("sqlite store corrupted at %s and cannot be cleared: %v", path, removeErr), nil)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
			slog.Info("sqlite_store_cleared", slog.String("path", path))
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, recallerr.StoreIOError("open sqlite store", err)
	}

	// Single writer keeps lock contention out of the WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores journal params in the DSN; set via PRAGMA.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, recallerr.StoreIOError("set pragma", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, recallerr.StoreIOError("initialize schema", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id     TEXT PRIMARY KEY,
		source_path  TEXT NOT NULL,
		source_kind  TEXT NOT NULL,
		heading_path TEXT NOT NULL DEFAULT '',
		content      TEXT NOT NULL,
		start_line   INTEGER NOT NULL,
		end_line     INTEGER NOT NULL,
		mod_time     INTEGER NOT NULL,
		vector       BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_path);

	CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks USING fts5(
		chunk_id UNINDEXED,
		content,
		heading_path,
		tokenize='unicode61'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert inserts or replaces records by chunk ID.
func (s *SQLiteStore) Upsert(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return recallerr.New(recallerr.ErrCodeStoreIO, "store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return recallerr.StoreIOError("begin upsert transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range records {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM fts_chunks WHERE chunk_id = ?`, rec.ChunkID); err != nil {
			return recallerr.StoreIOError("clear fts row", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO chunks
			(chunk_id, source_path, source_kind, heading_path, content, start_line, end_line, mod_time, vector)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ChunkID, rec.SourcePath, rec.SourceKind, rec.HeadingPath,
			rec.Content, rec.StartLine, rec.EndLine, rec.ModTime.UnixNano(),
			encodeVector(rec.Vector)); err != nil {
			return recallerr.StoreIOError(fmt.Sprintf("upsert chunk %s", rec.ChunkID), err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fts_chunks (chunk_id, content, heading_path) VALUES (?, ?, ?)`,
			rec.ChunkID, rec.Content, rec.HeadingPath); err != nil {
			return recallerr.StoreIOError("insert fts row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return recallerr.StoreIOError("commit upsert", err)
	}
	return nil
}

// Delete removes records by chunk ID.
func (s *SQLiteStore) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return recallerr.New(recallerr.ErrCodeStoreIO, "store is closed", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return recallerr.StoreIOError("begin delete transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range chunkIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE chunk_id = ?`, id); err != nil {
			return recallerr.StoreIOError("delete chunk", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM fts_chunks WHERE chunk_id = ?`, id); err != nil {
			return recallerr.StoreIOError("delete fts row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return recallerr.StoreIOError("commit delete", err)
	}
	return nil
}

// DeleteBySource removes every record belonging to a source document.
func (s *SQLiteStore) DeleteBySource(ctx context.Context, sourcePath string) error {
	ids, err := s.ChunkIDsBySource(ctx, sourcePath)
	if err != nil {
		return err
	}
	return s.Delete(ctx, ids)
}

// ChunkIDsBySource returns the chunk IDs indexed for a source, sorted.
func (s *SQLiteStore) ChunkIDsBySource(ctx context.Context, sourcePath string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerr.New(recallerr.ErrCodeStoreIO, "store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id FROM chunks WHERE source_path = ?`, sourcePath)
	if err != nil {
		return nil, recallerr.StoreIOError("query chunks by source", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, recallerr.StoreIOError("scan chunk id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, recallerr.StoreIOError("iterate chunk ids", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Get returns a record by chunk ID, or nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, chunkID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerr.New(recallerr.ErrCodeStoreIO, "store is closed", nil)
	}
	return s.getLocked(ctx, chunkID)
}

func (s *SQLiteStore) getLocked(ctx context.Context, chunkID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT chunk_id, source_path, source_kind, heading_path, content, start_line, end_line, mod_time, vector
		FROM chunks WHERE chunk_id = ?`, chunkID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, recallerr.StoreIOError("scan record", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var modTimeNanos int64
	var vec []byte
	if err := row.Scan(&rec.ChunkID, &rec.SourcePath, &rec.SourceKind, &rec.HeadingPath,
		&rec.Content, &rec.StartLine, &rec.EndLine, &modTimeNanos, &vec); err != nil {
		return nil, err
	}
	rec.ModTime = time.Unix(0, modTimeNanos)
	rec.Vector = decodeVector(vec)
	return &rec, nil
}

// LexicalSearch returns BM25-scored hits. FTS5's bm25() is a rank where
// lower is better; it is negated into a descending score.
func (s *SQLiteStore) LexicalSearch(ctx context.Context, query string, limit int) ([]*Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerr.New(recallerr.ErrCodeStoreIO, "store is closed", nil)
	}
	if strings.TrimSpace(query) == "" {
		return []*Hit{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, -bm25(fts_chunks) AS score
		FROM fts_chunks
		WHERE fts_chunks MATCH ?
		ORDER BY score DESC
		LIMIT ?`, ftsQuery(query), limit)
	if err != nil {
		return nil, recallerr.StoreIOError("fts search", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []*Hit
	for rows.Next() {
		var hit Hit
		if err := rows.Scan(&hit.ChunkID, &hit.Score); err != nil {
			return nil, recallerr.StoreIOError("scan fts hit", err)
		}
		hits = append(hits, &hit)
	}
	if err := rows.Err(); err != nil {
		return nil, recallerr.StoreIOError("iterate fts hits", err)
	}

	for _, hit := range hits {
		rec, err := s.getLocked(ctx, hit.ChunkID)
		if err != nil {
			return nil, err
		}
		hit.Record = rec
	}
	return hits, nil
}

// ftsQuery turns free text into an FTS5 query of quoted terms, preventing
// user input from being parsed as FTS syntax.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(term, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// VectorSearch scans every stored embedding with cosine similarity.
func (s *SQLiteStore) VectorSearch(ctx context.Context, query []float32, limit int) ([]*Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerr.New(recallerr.ErrCodeStoreIO, "store is closed", nil)
	}
	if len(query) == 0 {
		return []*Hit{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, vector FROM chunks WHERE vector IS NOT NULL`)
	if err != nil {
		return nil, recallerr.StoreIOError("query vectors", err)
	}
	defer func() { _ = rows.Close() }()

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	var hits []*Hit
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, recallerr.StoreIOError("scan vector row", err)
		}
		vec := decodeVector(blob)
		if len(vec) != len(normalized) {
			continue
		}
		hits = append(hits, &Hit{ChunkID: id, Score: cosineSimilarity(normalized, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, recallerr.StoreIOError("iterate vector rows", err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	for _, hit := range hits {
		rec, err := s.getLocked(ctx, hit.ChunkID)
		if err != nil {
			return nil, err
		}
		hit.Record = rec
	}
	return hits, nil
}

// Stats returns index statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, recallerr.New(recallerr.ErrCodeStoreIO, "store is closed", nil)
	}

	stats := &Stats{}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT source_path) FROM chunks`).
		Scan(&stats.Chunks, &stats.Documents); err != nil {
		return nil, recallerr.StoreIOError("count chunks", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE vector IS NOT NULL`).
		Scan(&stats.Vectors); err != nil {
		return nil, recallerr.StoreIOError("count vectors", err)
	}

	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT vector FROM chunks WHERE vector IS NOT NULL LIMIT 1`).Scan(&blob)
	if err == nil {
		stats.Dimensions = len(blob) / 4
	} else if err != sql.ErrNoRows {
		return nil, recallerr.StoreIOError("read sample vector", err)
	}
	return stats, nil
}

// Flush is a no-op: WAL commits are durable at transaction boundaries.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	return nil
}

// Healthy probes the database with a trivial query.
func (s *SQLiteStore) Healthy(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	var one int
	return s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one) == nil
}

// Name identifies this backend.
func (s *SQLiteStore) Name() string {
	return BackendSQLite
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// encodeVector packs float32s as little-endian bytes; nil stays nil.
func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// decodeVector unpacks little-endian float32s; nil stays nil.
func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

// cosineSimilarity assumes a is unit-normalized; b is normalized here.
func cosineSimilarity(a, b []float32) float64 {
	var dot, bNorm float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNorm += float64(b[i]) * float64(b[i])
	}
	if bNorm == 0 {
		return 0
	}
	return dot / math.Sqrt(bNorm)
}
