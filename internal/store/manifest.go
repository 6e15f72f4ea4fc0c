package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	recallerr "github.com/recallkit/recall/internal/errors"
)

// Manifest records what the index believes about the world: source
// fingerprints from the last successful sync, transcript read offsets, and
// index-level state such as the embedding model. It is the diff baseline
// for incremental sync and survives restarts independently of the backend.
type Manifest struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// SourceEntry is one source's manifest row.
type SourceEntry struct {
	Path        string
	Fingerprint string
	SourceKind  string
	ModTime     time.Time
	ChunkCount  int
}

// TranscriptOffset tracks how far a transcript has been indexed.
type TranscriptOffset struct {
	Offset   int64
	NextLine int
}

// Manifest state keys.
const (
	StateKeyModel      = "embedding_model"
	StateKeyDimensions = "embedding_dimensions"
	StateKeyLastSync   = "last_sync"
)

// NewManifest opens or creates the manifest database. Empty path means
// in-memory (tests).
func NewManifest(path string) (*Manifest, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, recallerr.StoreIOError("create manifest directory", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, recallerr.StoreIOError("open manifest", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, recallerr.StoreIOError("set manifest pragma", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		path        TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		source_kind TEXT NOT NULL,
		mod_time    INTEGER NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS transcript_offsets (
		path      TEXT PRIMARY KEY,
		offset    INTEGER NOT NULL,
		next_line INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, recallerr.StoreIOError("initialize manifest schema", err)
	}

	return &Manifest{db: db}, nil
}

// Fingerprints returns the path → fingerprint map from the last sync.
func (m *Manifest) Fingerprints(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, recallerr.New(recallerr.ErrCodeStoreIO, "manifest is closed", nil)
	}

	rows, err := m.db.QueryContext(ctx, `SELECT path, fingerprint FROM sources`)
	if err != nil {
		return nil, recallerr.StoreIOError("query fingerprints", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var path, fp string
		if err := rows.Scan(&path, &fp); err != nil {
			return nil, recallerr.StoreIOError("scan fingerprint", err)
		}
		out[path] = fp
	}
	if err := rows.Err(); err != nil {
		return nil, recallerr.StoreIOError("iterate fingerprints", err)
	}
	return out, nil
}

// RecordSource upserts a source's manifest row after a successful index
// update for that source.
func (m *Manifest) RecordSource(ctx context.Context, entry SourceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return recallerr.New(recallerr.ErrCodeStoreIO, "manifest is closed", nil)
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sources (path, fingerprint, source_kind, mod_time, chunk_count)
		VALUES (?, ?, ?, ?, ?)`,
		entry.Path, entry.Fingerprint, entry.SourceKind, entry.ModTime.UnixNano(), entry.ChunkCount)
	if err != nil {
		return recallerr.StoreIOError("record source", err)
	}
	return nil
}

// ForgetSource removes a source and its transcript offset.
func (m *Manifest) ForgetSource(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return recallerr.New(recallerr.ErrCodeStoreIO, "manifest is closed", nil)
	}

	if _, err := m.db.ExecContext(ctx, `DELETE FROM sources WHERE path = ?`, path); err != nil {
		return recallerr.StoreIOError("forget source", err)
	}
	if _, err := m.db.ExecContext(ctx, `DELETE FROM transcript_offsets WHERE path = ?`, path); err != nil {
		return recallerr.StoreIOError("forget transcript offset", err)
	}
	return nil
}

// Offset returns the recorded transcript offset, or a zero offset for a
// transcript never read before.
func (m *Manifest) Offset(ctx context.Context, path string) (TranscriptOffset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return TranscriptOffset{}, recallerr.New(recallerr.ErrCodeStoreIO, "manifest is closed", nil)
	}

	var off TranscriptOffset
	err := m.db.QueryRowContext(ctx,
		`SELECT offset, next_line FROM transcript_offsets WHERE path = ?`, path).
		Scan(&off.Offset, &off.NextLine)
	if err == sql.ErrNoRows {
		return TranscriptOffset{Offset: 0, NextLine: 1}, nil
	}
	if err != nil {
		return TranscriptOffset{}, recallerr.StoreIOError("query transcript offset", err)
	}
	return off, nil
}

// RecordOffset upserts a transcript's read position.
func (m *Manifest) RecordOffset(ctx context.Context, path string, off TranscriptOffset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return recallerr.New(recallerr.ErrCodeStoreIO, "manifest is closed", nil)
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO transcript_offsets (path, offset, next_line)
		VALUES (?, ?, ?)`, path, off.Offset, off.NextLine)
	if err != nil {
		return recallerr.StoreIOError("record transcript offset", err)
	}
	return nil
}

// GetState reads an index-level state value; empty string when unset.
func (m *Manifest) GetState(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", recallerr.New(recallerr.ErrCodeStoreIO, "manifest is closed", nil)
	}

	var value string
	err := m.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", recallerr.StoreIOError("query state", err)
	}
	return value, nil
}

// SetState writes an index-level state value.
func (m *Manifest) SetState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return recallerr.New(recallerr.ErrCodeStoreIO, "manifest is closed", nil)
	}

	_, err := m.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return recallerr.StoreIOError("set state", err)
	}
	return nil
}

// Close releases the database.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
