// Package scanner implements change detection over canonical memory sources.
//
// A source is "modified" only when its fingerprint differs from the
// previously recorded one, so a crash or missed file event never loses
// changes: the next scan recomputes fingerprints from scratch and converges
// on the same result the watcher would have produced.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	recallerr "github.com/recallkit/recall/internal/errors"
)

// SourceKind classifies a canonical source document.
type SourceKind string

const (
	// KindCurated is the curated long-term memory file.
	KindCurated SourceKind = "curated-memory"
	// KindDailyLog is a date-stamped daily log file.
	KindDailyLog SourceKind = "daily-log"
	// KindTranscript is an append-only session transcript (one entry per line).
	KindTranscript SourceKind = "transcript"
)

// ChangeKind is the result of comparing a source against the manifest.
type ChangeKind int

const (
	// Unchanged means the fingerprint matches the manifest.
	Unchanged ChangeKind = iota
	// Added means the path was not in the manifest.
	Added
	// Modified means the fingerprint differs from the manifest.
	Modified
	// Removed means the path is in the manifest but no longer on disk.
	Removed
)

// String returns a human-readable representation of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change describes one source document's state relative to the manifest.
type Change struct {
	Path        string
	Kind        ChangeKind
	SourceKind  SourceKind
	Fingerprint string // empty for Removed
	ModTime     time.Time
	Size        int64
}

// Options configures source discovery.
type Options struct {
	// MemoryRoot is the canonical memory directory.
	MemoryRoot string
	// CuratedFile is the curated memory file (may live outside MemoryRoot).
	CuratedFile string
	// IncludeCurated, IncludeDailyLogs, IncludeTranscripts toggle categories.
	IncludeCurated     bool
	IncludeDailyLogs   bool
	IncludeTranscripts bool
	// HashWorkers bounds concurrent fingerprinting (default 4).
	HashWorkers int
}

// dailyLogPattern matches date-stamped log names like 2026-08-24.md or
// 2026-08-24-standup.md.
var dailyLogPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}.*\.(md|markdown)$`)

// Scanner discovers canonical sources and diffs them against a fingerprint
// manifest.
type Scanner struct {
	opts Options
}

// New creates a Scanner.
func New(opts Options) *Scanner {
	if opts.HashWorkers <= 0 {
		opts.HashWorkers = 4
	}
	return &Scanner{opts: opts}
}

// Discover enumerates the canonical sources currently on disk, sorted by path.
func (s *Scanner) Discover() ([]Change, error) {
	seen := make(map[string]SourceKind)

	if s.opts.IncludeCurated && s.opts.CuratedFile != "" {
		if info, err := os.Stat(s.opts.CuratedFile); err == nil && info.Mode().IsRegular() {
			abs, err := filepath.Abs(s.opts.CuratedFile)
			if err == nil {
				seen[abs] = KindCurated
			}
		}
	}

	if s.opts.MemoryRoot != "" {
		err := filepath.WalkDir(s.opts.MemoryRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable entries are skipped, not fatal
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != s.opts.MemoryRoot {
					return filepath.SkipDir
				}
				return nil
			}
			abs, aerr := filepath.Abs(path)
			if aerr != nil {
				return nil
			}
			if _, dup := seen[abs]; dup {
				return nil
			}
			name := d.Name()
			switch {
			case s.opts.IncludeDailyLogs && dailyLogPattern.MatchString(name):
				seen[abs] = KindDailyLog
			case s.opts.IncludeTranscripts && strings.HasSuffix(name, ".jsonl"):
				seen[abs] = KindTranscript
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk memory root: %w", err)
		}
	}

	out := make([]Change, 0, len(seen))
	for path, kind := range seen {
		out = append(out, Change{Path: path, SourceKind: kind})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Scan fingerprints every discovered source and diffs against prev, the
// manifest of path → fingerprint from the last successful sync. Documents
// are content-hashed; transcripts use a size+mtime fingerprint. Removed
// entries are emitted for manifest paths no longer on disk. Unreadable
// sources yield a SourceReadError in errs but do not abort the scan.
func (s *Scanner) Scan(ctx context.Context, prev map[string]string) (changes []Change, errs []error, err error) {
	discovered, err := s.Discover()
	if err != nil {
		return nil, nil, err
	}

	var mu sync.Mutex
	results := make([]Change, len(discovered))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.HashWorkers)

	for i := range discovered {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			src := discovered[i]
			var (
				fp   string
				info os.FileInfo
				ferr error
			)
			// Transcripts are append-only and can grow to hundreds of
			// megabytes; a size+mtime fingerprint detects appends and
			// rewrites without re-reading the whole file every scan.
			if src.SourceKind == KindTranscript {
				fp, info, ferr = statFingerprint(src.Path)
			} else {
				fp, info, ferr = fingerprintFile(src.Path)
			}
			if ferr != nil {
				mu.Lock()
				errs = append(errs, recallerr.SourceReadError(src.Path, ferr))
				mu.Unlock()
				results[i] = Change{Path: src.Path, Kind: Unchanged, SourceKind: src.SourceKind}
				return nil
			}

			kind := Unchanged
			if old, ok := prev[src.Path]; !ok {
				kind = Added
			} else if old != fp {
				kind = Modified
			}

			results[i] = Change{
				Path:        src.Path,
				Kind:        kind,
				SourceKind:  src.SourceKind,
				Fingerprint: fp,
				ModTime:     info.ModTime(),
				Size:        info.Size(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errs, err
	}

	onDisk := make(map[string]struct{}, len(results))
	for _, c := range results {
		onDisk[c.Path] = struct{}{}
	}
	changes = results
	for path := range prev {
		if _, ok := onDisk[path]; !ok {
			changes = append(changes, Change{Path: path, Kind: Removed})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, errs, nil
}

// fingerprintFile hashes the file's raw bytes with SHA-256.
func fingerprintFile(path string) (string, os.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", nil, err
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", nil, err
	}
	return hex.EncodeToString(h.Sum(nil)), info, nil
}

// statFingerprint derives a fingerprint from file metadata alone.
func statFingerprint(path string) (string, os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano()), info, nil
}

// Fingerprint returns the SHA-256 hex fingerprint of raw content bytes.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
