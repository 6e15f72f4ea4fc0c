package store

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	recallerr "github.com/recallkit/recall/internal/errors"
)

// lockFileName is the writer lock inside the data directory.
const lockFileName = ".recall.lock"

// DirLock is a cross-process lock on the index data directory. Exactly one
// writing process (serve or sync) may hold it; a second writer would corrupt
// the bleve and hnsw files.
type DirLock struct {
	fl *flock.Flock
}

// NewDirLock creates a lock for the given data directory.
func NewDirLock(dataDir string) *DirLock {
	return &DirLock{fl: flock.New(filepath.Join(dataDir, lockFileName))}
}

// Acquire takes the lock without blocking. A held lock is a StoreIO error
// naming the directory, so the CLI can tell the user who to stop.
func (l *DirLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0o755); err != nil {
		return recallerr.StoreIOError("create data directory", err)
	}

	ok, err := l.fl.TryLock()
	if err != nil {
		return recallerr.StoreIOError("acquire index lock", err)
	}
	if !ok {
		return recallerr.New(recallerr.ErrCodeStoreIO,
			"index is locked by another recall process: "+filepath.Dir(l.fl.Path()), nil)
	}
	return nil
}

// Release drops the lock. Safe to call when not held.
func (l *DirLock) Release() error {
	return l.fl.Unlock()
}
