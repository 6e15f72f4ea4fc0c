// Package mcp exposes memory retrieval to agent clients over the Model
// Context Protocol, behind a path-safety guard.
package mcp

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	recallerr "github.com/recallkit/recall/internal/errors"
)

// Scope limits what a caller may read.
type Scope int

const (
	// ScopeFull is the owner's own agent: the whole allow-list.
	ScopeFull Scope = iota
	// ScopeSession is an untrusted shared-session caller: daily logs and
	// transcripts only, never the curated memory or identity files.
	ScopeSession
)

// DefaultAllowedExtensions is the markdown-class document allow-list.
var DefaultAllowedExtensions = []string{".md", ".markdown", ".txt"}

// sessionDeniedNames are base names withheld from session-scoped callers in
// addition to the curated file itself.
var sessionDeniedNames = map[string]struct{}{
	"SOUL.md":     {},
	"IDENTITY.md": {},
	"USER.md":     {},
	"AGENTS.md":   {},
}

// GuardConfig configures the path guard.
type GuardConfig struct {
	// MemoryRoot and CuratedFile anchor the allow-list. ExtraPaths adds
	// individual files or directories outside the root.
	MemoryRoot  string
	CuratedFile string
	ExtraPaths  []string

	// AllowedExtensions overrides the markdown-class default.
	AllowedExtensions []string

	// OnDeny is called once per denied request (status counter hook).
	OnDeny func()
}

// Guard validates every path before any filesystem access, and fails
// closed: anything unresolvable, out of bounds, or of the wrong shape is a
// PathNotAllowed denial, never an open.
type Guard struct {
	root    string
	curated string
	extras  []string
	exts    map[string]struct{}
	onDeny  func()
}

// NewGuard resolves the allow-list roots through symlinks once, up front.
// The memory root must exist; a missing curated file or extra path simply
// leaves that entry off the allow-list.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	root, err := resolvePath(cfg.MemoryRoot)
	if err != nil {
		return nil, recallerr.New(recallerr.ErrCodeConfigInvalid,
			"memory root does not resolve: "+cfg.MemoryRoot, err)
	}

	g := &Guard{
		root:   root,
		exts:   make(map[string]struct{}),
		onDeny: cfg.OnDeny,
	}

	if cfg.CuratedFile != "" {
		if curated, err := resolvePath(cfg.CuratedFile); err == nil {
			g.curated = curated
		}
	}
	for _, extra := range cfg.ExtraPaths {
		if resolved, err := resolvePath(extra); err == nil {
			g.extras = append(g.extras, resolved)
		} else {
			slog.Warn("extra_path_unresolvable", slog.String("path", extra))
		}
	}

	exts := cfg.AllowedExtensions
	if len(exts) == 0 {
		exts = DefaultAllowedExtensions
	}
	for _, ext := range exts {
		g.exts[strings.ToLower(ext)] = struct{}{}
	}

	return g, nil
}

// Authorize validates a requested path for the given scope and returns the
// resolved path safe to open. Every failure is a PathNotAllowed error,
// counted and logged.
func (g *Guard) Authorize(path string, scope Scope) (string, error) {
	resolved, reason := g.check(path, scope)
	if reason != "" {
		if g.onDeny != nil {
			g.onDeny()
		}
		slog.Warn("path_denied",
			slog.String("path", path),
			slog.String("reason", reason))
		return "", recallerr.PathNotAllowed(path, reason)
	}
	return resolved, nil
}

// Readable reports whether Authorize would grant the path, without counting
// or logging a denial. Used to filter search results for reduced scopes.
func (g *Guard) Readable(path string, scope Scope) bool {
	_, reason := g.check(path, scope)
	return reason == ""
}

// check runs the envelope and returns the path safe to open, or the denial
// reason.
func (g *Guard) check(path string, scope Scope) (resolved, denyReason string) {
	if path == "" {
		return "", "empty path"
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "not an absolute path"
	}
	abs = filepath.Clean(abs)

	ext := strings.ToLower(filepath.Ext(abs))
	if _, ok := g.exts[ext]; !ok {
		return "", "extension not allowed"
	}

	if !g.inAllowList(abs) {
		return "", "outside allowed roots"
	}

	// No symlink may appear anywhere in the requested path: resolving it
	// must be a no-op. This rejects links that escape the allow-list and
	// links that stay inside it alike.
	target, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", "path does not resolve"
	}
	if target != abs {
		return "", "path traverses a symlink"
	}

	info, err := os.Lstat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return "", "not a regular file"
	}

	if scope == ScopeSession {
		if g.curated != "" && abs == g.curated {
			return "", "curated memory is not session readable"
		}
		if _, held := sessionDeniedNames[filepath.Base(abs)]; held {
			return "", "identity files are not session readable"
		}
	}

	return abs, ""
}

// inAllowList reports whether path is the curated file, inside the memory
// root, or inside (or equal to) an extra path.
func (g *Guard) inAllowList(path string) bool {
	if g.curated != "" && path == g.curated {
		return true
	}
	if within(g.root, path) {
		return true
	}
	for _, extra := range g.extras {
		if path == extra || within(extra, path) {
			return true
		}
	}
	return false
}

// within reports whether path is root or beneath it.
func within(root, path string) bool {
	if root == "" {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// resolvePath makes a path absolute and resolves symlinks.
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
