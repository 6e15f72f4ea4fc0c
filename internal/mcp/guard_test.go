package mcp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	recallerr "github.com/recallkit/recall/internal/errors"
)

type guardFixture struct {
	root    string
	curated string
	outside string
	guard   *Guard
	denials int
}

func newGuardFixture(t *testing.T) *guardFixture {
	t.Helper()

	f := &guardFixture{
		root:    t.TempDir(),
		outside: t.TempDir(),
	}
	f.curated = filepath.Join(f.root, "MEMORY.md")
	require.NoError(t, os.WriteFile(f.curated, []byte("# Memory\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "2026-08-20.md"), []byte("# Log\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "SOUL.md"), []byte("# Identity\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.outside, "secret.md"), []byte("secret\n"), 0o644))

	g, err := NewGuard(GuardConfig{
		MemoryRoot:  f.root,
		CuratedFile: f.curated,
		OnDeny:      func() { f.denials++ },
	})
	require.NoError(t, err)
	f.guard = g
	return f
}

func requireDenied(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, recallerr.HasCode(err, recallerr.ErrCodePathNotAllowed))
}

func TestGuard_AllowsFilesInsideMemoryRoot(t *testing.T) {
	f := newGuardFixture(t)

	resolved, err := f.guard.Authorize(filepath.Join(f.root, "2026-08-20.md"), ScopeFull)

	require.NoError(t, err)
	assert.NotEmpty(t, resolved)
	assert.Zero(t, f.denials)
}

func TestGuard_AllowsCuratedFile(t *testing.T) {
	f := newGuardFixture(t)

	_, err := f.guard.Authorize(f.curated, ScopeFull)

	require.NoError(t, err)
}

func TestGuard_DeniesOutsideRoot(t *testing.T) {
	f := newGuardFixture(t)

	_, err := f.guard.Authorize(filepath.Join(f.outside, "secret.md"), ScopeFull)

	requireDenied(t, err)
	assert.Equal(t, 1, f.denials)
}

func TestGuard_DeniesDotDotTraversal(t *testing.T) {
	f := newGuardFixture(t)

	_, err := f.guard.Authorize(filepath.Join(f.root, "..", "escape.md"), ScopeFull)

	requireDenied(t, err)
}

func TestGuard_DeniesDisallowedExtension(t *testing.T) {
	f := newGuardFixture(t)
	script := filepath.Join(f.root, "run.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))

	_, err := f.guard.Authorize(script, ScopeFull)

	requireDenied(t, err)
}

func TestGuard_DeniesSymlinkEscapingRoot(t *testing.T) {
	f := newGuardFixture(t)
	link := filepath.Join(f.root, "link.md")
	require.NoError(t, os.Symlink(filepath.Join(f.outside, "secret.md"), link))

	_, err := f.guard.Authorize(link, ScopeFull)

	requireDenied(t, err)
}

func TestGuard_DeniesSymlinkWithinRoot(t *testing.T) {
	// A symlink is denied even when its target is itself allow-listed.
	f := newGuardFixture(t)
	target := filepath.Join(f.root, "target.md")
	require.NoError(t, os.WriteFile(target, []byte("# Target\n"), 0o644))
	link := filepath.Join(f.root, "link.md")
	require.NoError(t, os.Symlink(target, link))

	_, err := f.guard.Authorize(link, ScopeFull)
	requireDenied(t, err)

	// The target stays readable under its real name.
	_, err = f.guard.Authorize(target, ScopeFull)
	require.NoError(t, err)
}

func TestGuard_ReadableChecksWithoutCounting(t *testing.T) {
	f := newGuardFixture(t)

	assert.True(t, f.guard.Readable(filepath.Join(f.root, "2026-08-20.md"), ScopeFull))
	assert.False(t, f.guard.Readable(filepath.Join(f.outside, "secret.md"), ScopeFull))
	assert.False(t, f.guard.Readable(f.curated, ScopeSession))
	assert.Zero(t, f.denials)
}

func TestGuard_DeniesDirectories(t *testing.T) {
	f := newGuardFixture(t)
	dir := filepath.Join(f.root, "notes.md")
	require.NoError(t, os.Mkdir(dir, 0o755))

	_, err := f.guard.Authorize(dir, ScopeFull)

	requireDenied(t, err)
}

func TestGuard_DeniesMissingFile(t *testing.T) {
	// Fail closed: an unresolvable path is a denial, not a not-found.
	f := newGuardFixture(t)

	_, err := f.guard.Authorize(filepath.Join(f.root, "never-written.md"), ScopeFull)

	requireDenied(t, err)
}

func TestGuard_SessionScopeDeniesCuratedAndIdentityFiles(t *testing.T) {
	f := newGuardFixture(t)

	_, err := f.guard.Authorize(f.curated, ScopeSession)
	requireDenied(t, err)

	_, err = f.guard.Authorize(filepath.Join(f.root, "SOUL.md"), ScopeSession)
	requireDenied(t, err)

	// Daily logs remain readable in session scope.
	_, err = f.guard.Authorize(filepath.Join(f.root, "2026-08-20.md"), ScopeSession)
	require.NoError(t, err)
}

func TestGuard_ExtraPathExtendsAllowList(t *testing.T) {
	f := newGuardFixture(t)
	extraDir := t.TempDir()
	doc := filepath.Join(extraDir, "runbook.md")
	require.NoError(t, os.WriteFile(doc, []byte("# Runbook\n"), 0o644))

	g, err := NewGuard(GuardConfig{
		MemoryRoot:  f.root,
		CuratedFile: f.curated,
		ExtraPaths:  []string{extraDir},
	})
	require.NoError(t, err)

	_, err = g.Authorize(doc, ScopeFull)
	require.NoError(t, err)

	// Extra paths do not open up their siblings.
	_, err = g.Authorize(filepath.Join(f.outside, "secret.md"), ScopeFull)
	requireDenied(t, err)
}

func TestGuard_CountsEveryDenial(t *testing.T) {
	f := newGuardFixture(t)

	_, _ = f.guard.Authorize("/etc/passwd", ScopeFull)
	_, _ = f.guard.Authorize(filepath.Join(f.outside, "secret.md"), ScopeFull)
	_, _ = f.guard.Authorize(filepath.Join(f.root, "missing.md"), ScopeFull)

	assert.Equal(t, 3, f.denials)
}
