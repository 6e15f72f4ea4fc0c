package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI with args and returns combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// newMemoryRoot seeds a memory directory with a curated file and a daily log.
func newMemoryRoot(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	curated := "# Memory\n\n## Preferences\n\nThe user prefers dark mode and tabs over spaces.\n"
	log := "# 2026-08-20\n\nShipped the importer fix and reviewed two pull requests.\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "MEMORY.md"), []byte(curated), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "2026-08-20.md"), []byte(log), 0o644))
	return root
}

func TestRoot_VersionFlag(t *testing.T) {
	out, err := execute(t, "--version")

	require.NoError(t, err)
	assert.Contains(t, out, "recall version")
}

func TestRoot_UnknownCommandFails(t *testing.T) {
	_, err := execute(t, "frobnicate")

	require.Error(t, err)
}

func TestRoot_ListsSubcommands(t *testing.T) {
	out, err := execute(t, "--help")

	require.NoError(t, err)
	for _, sub := range []string{"serve", "sync", "search", "get", "status", "init"} {
		assert.Contains(t, out, sub)
	}
}
