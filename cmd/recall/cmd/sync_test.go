package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSync_IndexesMemoryRoot(t *testing.T) {
	root := newMemoryRoot(t)

	out, err := execute(t, "sync", "--memory-root", root)

	require.NoError(t, err)
	assert.Contains(t, out, "Synced 2 documents")
}

func TestSync_SecondRunIsIncremental(t *testing.T) {
	root := newMemoryRoot(t)

	_, err := execute(t, "sync", "--memory-root", root)
	require.NoError(t, err)

	out, err := execute(t, "sync", "--memory-root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "Synced 2 documents")
}

func TestSync_ForceReindexes(t *testing.T) {
	root := newMemoryRoot(t)

	_, err := execute(t, "sync", "--memory-root", root)
	require.NoError(t, err)

	out, err := execute(t, "sync", "--memory-root", root, "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Synced 2 documents")
}

func TestStatus_ReportsIndexContents(t *testing.T) {
	root := newMemoryRoot(t)

	_, err := execute(t, "sync", "--memory-root", root)
	require.NoError(t, err)

	out, err := execute(t, "status", "--memory-root", root)
	require.NoError(t, err)
	assert.Contains(t, out, "builtin")
	assert.Contains(t, out, "Documents")

	jsonOut, err := execute(t, "status", "--memory-root", root, "--json")
	require.NoError(t, err)
	assert.Contains(t, jsonOut, `"documents": 2`)
}
