package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusRenderer_JSONOmitsUnknownDeniedReads(t *testing.T) {
	// The denial counter lives in the serving process; a standalone status
	// command has no reading of it and must not report zero as a fact.
	var buf bytes.Buffer
	r := NewStatusRenderer(&buf, false)

	require.NoError(t, r.RenderJSON(StatusInfo{
		MemoryRoot: "/m",
		Backend:    "sqlite",
		Provider:   "static",
	}))

	assert.NotContains(t, buf.String(), "denied_reads")
}

func TestStatusRenderer_JSONIncludesCountedDeniedReads(t *testing.T) {
	var buf bytes.Buffer
	r := NewStatusRenderer(&buf, false)

	require.NoError(t, r.RenderJSON(StatusInfo{
		MemoryRoot:  "/m",
		Backend:     "sqlite",
		Provider:    "static",
		DeniedReads: 3,
	}))

	assert.Contains(t, buf.String(), `"denied_reads": 3`)
}

func TestStatusRenderer_TextHidesZeroDeniedReads(t *testing.T) {
	var buf bytes.Buffer
	r := NewStatusRenderer(&buf, false)

	require.NoError(t, r.Render(StatusInfo{
		MemoryRoot: "/m",
		Backend:    "sqlite",
		Phase:      "idle",
		Provider:   "static",
	}))

	out := buf.String()
	assert.Contains(t, out, "Backend")
	assert.NotContains(t, out, "Denied reads")

	buf.Reset()
	require.NoError(t, r.Render(StatusInfo{
		MemoryRoot:  "/m",
		Backend:     "sqlite",
		Phase:       "idle",
		Provider:    "static",
		DeniedReads: 2,
	}))
	assert.Contains(t, buf.String(), "Denied reads")
}
