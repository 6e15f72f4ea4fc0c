package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mdChunks(t *testing.T, content string) []*Chunk {
	t.Helper()
	c := NewMarkdownChunker()
	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:    "/m/MEMORY.md",
		Content: []byte(content),
	})
	require.NoError(t, err)
	return chunks
}

func TestMarkdownChunker_SplitsByHeadings(t *testing.T) {
	content := `# Projects

Working on recall.

## Decisions

Chose hybrid retrieval.

## Open Items

Waiting on review.
`
	chunks := mdChunks(t, content)

	require.Len(t, chunks, 3)
	assert.Equal(t, "Projects", chunks[0].HeadingPath)
	assert.Equal(t, "Projects > Decisions", chunks[1].HeadingPath)
	assert.Equal(t, "Projects > Open Items", chunks[2].HeadingPath)
	assert.Contains(t, chunks[1].Content, "hybrid retrieval")
}

func TestMarkdownChunker_LineRangesAreOneIndexed(t *testing.T) {
	content := "# Top\n\nfirst body\n\n## Sub\n\nsecond body\n"
	chunks := mdChunks(t, content)

	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 3, chunks[0].EndLine)
	assert.Equal(t, 5, chunks[1].StartLine)
	assert.Equal(t, 7, chunks[1].EndLine)
}

func TestMarkdownChunker_ContentHashIDStableAcrossRuns(t *testing.T) {
	// Same path and content must produce the same ID so unchanged chunks
	// are never re-embedded.
	a := mdChunks(t, "# H\n\nsame text\n")
	b := mdChunks(t, "# H\n\nsame text\n")

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
}

func TestMarkdownChunker_IDChangesWithContent(t *testing.T) {
	a := mdChunks(t, "# H\n\nversion one\n")
	b := mdChunks(t, "# H\n\nversion two\n")

	assert.NotEqual(t, a[0].ID, b[0].ID)
}

func TestMarkdownChunker_RepeatedContentGetsDistinctIDs(t *testing.T) {
	// Two sections with byte-identical bodies must not collapse into one
	// record; only their IDs may differ, line ranges stay truthful.
	content := "## Notes\n\nStandup at ten.\n\n## Notes\n\nStandup at ten.\n"
	chunks := mdChunks(t, content)

	require.Len(t, chunks, 2)
	assert.NotEqual(t, chunks[0].ID, chunks[1].ID)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 5, chunks[1].StartLine)

	// The first occurrence keeps the unsalted content hash, so unique
	// content is unaffected by the dedupe pass.
	assert.Equal(t, ID("/m/MEMORY.md", chunks[0].Content), chunks[0].ID)
}

func TestMarkdownChunker_EmptyFileYieldsNothing(t *testing.T) {
	assert.Empty(t, mdChunks(t, ""))
	assert.Empty(t, mdChunks(t, "   \n\n  \n"))
}

func TestMarkdownChunker_BareHeadingSkipped(t *testing.T) {
	chunks := mdChunks(t, "# Lonely Heading\n")
	assert.Empty(t, chunks)
}

func TestMarkdownChunker_FrontmatterIsOwnChunk(t *testing.T) {
	content := "---\ntitle: memory\n---\n\n# Notes\n\nbody text\n"
	chunks := mdChunks(t, content)

	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0].Content, "title: memory")
	assert.Equal(t, "Notes", chunks[1].HeadingPath)
}

func TestMarkdownChunker_LargeSectionSplitsAtParagraphs(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("# Big\n\n")
	for i := 0; i < 10; i++ {
		sb.WriteString(strings.Repeat("word ", 60))
		sb.WriteString("\n\n")
	}

	c := NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{MaxChunkBytes: 700})
	chunks, err := c.Chunk(context.Background(), &FileInput{
		Path:    "/m/big.md",
		Content: []byte(sb.String()),
	})
	require.NoError(t, err)

	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Content), 700+320) // one paragraph of slack
		assert.Equal(t, "Big", ch.HeadingPath)
	}
}

func TestMarkdownChunker_FencedCodeBlockStaysIntact(t *testing.T) {
	content := "# Code\n\nintro\n\n```go\nfunc a() {}\n\nfunc b() {}\n```\n\noutro\n"
	chunks := mdChunks(t, content)

	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "func a() {}\n\nfunc b() {}")
}

func TestMarkdownChunker_HeadingInsideFenceIgnored(t *testing.T) {
	content := "# Real\n\nbody\n\n```\n# not a heading\n```\n"
	chunks := mdChunks(t, content)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Real", chunks[0].HeadingPath)
}
