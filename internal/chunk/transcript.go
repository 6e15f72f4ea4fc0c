package chunk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// TranscriptChunkerOptions configures transcript chunking.
type TranscriptChunkerOptions struct {
	// GroupLines is how many transcript entries form one chunk
	// (default: DefaultTranscriptGroupLines).
	GroupLines int
	// MaxChunkBytes bounds a chunk; a group is cut early when exceeded.
	MaxChunkBytes int
}

// TranscriptChunker groups consecutive transcript entries (one JSON object
// per line) into chunks. The searchable text is the extracted message
// content, not the raw JSON, so retrieval matches what was said.
type TranscriptChunker struct {
	options TranscriptChunkerOptions
}

var _ Chunker = (*TranscriptChunker)(nil)

// NewTranscriptChunker creates a transcript chunker with default options.
func NewTranscriptChunker() *TranscriptChunker {
	return NewTranscriptChunkerWithOptions(TranscriptChunkerOptions{})
}

// NewTranscriptChunkerWithOptions creates a transcript chunker.
func NewTranscriptChunkerWithOptions(opts TranscriptChunkerOptions) *TranscriptChunker {
	if opts.GroupLines == 0 {
		opts.GroupLines = DefaultTranscriptGroupLines
	}
	if opts.MaxChunkBytes == 0 {
		opts.MaxChunkBytes = DefaultMaxChunkBytes
	}
	return &TranscriptChunker{options: opts}
}

// Chunk splits a whole transcript file into chunks.
func (c *TranscriptChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	lines := strings.Split(strings.TrimRight(string(file.Content), "\n"), "\n")
	return c.ChunkLines(file.Path, lines, 1), nil
}

// ChunkLines chunks transcript lines beginning at the given 1-indexed line
// number. Used by incremental sync to chunk only the appended delta.
func (c *TranscriptChunker) ChunkLines(path string, lines []string, startLine int) []*Chunk {
	var chunks []*Chunk
	var buf []string
	bufStart := 0
	bufBytes := 0

	flush := func(endIdx int) {
		if len(buf) == 0 {
			return
		}
		text := strings.Join(buf, "\n")
		// Transcripts are append-only, so a line number never moves and is
		// a stable salt. It keeps repeated groups (retried prompts, looping
		// sessions) from colliding into one ID.
		chunks = append(chunks, &Chunk{
			ID:         idSalted(path, text, startLine+bufStart),
			SourcePath: path,
			Content:    text,
			StartLine:  startLine + bufStart,
			EndLine:    startLine + endIdx,
		})
		buf = nil
		bufBytes = 0
	}

	count := 0
	for i, line := range lines {
		text := extractEntryText(line)
		if text == "" {
			continue
		}
		if len(buf) > 0 && (count >= c.options.GroupLines || bufBytes+len(text) > c.options.MaxChunkBytes) {
			flush(i - 1)
			count = 0
		}
		if len(buf) == 0 {
			bufStart = i
		}
		buf = append(buf, text)
		bufBytes += len(text) + 1
		count++
	}
	flush(len(lines) - 1)
	return chunks
}

// transcriptEntry covers the common transcript shapes: either a flat
// {"role","content"} object or a nested {"message":{"role","content"}}.
type transcriptEntry struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Message *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// extractEntryText pulls the human-readable text out of one transcript line.
// Lines that are not JSON are indexed verbatim; lines with no text content
// (tool calls, metadata records) are skipped.
func extractEntryText(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return ""
	}
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed
	}

	var entry transcriptEntry
	if err := json.Unmarshal([]byte(trimmed), &entry); err != nil {
		return trimmed
	}

	role, content := entry.Role, entry.Content
	if entry.Message != nil {
		role, content = entry.Message.Role, entry.Message.Content
	}
	text := contentText(content)
	if text == "" {
		return ""
	}
	if role != "" {
		return fmt.Sprintf("%s: %s", role, text)
	}
	return text
}

// contentText flattens a content field that is either a plain string or a
// list of {"type":"text","text":...} blocks.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, strings.TrimSpace(b.Text))
		}
	}
	return strings.Join(parts, "\n")
}
