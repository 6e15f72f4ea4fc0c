package chunk

import (
	"context"
	"regexp"
	"strings"
)

// MarkdownChunkerOptions configures the markdown chunker.
type MarkdownChunkerOptions struct {
	MaxChunkBytes int // maximum bytes per chunk (default: DefaultMaxChunkBytes)
}

// MarkdownChunker splits markdown by heading sections, then by paragraphs
// when a section exceeds the size bound. Fenced code blocks are never split.
type MarkdownChunker struct {
	options MarkdownChunkerOptions
}

var _ Chunker = (*MarkdownChunker)(nil)

var (
	headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

	// frontmatterPattern matches a leading YAML frontmatter block.
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)
)

// NewMarkdownChunker creates a markdown chunker with default options.
func NewMarkdownChunker() *MarkdownChunker {
	return NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{})
}

// NewMarkdownChunkerWithOptions creates a markdown chunker.
func NewMarkdownChunkerWithOptions(opts MarkdownChunkerOptions) *MarkdownChunker {
	if opts.MaxChunkBytes == 0 {
		opts.MaxChunkBytes = DefaultMaxChunkBytes
	}
	return &MarkdownChunker{options: opts}
}

// Chunk splits a markdown file into heading-aligned chunks.
func (c *MarkdownChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	var chunks []*Chunk
	body := content
	bodyStartLine := 1

	// Frontmatter becomes its own chunk so metadata stays searchable
	// without polluting the first section.
	if fm := frontmatterPattern.FindString(body); fm != "" {
		text := strings.TrimRight(fm, "\n")
		chunks = append(chunks, &Chunk{
			ID:         ID(file.Path, text),
			SourcePath: file.Path,
			Content:    text,
			StartLine:  1,
			EndLine:    strings.Count(text, "\n") + 1,
		})
		bodyStartLine += strings.Count(fm, "\n")
		body = body[len(fm):]
	}

	for _, sec := range parseSections(body, bodyStartLine) {
		chunks = append(chunks, c.sectionChunks(file.Path, sec)...)
	}

	// Repeated byte-identical content would otherwise collapse into one ID
	// and lose all but one occurrence. Salt repeats with their occurrence
	// ordinal; the first occurrence keeps the stable unsalted ID.
	seen := make(map[string]int, len(chunks))
	for _, ch := range chunks {
		if n := seen[ch.Content]; n > 0 {
			ch.ID = idSalted(file.Path, ch.Content, n)
		}
		seen[ch.Content]++
	}
	return chunks, nil
}

// section is a heading plus its body, with absolute line positions.
type section struct {
	headingPath string
	lines       []string
	startLine   int
}

// parseSections groups lines under their nearest heading, tracking the full
// heading breadcrumb. Content before any heading forms a headingless section.
func parseSections(content string, startLine int) []*section {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	var sections []*section
	stack := make([]string, 6)
	inFence := false

	current := &section{startLine: startLine}
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}

		match := headingPattern.FindStringSubmatch(line)
		if match != nil && !inFence {
			if len(current.lines) > 0 {
				sections = append(sections, current)
			}

			level := len(match[1])
			title := strings.TrimSpace(match[2])
			stack[level-1] = title
			for j := level; j < 6; j++ {
				stack[j] = ""
			}
			var parts []string
			for j := 0; j < level; j++ {
				if stack[j] != "" {
					parts = append(parts, stack[j])
				}
			}

			current = &section{
				headingPath: strings.Join(parts, " > "),
				startLine:   startLine + i,
			}
		}
		current.lines = append(current.lines, line)
	}
	if len(current.lines) > 0 {
		sections = append(sections, current)
	}
	return sections
}

// sectionChunks emits the section as one chunk, or splits it by paragraphs
// when it exceeds the size bound.
func (c *MarkdownChunker) sectionChunks(path string, sec *section) []*Chunk {
	text := strings.TrimRight(strings.Join(sec.lines, "\n"), "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	// A bare heading with no body is not worth indexing on its own.
	if len(sec.lines) == 1 && headingPattern.MatchString(strings.TrimSpace(text)) {
		return nil
	}

	if len(text) <= c.options.MaxChunkBytes {
		return []*Chunk{{
			ID:          ID(path, text),
			SourcePath:  path,
			Content:     text,
			HeadingPath: sec.headingPath,
			StartLine:   sec.startLine,
			EndLine:     sec.startLine + strings.Count(text, "\n"),
		}}
	}
	return c.splitByParagraphs(path, sec)
}

// splitByParagraphs packs paragraphs greedily up to the size bound. Fenced
// code blocks are treated as single paragraphs.
func (c *MarkdownChunker) splitByParagraphs(path string, sec *section) []*Chunk {
	paras := paragraphs(sec.lines, sec.startLine)

	var chunks []*Chunk
	var buf []string
	bufStart := 0
	bufEnd := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		text := strings.Join(buf, "\n\n")
		chunks = append(chunks, &Chunk{
			ID:          ID(path, text),
			SourcePath:  path,
			Content:     text,
			HeadingPath: sec.headingPath,
			StartLine:   bufStart,
			EndLine:     bufEnd,
		})
		buf = nil
	}

	for _, p := range paras {
		size := len(p.text)
		current := 0
		for _, b := range buf {
			current += len(b) + 2
		}
		if len(buf) > 0 && current+size > c.options.MaxChunkBytes {
			flush()
		}
		if len(buf) == 0 {
			bufStart = p.startLine
		}
		buf = append(buf, p.text)
		bufEnd = p.endLine
	}
	flush()
	return chunks
}

type paragraph struct {
	text      string
	startLine int
	endLine   int
}

// paragraphs splits section lines into blank-line-delimited blocks, keeping
// fenced code blocks intact.
func paragraphs(lines []string, startLine int) []paragraph {
	var out []paragraph
	var buf []string
	bufStart := 0
	inFence := false

	flush := func(endIdx int) {
		text := strings.TrimRight(strings.Join(buf, "\n"), "\n")
		if strings.TrimSpace(text) != "" {
			out = append(out, paragraph{
				text:      text,
				startLine: startLine + bufStart,
				endLine:   startLine + endIdx,
			})
		}
		buf = nil
	}

	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if strings.TrimSpace(line) == "" && !inFence {
			if len(buf) > 0 {
				flush(i - 1)
			}
			continue
		}
		if len(buf) == 0 {
			bufStart = i
		}
		buf = append(buf, line)
	}
	if len(buf) > 0 {
		flush(len(lines) - 1)
	}
	return out
}
