package scanner

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// TranscriptDelta holds the new lines appended to a transcript since the
// last indexed offset.
type TranscriptDelta struct {
	// Lines are complete lines read after Offset.
	Lines []string
	// StartLine is the 1-indexed line number of the first returned line.
	StartLine int
	// NewOffset is the byte offset after the last complete line read.
	NewOffset int64
	// Reset is true when the file shrank below the recorded offset,
	// meaning the transcript was rewritten and must be reindexed from zero.
	Reset bool
}

// ReadTranscriptDelta reads only the lines appended after offset.
// Transcripts are append-only (one entry per line); a file smaller than the
// recorded offset is treated as rewritten and read from the start.
// A trailing partial line (no newline yet) is left for the next delta.
func ReadTranscriptDelta(path string, offset int64, startLine int) (*TranscriptDelta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat transcript: %w", err)
	}

	delta := &TranscriptDelta{StartLine: startLine, NewOffset: offset}
	if info.Size() < offset {
		delta.Reset = true
		offset = 0
		delta.NewOffset = 0
		delta.StartLine = 1
	}
	if info.Size() == offset {
		return delta, nil
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek transcript: %w", err)
	}

	reader := bufio.NewReader(f)
	pos := offset
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// Partial trailing line: wait for the writer to finish it.
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read transcript: %w", err)
		}
		pos += int64(len(line))
		trimmed := line[:len(line)-1]
		if len(trimmed) > 0 && trimmed[len(trimmed)-1] == '\r' {
			trimmed = trimmed[:len(trimmed)-1]
		}
		delta.Lines = append(delta.Lines, trimmed)
	}

	delta.NewOffset = pos
	return delta, nil
}
