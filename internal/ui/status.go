package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo is the collected index state shown by the status command.
type StatusInfo struct {
	MemoryRoot  string    `json:"memory_root"`
	Backend     string    `json:"backend"`
	Degraded    bool      `json:"degraded"`
	Phase       string    `json:"phase"`
	Dirty       bool      `json:"dirty"`
	Documents   int       `json:"documents"`
	Chunks      int       `json:"chunks"`
	LastSync    time.Time `json:"last_sync,omitempty"`
	LastOutcome string    `json:"last_outcome,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	// DeniedReads counts guard denials in the serving process. The status
	// command runs in its own process where the counter is always zero, so
	// a zero is omitted rather than reported as a fact.
	DeniedReads int64 `json:"denied_reads,omitempty"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model,omitempty"`
}

// StatusRenderer writes StatusInfo as styled text or JSON.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a renderer. Colored output only when the caller
// asks for it.
func NewStatusRenderer(out io.Writer, color bool) *StatusRenderer {
	styles := PlainStyles()
	if color {
		styles = DefaultStyles()
	}
	return &StatusRenderer{out: out, styles: styles}
}

// RenderJSON writes the status as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

// Render writes the status as a labeled text block.
func (r *StatusRenderer) Render(info StatusInfo) error {
	s := r.styles

	fmt.Fprintln(r.out, s.Header.Render("Recall index status"))
	r.row("Memory root", info.MemoryRoot)

	backend := info.Backend
	if info.Degraded {
		backend = s.Warning.Render(backend + " (fallback)")
	} else {
		backend = s.Healthy.Render(backend)
	}
	r.row("Backend", backend)

	state := info.Phase
	if info.Dirty {
		state = s.Warning.Render(state + ", pending changes")
	}
	r.row("State", state)

	r.row("Documents", fmt.Sprintf("%d", info.Documents))
	r.row("Chunks", fmt.Sprintf("%d", info.Chunks))

	if !info.LastSync.IsZero() {
		r.row("Last sync", info.LastSync.Local().Format(time.RFC3339))
	}
	switch info.LastOutcome {
	case "ok":
		r.row("Last outcome", s.Healthy.Render("ok"))
	case "error":
		r.row("Last outcome", s.Error.Render("error: "+info.LastError))
	}

	provider := info.Provider
	if info.Model != "" {
		provider += " (" + info.Model + ")"
	}
	r.row("Embeddings", provider)

	if info.DeniedReads > 0 {
		r.row("Denied reads", s.Warning.Render(fmt.Sprintf("%d", info.DeniedReads)))
	}
	return nil
}

func (r *StatusRenderer) row(label, value string) {
	fmt.Fprintf(r.out, "  %s %s\n", r.styles.Label.Render(fmt.Sprintf("%-13s", label)), value)
}
