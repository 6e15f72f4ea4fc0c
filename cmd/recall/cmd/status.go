package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/recallkit/recall/internal/store"
	"github.com/recallkit/recall/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and contents",
		Long: `Display the index backend in use, document and chunk counts, the
last successful sync, and the configured embedding provider.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cleanup, err := setupLogging(cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	info := ui.StatusInfo{
		MemoryRoot: cfg.MemoryRoot,
		Backend:    a.store.Name(),
		Degraded:   a.store.Degraded(),
		Phase:      "idle",
		Provider:   cfg.Embeddings.Provider,
	}
	if cfg.Embeddings.Provider == "ollama" {
		info.Model = cfg.Embeddings.Model
	}

	if stats, err := a.store.Stats(ctx); err == nil {
		info.Documents = stats.Documents
		info.Chunks = stats.Chunks
	}

	if raw, err := a.manifest.GetState(ctx, store.StateKeyLastSync); err == nil && raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			info.LastSync = ts
			info.LastOutcome = "ok"
		}
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.UseColor())
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}
