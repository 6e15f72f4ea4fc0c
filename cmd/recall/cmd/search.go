package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/recallkit/recall/internal/search"
	"github.com/recallkit/recall/internal/ui"
)

func newSearchCmd() *cobra.Command {
	var (
		maxResults int
		minScore   float64
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed memory from the command line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, args[0], maxResults, minScore, jsonOutput)
		},
	}

	cmd.Flags().IntVarP(&maxResults, "max-results", "n", 0, "Result cap (default from config)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Minimum fused score (default from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, maxResults int, minScore float64, jsonOutput bool) error {
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

	if maxResults <= 0 {
		maxResults = cfg.Search.MaxResults
	}
	if minScore <= 0 {
		minScore = cfg.Search.MinScore
	}

	results, err := a.ranker.Rank(ctx, query, maxResults, minScore)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}
	printResults(out, results)
	return nil
}

func printResults(out io.Writer, results []*search.Result) {
	styles := ui.PlainStyles()
	if ui.UseColor() {
		styles = ui.DefaultStyles()
	}

	for i, r := range results {
		location := fmt.Sprintf("%s:%d-%d", r.Path, r.StartLine, r.EndLine)
		fmt.Fprintf(out, "%s %s %s\n",
			styles.Header.Render(fmt.Sprintf("%2d.", i+1)),
			styles.Value.Render(location),
			styles.Label.Render(fmt.Sprintf("(%.2f, %s)", r.Score, r.SourceKind)))
		if r.HeadingPath != "" {
			fmt.Fprintf(out, "    %s\n", styles.Label.Render(r.HeadingPath))
		}
		fmt.Fprintf(out, "    %s\n", r.Snippet)
	}
}
