package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/recallkit/recall/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var session bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP retrieval server over stdio",
		Long: `Start the MCP server on stdin/stdout and keep the index synced in
the background. Logs go to the data directory and stderr, never stdout.

With --session the server runs in shared-session scope: daily logs and
transcripts stay readable, curated memory and identity files do not.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), session)
		},
	}

	cmd.Flags().BoolVar(&session, "session", false, "Restrict reads to session-safe sources")

	return cmd
}

func runServe(ctx context.Context, session bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cleanup, err := setupLogging(cfg, true)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	scope := mcp.ScopeFull
	if session {
		scope = mcp.ScopeSession
	}

	server, err := mcp.NewServer(mcp.ServerConfig{
		Ranker:          a.ranker,
		Guard:           a.guard,
		Status:          a.manager,
		Scope:           scope,
		MaxResults:      cfg.Search.MaxResults,
		MinScore:        cfg.Search.MinScore,
		GetDefaultLines: cfg.Get.DefaultLines,
		GetMaxLines:     cfg.Get.MaxLines,
	})
	if err != nil {
		return err
	}

	if err := a.manager.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = a.manager.Stop() }()

	return server.Serve(ctx)
}
