// Package cmd provides the CLI commands for Recall.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/recallkit/recall/internal/config"
	"github.com/recallkit/recall/internal/logging"
	"github.com/recallkit/recall/pkg/version"
)

// Persistent flags shared by every subcommand.
var (
	flagConfig     string
	flagMemoryRoot string
	flagDataDir    string
	flagLogLevel   string
)

// NewRootCmd creates the root command for the recall CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Durable memory index and retrieval for agents",
		Long: `Recall indexes an agent's memory directory (curated memory, daily
logs, and session transcripts) into a hybrid lexical and semantic index,
and serves retrieval over MCP.

The markdown files stay canonical: the index is derived state and can be
rebuilt from them at any time.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("recall version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default <memory-root>/recall.yaml)")
	cmd.PersistentFlags().StringVar(&flagMemoryRoot, "memory-root", "", "Memory directory (overrides config)")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Index data directory (overrides config)")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI with signal-driven cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewRootCmd().ExecuteContext(ctx)
}

// loadConfig resolves the config file, loads it, and applies flag overrides.
func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		root := flagMemoryRoot
		if root == "" {
			if v := os.Getenv("RECALL_MEMORY_ROOT"); v != "" {
				root = v
			} else {
				cwd, err := os.Getwd()
				if err != nil {
					return nil, err
				}
				root = cwd
			}
		}
		path = config.DefaultPath(root)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if flagMemoryRoot != "" {
		cfg.MemoryRoot = flagMemoryRoot
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, nil
}

// setupLogging configures slog for a command. Stderr logging is off for
// plain CLI commands so their stdout output stays clean; the serve command
// keeps it on since stdout belongs to the MCP transport anyway.
func setupLogging(cfg *config.Config, stderr bool) (func(), error) {
	logCfg := logging.DefaultConfig(cfg.DataDir)
	logCfg.Level = cfg.LogLevel
	logCfg.WriteToStderr = stderr
	return logging.Setup(logCfg)
}
