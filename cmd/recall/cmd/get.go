package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/recallkit/recall/internal/mcp"
)

func newGetCmd() *cobra.Command {
	var (
		from  int
		lines int
	)

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Read a line window from a memory document",
		Long: `Read part of an allow-listed memory document, typically around a
search hit. Paths outside the memory root are denied.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, args[0], from, lines)
		},
	}

	cmd.Flags().IntVar(&from, "from", 1, "First line to read (1-indexed)")
	cmd.Flags().IntVarP(&lines, "lines", "l", 0, "Number of lines (default from config)")

	return cmd
}

func runGet(cmd *cobra.Command, path string, from, lines int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cleanup, err := setupLogging(cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	// Reading needs only the path guard, not the index.
	guard, err := mcp.NewGuard(mcp.GuardConfig{
		MemoryRoot:        cfg.MemoryRoot,
		CuratedFile:       cfg.CuratedFile,
		ExtraPaths:        cfg.ExtraPaths,
		AllowedExtensions: cfg.Get.AllowedExtensions,
	})
	if err != nil {
		return err
	}

	resolved, err := guard.Authorize(path, mcp.ScopeFull)
	if err != nil {
		return err
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return err
	}

	all := strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")
	total := len(all)

	if lines <= 0 {
		lines = cfg.Get.DefaultLines
	}
	if lines > cfg.Get.MaxLines {
		lines = cfg.Get.MaxLines
	}
	if from <= 0 {
		from = 1
	}
	if from > total {
		return fmt.Errorf("line %d is past the end of %s (%d lines)", from, path, total)
	}
	to := from + lines - 1
	if to > total {
		to = total
	}

	out := cmd.OutOrStdout()
	for _, line := range all[from-1 : to] {
		fmt.Fprintln(out, line)
	}
	return nil
}
