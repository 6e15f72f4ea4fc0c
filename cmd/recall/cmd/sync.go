package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the index with the memory directory",
		Long: `Run one incremental sync: detect changed sources, re-chunk and
re-embed only what changed, and remove deleted sources from the index.

With --force all recorded fingerprints are discarded first, so every
source is re-indexed from scratch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Discard fingerprints and re-index everything")

	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command, force bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cleanup, err := setupLogging(cfg, false)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	if force {
		if err := purgeIndexed(ctx, a); err != nil {
			return err
		}
	}

	if err := a.manager.SyncNow(ctx); err != nil {
		return err
	}

	snap := a.manager.Snapshot()
	fmt.Fprintf(cmd.OutOrStdout(), "Synced %d documents (%d chunks) from %s\n",
		snap.Documents, snap.Chunks, cfg.MemoryRoot)
	return nil
}

// purgeIndexed forgets every recorded source so the next sync starts clean.
func purgeIndexed(ctx context.Context, a *app) error {
	fps, err := a.manifest.Fingerprints(ctx)
	if err != nil {
		return err
	}
	for path := range fps {
		if err := a.store.DeleteBySource(ctx, path); err != nil {
			return err
		}
		if err := a.manifest.ForgetSource(ctx, path); err != nil {
			return err
		}
	}
	return nil
}
