package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stepsnap/stepsnap/internal/persist"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove a stored session older than storage.max_age",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			maxAge := cfg.Storage.MaxAge
			if d, _ := cmd.Flags().GetDuration("max-age"); d > 0 {
				maxAge = d
			}

			kv, err := persist.Open(cfg.Storage)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer kv.Close()

			removed, err := persist.NewSnapshotter(kv, cfg.Storage.FullImageRetention).Sweep(cmd.Context(), maxAge)
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed stored session older than %s\n", maxAge)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to remove")
			}
			return nil
		},
	}
	cmd.Flags().Duration("max-age", 0, "override storage.max_age")
	return cmd
}
