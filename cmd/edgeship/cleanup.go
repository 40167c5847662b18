package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bft-labs/edgeship/internal/adapters/fs"
)

func newCleanupCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete synced records past retention and old spool archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.loadLocal(cmd); err != nil {
				return err
			}
			ctx := cmd.Context()
			ob, err := openOutbox(ctx, c)
			if err != nil {
				return err
			}
			defer ob.Close()

			n, err := ob.Cleanup(ctx)
			if err != nil {
				return err
			}
			freed := fs.NewArchiveCleaner(c.cfg.SpoolPath, fs.DefaultArchiveCleanupConfig(), c.logger).CleanupOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d records, freed %d archive bytes\n", n, freed)
			return nil
		},
	}
}
