package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bft-labs/edgeship/internal/adapters/fs"
	"github.com/bft-labs/edgeship/internal/adapters/serial"
	"github.com/bft-labs/edgeship/internal/domain"
)

type statusDoc struct {
	DBPath string             `json:"dbPath"`
	Outbox domain.OutboxStats `json:"outbox"`
	Spool  *spoolDoc          `json:"spool,omitempty"`
}

type spoolDoc struct {
	Path      string    `json:"path"`
	Offset    int64     `json:"offset"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// newStatusCmd prints the outbox counters and the spool position of a
// local install. It works while the agent is running.
func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print outbox and spool state as JSON",
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

			stats, err := ob.Stats(ctx)
			if err != nil {
				return err
			}
			doc := statusDoc{DBPath: c.cfg.DBPath, Outbox: stats}

			pos, err := fs.NewPositionFile(c.cfg.SpoolPositionPath).Load(ctx)
			if err != nil {
				return err
			}
			if pos.Path != "" {
				doc.Spool = &spoolDoc{Path: pos.Path, Offset: pos.Offset, UpdatedAt: pos.UpdatedAt}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		},
	}
}

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := serial.ListPorts()
			if err != nil {
				return err
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}
