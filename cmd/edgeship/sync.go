package main

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/bft-labs/edgeship/internal/adapters/fs"
	httpadapter "github.com/bft-labs/edgeship/internal/adapters/http"
	"github.com/bft-labs/edgeship/internal/cliconfig"
	"github.com/bft-labs/edgeship/internal/ports"
	"github.com/bft-labs/edgeship/internal/syncer"
	"github.com/bft-labs/edgeship/pkg/log"
)

func newSyncCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync tick against the backend and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.loadLocal(cmd); err != nil {
				return err
			}
			if err := cliconfig.LoadHubInfo(&c.cfg); err != nil {
				return err
			}
			ctx := cmd.Context()

			var tokens ports.TokenSource = httpadapter.StaticToken(c.cfg.Token)
			if c.cfg.UseTokenFile() {
				tokens = fs.NewTokenFile(c.cfg.TokenFile, c.logger)
			}

			ob, err := openOutbox(ctx, c)
			if err != nil {
				return err
			}
			defer ob.Close()

			host, _ := os.Hostname()
			backend := httpadapter.NewBackend(&http.Client{Timeout: c.cfg.HTTPTimeout}, tokens, ports.AgentMetadata{
				HubID:      c.cfg.HubID,
				Hostname:   host,
				OSArch:     runtime.GOOS + "/" + runtime.GOARCH,
				ServiceURL: c.cfg.ServiceURL,
			}, c.logger)

			engine := syncer.New(ob, backend, syncer.Config{
				BatchSize:   c.cfg.SyncBatchSize,
				MaxAttempts: c.cfg.MaxAttempts,
			}, c.logger, nil)
			rep := engine.ForceSync(ctx)
			if rep.Err != nil {
				c.logger.Warn("sync failed", log.Err(rep.Err))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
			return rep.Err
		},
	}
}
