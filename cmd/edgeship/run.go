package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bft-labs/edgeship/internal/cliconfig"
	"github.com/bft-labs/edgeship/pkg/edgeship"
	"github.com/bft-labs/edgeship/pkg/log"
)

func newRunCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Decode the controller stream, store events and sync them (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.load(cmd); err != nil {
				return err
			}
			if err := cliconfig.LoadHubInfo(&c.cfg); err != nil {
				return err
			}
			libCfg, err := agentConfig(c.cfg)
			if err != nil {
				return err
			}

			opts := []edgeship.Option{edgeship.WithLogger(c.logger)}
			if c.cfg.Source == cliconfig.SourceSpool {
				opts = append(opts, edgeship.WithArchiveCleanup(edgeship.ArchiveCleanupConfig{}))
			}
			agent, err := edgeship.New(libCfg, opts...)
			if err != nil {
				return fmt.Errorf("create agent: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			if err := agent.Start(ctx); err != nil {
				return fmt.Errorf("start agent: %w", err)
			}
			c.logger.Info("edgeship started",
				log.String("hub_id", c.cfg.HubID),
				log.String("source", c.cfg.Source),
				log.Bool("token_file", c.cfg.UseTokenFile()),
			)

			for {
				changed := agent.Changed()
				if agent.Status() == edgeship.StateCrashed {
					c.logger.Error("agent crashed")
					return fmt.Errorf("agent crashed")
				}
				select {
				case sig := <-sigCh:
					c.logger.Info("received signal, stopping", log.String("signal", sig.String()))
					if err := agent.Stop(); err != nil {
						return fmt.Errorf("stop agent: %w", err)
					}
					return nil
				case <-changed:
				}
			}
		},
	}
}
