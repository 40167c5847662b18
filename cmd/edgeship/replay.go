package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bft-labs/edgeship/internal/adapters/fs"
	"github.com/bft-labs/edgeship/internal/app"
	"github.com/bft-labs/edgeship/internal/decoder"
	"github.com/bft-labs/edgeship/internal/domain"
	"github.com/bft-labs/edgeship/internal/framer"
	"github.com/bft-labs/edgeship/internal/outbox"
	"github.com/bft-labs/edgeship/pkg/log"
)

// newReplayCmd decodes a recorded spool or .zst archive into the outbox.
// Events are stamped with the replay time.
func newReplayCmd(c *cli) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Decode a recorded spool or archive into the outbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.loadLocal(cmd); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var out app.Appender = &printAppender{w: cmd.OutOrStdout()}
			if !dryRun {
				ob, err := openOutbox(ctx, c)
				if err != nil {
					return err
				}
				defer ob.Close()
				out = ob
			}

			delim, err := c.cfg.Delimiter()
			if err != nil {
				return err
			}
			fcfg := framer.DefaultConfig()
			fcfg.Delimiter = delim
			fcfg.AssemblyTimeout = c.cfg.AssemblyTimeout

			p := app.NewPipeline(app.PipelineConfig{
				Framer: fcfg,
				Policy: decoder.Policy{
					InferMissingMachine: c.cfg.InferMissingMachine,
					BootstrapMachine:    c.cfg.BootstrapMachine,
				},
			}, fs.NewFileSource(args[0], 0), out, c.logger)
			if err := p.Run(ctx); err != nil {
				return err
			}

			c.logger.Info("replay finished",
				log.String("file", args[0]),
				log.Int64("stored", p.Stored()),
				log.Bool("dry_run", dryRun),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%d events\n", p.Stored())
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print decoded events instead of storing them")
	return cmd
}

func openOutbox(ctx context.Context, c *cli) (*outbox.Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(c.cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return outbox.Open(ctx, outbox.Config{
		Path:       c.cfg.DBPath,
		MaxRecords: c.cfg.MaxRecords,
		Retention:  c.cfg.Retention,
		AttemptCap: c.cfg.MaxAttempts,
		Logger:     c.logger,
	})
}

// printAppender writes events as JSON lines instead of storing them.
type printAppender struct {
	w io.Writer
	n int64
}

func (p *printAppender) Append(_ context.Context, ev domain.Event) (int64, error) {
	p.n++
	return p.n, json.NewEncoder(p.w).Encode(ev)
}
