package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/edgeship/internal/adapters/fs"
	"github.com/bft-labs/edgeship/internal/adapters/serial"
	"github.com/bft-labs/edgeship/internal/app"
	"github.com/bft-labs/edgeship/pkg/log"
)

// newCaptureCmd records the raw serial stream to the spool without
// decoding it. Pair it with "run --source spool".
func newCaptureCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "capture",
		Short: "Record the raw serial stream to the spool file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.load(cmd); err != nil {
				return err
			}
			if c.cfg.SerialPort == "" {
				return fmt.Errorf("capture requires --serial-port")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := fs.NewSpoolWriter(c.cfg.SpoolPath, c.cfg.SpoolMaxBytes, c.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := w.Close(); err != nil {
					c.logger.Warn("spool close failed", log.Err(err))
				}
			}()

			source := serial.NewSource(serial.Config{
				Port: c.cfg.SerialPort,
				Baud: c.cfg.SerialBaud,
			}, c.logger)
			cleaner := fs.NewArchiveCleaner(c.cfg.SpoolPath, fs.DefaultArchiveCleanupConfig(), c.logger)

			c.logger.Info("capturing",
				log.String("port", c.cfg.SerialPort),
				log.String("spool", c.cfg.SpoolPath),
			)

			var written int64
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				n, err := app.Capture(gctx, source, w, c.logger)
				written = n
				return err
			})
			g.Go(func() error { return cleaner.Run(gctx) })
			err = g.Wait()
			c.logger.Info("capture stopped", log.Int64("bytes", written))
			return err
		},
	}
}
