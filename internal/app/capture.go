package app

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/edgeship/internal/framer"
	"github.com/bft-labs/edgeship/internal/ports"
	"github.com/bft-labs/edgeship/pkg/log"
)

// Capture copies raw bytes from source to w until the source is exhausted
// or ctx is done. It does no decoding, so a decoder fault cannot stop
// capture. A failed write is logged and the chunk is lost.
func Capture(ctx context.Context, source ports.Source, w io.Writer, logger log.Logger) (int64, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	chunks := make(chan framer.Chunk, DefaultChunkQueue)
	var written int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(chunks)
		return source.Stream(gctx, chunks)
	})
	g.Go(func() error {
		for c := range chunks {
			n, err := w.Write(c.Data)
			written += int64(n)
			if err != nil {
				logger.Error("capture write failed", log.Int("bytes", len(c.Data)), log.Err(err))
			}
		}
		return nil
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		err = nil
	}
	return written, err
}
