package ports

import (
	"context"

	"github.com/bft-labs/edgeship/internal/framer"
)

// Source produces raw controller bytes.
type Source interface {
	// Stream sends chunks to out until ctx is done or the source is
	// exhausted. A source that cannot resume after an error returns it.
	// Stream does not close out.
	Stream(ctx context.Context, out chan<- framer.Chunk) error

	// Name identifies the source in logs and status.
	Name() string
}

// SourceStatus is implemented by sources that track hardware connectivity.
type SourceStatus interface {
	Connected() bool
}
