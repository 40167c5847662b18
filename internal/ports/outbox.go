package ports

import (
	"context"

	"github.com/bft-labs/edgeship/internal/domain"
)

// Outbox is the durable local event store. Every operation is safe for
// concurrent use by the ingestion and sync goroutines.
type Outbox interface {
	// Append persists ev as pending and returns its id. The event is
	// durable when Append returns nil.
	Append(ctx context.Context, ev domain.Event) (int64, error)

	// ListPending returns up to limit pending records of class with fewer
	// than maxAttempts attempts, oldest first.
	ListPending(ctx context.Context, class domain.RecordClass, limit, maxAttempts int) ([]domain.OutboxRecord, error)

	// MarkSynced marks a record delivered. It is a no-op for a record
	// that is already synced or gone.
	MarkSynced(ctx context.Context, id int64) error

	// IncrementAttempts records a failed delivery attempt.
	IncrementAttempts(ctx context.Context, id int64) error

	Stats(ctx context.Context) (domain.OutboxStats, error)

	// Cleanup deletes synced records past retention and reports how many.
	Cleanup(ctx context.Context) (int64, error)
}
