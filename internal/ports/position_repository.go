package ports

import (
	"context"

	"github.com/bft-labs/edgeship/internal/domain"
)

// PositionRepository persists the spool read position for crash recovery.
type PositionRepository interface {
	// Load returns the last saved position, or a zero position and nil
	// error when none exists.
	Load(ctx context.Context) (domain.SpoolPosition, error)

	// Save persists pos atomically.
	Save(ctx context.Context, pos domain.SpoolPosition) error
}
