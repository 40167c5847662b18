package fs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/bft-labs/edgeship/internal/domain"
)

// PositionFile implements ports.PositionRepository using a JSON file.
type PositionFile struct {
	path string
}

// NewPositionFile creates a PositionFile stored at path.
func NewPositionFile(path string) *PositionFile {
	return &PositionFile{path: path}
}

// Load retrieves the last saved position from disk.
// Returns a zero position and nil error if no file exists.
func (r *PositionFile) Load(ctx context.Context) (domain.SpoolPosition, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.SpoolPosition{}, nil
		}
		return domain.SpoolPosition{}, err
	}

	var pos domain.SpoolPosition
	if err := json.Unmarshal(data, &pos); err != nil {
		return domain.SpoolPosition{}, err
	}
	return pos, nil
}

// Save persists pos atomically: write to a temp file, then rename.
func (r *PositionFile) Save(ctx context.Context, pos domain.SpoolPosition) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(pos, "", "  ")
	if err != nil {
		return err
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

// Path returns the position file path.
func (r *PositionFile) Path() string {
	return r.path
}
