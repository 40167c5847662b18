package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bft-labs/edgeship/internal/framer"
)

// FileSource implements ports.Source over a finished capture: a plain
// spool file or a rotated .zst archive. Stream returns nil at end of file.
type FileSource struct {
	path     string
	readSize int
}

// NewFileSource creates a source for path. readSize <= 0 uses
// DefaultReadSize.
func NewFileSource(path string, readSize int) *FileSource {
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	return &FileSource{path: path, readSize: readSize}
}

// Name implements ports.Source.
func (s *FileSource) Name() string { return "file:" + s.path }

// Stream implements ports.Source.
func (s *FileSource) Stream(ctx context.Context, out chan<- framer.Chunk) error {
	r, err := s.open()
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		buf := make([]byte, s.readSize)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case out <- framer.Chunk{Data: buf[:n]}:
			case <-ctx.Done():
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", s.path, err)
		}
	}
}

func (s *FileSource) open() (io.ReadCloser, error) {
	if strings.HasSuffix(s.path, ".zst") {
		r, err := OpenArchive(s.path)
		if err != nil {
			return nil, fmt.Errorf("open archive %s: %w", s.path, err)
		}
		return r, nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	return f, nil
}
