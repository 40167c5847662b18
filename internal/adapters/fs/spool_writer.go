package fs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/bft-labs/edgeship/pkg/log"
)

// DefaultSpoolMaxBytes is the spool size that triggers rotation.
const DefaultSpoolMaxBytes = 100 << 20

// archiveTimeFormat names rotated archives: <spool>.<stamp>.zst.
const archiveTimeFormat = "20060102T150405Z"

// SpoolWriter appends raw controller bytes to a spool file. When the file
// grows past MaxBytes it is compressed to <spool>.<timestamp>.zst and
// truncated. It is safe for concurrent use.
type SpoolWriter struct {
	path     string
	maxBytes int64
	now      func() time.Time
	logger   log.Logger

	mu   sync.Mutex
	f    *os.File
	size int64
}

// NewSpoolWriter opens path for appending, creating it if needed.
// maxBytes <= 0 uses DefaultSpoolMaxBytes.
func NewSpoolWriter(path string, maxBytes int64, logger log.Logger) (*SpoolWriter, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultSpoolMaxBytes
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	w := &SpoolWriter{path: path, maxBytes: maxBytes, now: time.Now, logger: logger}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *SpoolWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("spool dir: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat spool: %w", err)
	}
	w.f, w.size = f, info.Size()
	return nil
}

// Write appends p and rotates when the size limit is passed.
func (w *SpoolWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return 0, os.ErrClosed
	}

	n, err := w.f.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, err
	}
	if w.size > w.maxBytes {
		if err := w.rotate(); err != nil {
			w.logger.Error("spool rotation failed", log.String("path", w.path), log.Err(err))
		}
	}
	return n, nil
}

// rotate compresses the current spool into an archive and truncates it.
// A tailer sees the size shrink and restarts from offset zero.
func (w *SpoolWriter) rotate() error {
	if err := w.f.Sync(); err != nil {
		return err
	}
	archive := fmt.Sprintf("%s.%s.zst", w.path, w.now().UTC().Format(archiveTimeFormat))
	if err := compressFile(w.path, archive); err != nil {
		return err
	}
	if err := w.f.Truncate(0); err != nil {
		return err
	}
	w.logger.Info("spool rotated",
		log.String("archive", archive),
		log.Int64("bytes", w.size),
	)
	w.size = 0
	return nil
}

func compressFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if _, err = io.Copy(enc, in); err != nil {
		enc.Close()
		return err
	}
	if err = enc.Close(); err != nil {
		return err
	}
	if err = out.Sync(); err != nil {
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

// Sync flushes the spool to disk.
func (w *SpoolWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	return w.f.Sync()
}

// Close syncs and closes the spool.
func (w *SpoolWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Sync()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f = nil
	return err
}

// OpenArchive returns a reader over a rotated .zst archive.
func OpenArchive(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &archiveReader{dec: dec, f: f}, nil
}

type archiveReader struct {
	dec *zstd.Decoder
	f   *os.File
}

func (r *archiveReader) Read(p []byte) (int, error) { return r.dec.Read(p) }

func (r *archiveReader) Close() error {
	r.dec.Close()
	return r.f.Close()
}
