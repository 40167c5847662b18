package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/edgeship/internal/domain"
	"github.com/bft-labs/edgeship/internal/framer"
	"github.com/bft-labs/edgeship/internal/ports"
	"github.com/bft-labs/edgeship/pkg/log"
)

// Defaults for TailerConfig.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultReadSize     = 4096
)

// TailerConfig controls a SpoolTailer.
type TailerConfig struct {
	Path         string
	PollInterval time.Duration
	ReadSize     int
}

// SpoolTailer implements ports.Source by following a spool file from a
// persisted position. The committed position only advances past bytes
// the framer has emitted and the consumer has acknowledged.
type SpoolTailer struct {
	cfg       TailerConfig
	positions ports.PositionRepository
	logger    log.Logger

	mu         sync.Mutex
	committed  int64
	generation int64
	dirty      bool

	open atomic.Bool
}

// NewSpoolTailer creates a tailer for cfg.Path.
func NewSpoolTailer(cfg TailerConfig, positions ports.PositionRepository, logger log.Logger) *SpoolTailer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = DefaultReadSize
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &SpoolTailer{cfg: cfg, positions: positions, logger: logger}
}

// Name implements ports.Source.
func (t *SpoolTailer) Name() string { return "spool:" + t.cfg.Path }

// Connected reports whether the spool file is open.
func (t *SpoolTailer) Connected() bool { return t.open.Load() }

// Committed returns the last acknowledged offset.
func (t *SpoolTailer) Committed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

// Stream implements ports.Source. It returns nil when ctx is done.
func (t *SpoolTailer) Stream(ctx context.Context, out chan<- framer.Chunk) error {
	pos, err := t.positions.Load(ctx)
	if err != nil {
		return fmt.Errorf("load spool position: %w", err)
	}
	if pos.Path != "" && pos.Path != t.cfg.Path {
		t.logger.Warn("spool path changed, starting from the beginning",
			log.String("saved", pos.Path), log.String("path", t.cfg.Path))
		pos = domain.SpoolPosition{}
	}
	t.mu.Lock()
	t.committed = pos.Offset
	t.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(t.cfg.Path)); err != nil {
		return fmt.Errorf("spool watcher: %w", err)
	}

	poll := time.NewTicker(t.cfg.PollInterval)
	defer poll.Stop()
	defer t.flush()

	t.logger.Info("tailing spool",
		log.String("path", t.cfg.Path),
		log.Int64("offset", pos.Offset),
	)

	var (
		f      *os.File
		offset = pos.Offset
		buf    = make([]byte, t.cfg.ReadSize)
	)
	defer func() {
		if f != nil {
			f.Close()
		}
		t.open.Store(false)
	}()

	name := filepath.Base(t.cfg.Path)
	for {
		if f == nil {
			f, err = os.Open(t.cfg.Path)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("open spool: %w", err)
			}
			t.open.Store(f != nil)
		}

		if f != nil {
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stat spool: %w", err)
			}
			if info.Size() < offset {
				t.logger.Info("spool rotated, restarting from zero",
					log.Int64("offset", offset), log.Int64("size", info.Size()))
				offset = 0
				t.reset()
			}

			for {
				n, rerr := f.ReadAt(buf, offset)
				if n > 0 {
					data := make([]byte, n)
					copy(data, buf[:n])
					end := offset + int64(n)
					chunk := framer.Chunk{Data: data, Ack: t.acker(end)}
					select {
					case out <- chunk:
					case <-ctx.Done():
						return nil
					}
					offset = end
				}
				if rerr == io.EOF || n == 0 {
					break
				}
				if rerr != nil {
					return fmt.Errorf("read spool: %w", rerr)
				}
			}
		}

		t.flush()

		select {
		case <-ctx.Done():
			return nil
		case <-poll.C:
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				if f != nil {
					f.Close()
					f = nil
				}
				offset = 0
				t.reset()
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("spool watcher error", log.Err(werr))
		}
	}
}

// acker returns the Ack for a chunk ending at end. pending is the number of
// bytes the framer still holds, which must be re-read after a restart.
func (t *SpoolTailer) acker(end int64) func(pending int) {
	t.mu.Lock()
	gen := t.generation
	t.mu.Unlock()
	return func(pending int) {
		t.mu.Lock()
		defer t.mu.Unlock()
		if gen != t.generation {
			return
		}
		off := end - int64(pending)
		if off > t.committed {
			t.committed = off
			t.dirty = true
		}
	}
}

func (t *SpoolTailer) reset() {
	t.mu.Lock()
	t.generation++
	t.committed = 0
	t.dirty = true
	t.mu.Unlock()
}

// flush persists the committed offset when it moved.
func (t *SpoolTailer) flush() {
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return
	}
	pos := domain.SpoolPosition{Path: t.cfg.Path, Offset: t.committed, UpdatedAt: time.Now().UTC()}
	t.dirty = false
	t.mu.Unlock()

	if err := t.positions.Save(context.Background(), pos); err != nil {
		t.logger.Warn("save spool position failed", log.Err(err))
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
	}
}
