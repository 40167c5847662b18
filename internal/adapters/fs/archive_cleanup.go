package fs

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bft-labs/edgeship/pkg/log"
)

// ArchiveCleanupConfig controls removal of rotated spool archives.
type ArchiveCleanupConfig struct {
	// CheckInterval is how often archive size is checked.
	// Default: 24 hours
	CheckInterval time.Duration

	// HighWatermark is the total archive size in bytes above which
	// cleanup begins. Default: 1 GiB
	HighWatermark int64

	// LowWatermark is the target total size after cleanup.
	// Default: 768 MiB
	LowWatermark int64
}

// DefaultArchiveCleanupConfig returns the default watermarks.
func DefaultArchiveCleanupConfig() ArchiveCleanupConfig {
	return ArchiveCleanupConfig{
		CheckInterval: 24 * time.Hour,
		HighWatermark: 1 << 30,
		LowWatermark:  3 << 28,
	}
}

// ArchiveCleaner removes the oldest <spool>.*.zst archives once their total
// size passes the high watermark, until it is back under the low one.
type ArchiveCleaner struct {
	mu sync.Mutex

	spool  string
	cfg    ArchiveCleanupConfig
	logger log.Logger
}

// NewArchiveCleaner creates a cleaner for archives of spool.
func NewArchiveCleaner(spool string, cfg ArchiveCleanupConfig, logger log.Logger) *ArchiveCleaner {
	def := DefaultArchiveCleanupConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.HighWatermark <= 0 {
		cfg.HighWatermark = def.HighWatermark
	}
	if cfg.LowWatermark <= 0 || cfg.LowWatermark > cfg.HighWatermark {
		cfg.LowWatermark = cfg.HighWatermark * 3 / 4
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &ArchiveCleaner{spool: spool, cfg: cfg, logger: logger}
}

// Run checks immediately and then every CheckInterval until ctx is done.
func (c *ArchiveCleaner) Run(ctx context.Context) error {
	c.CleanupOnce(ctx)

	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.CleanupOnce(ctx)
		}
	}
}

type archive struct {
	path string
	size int64
}

// CleanupOnce runs one pass and returns the bytes freed.
func (c *ArchiveCleaner) CleanupOnce(ctx context.Context) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	archives, total, err := c.list()
	if err != nil {
		c.logger.Error("archive cleanup: list failed", log.Err(err))
		return 0
	}
	if total <= c.cfg.HighWatermark {
		return 0
	}

	var freed int64
	for _, a := range archives {
		if ctx.Err() != nil || total <= c.cfg.LowWatermark {
			break
		}
		if err := os.Remove(a.path); err != nil {
			c.logger.Error("archive cleanup: remove failed", log.String("path", a.path), log.Err(err))
			continue
		}
		total -= a.size
		freed += a.size
	}
	if freed > 0 {
		c.logger.Info("archive cleanup completed", log.Int64("bytes_freed", freed))
	}
	return freed
}

// list returns archives oldest first. The timestamp in the name sorts
// lexically.
func (c *ArchiveCleaner) list() ([]archive, int64, error) {
	dir := filepath.Dir(c.spool)
	prefix := filepath.Base(c.spool) + "."
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, err
	}

	var (
		out   []archive
		total int64
	)
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".zst") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, archive{path: filepath.Join(dir, name), size: info.Size()})
		total += info.Size()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, total, nil
}
