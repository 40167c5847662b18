// Package health sends periodic heartbeats to the backend.
package health

import (
	"context"
	"time"

	"github.com/bft-labs/edgeship/internal/domain"
	"github.com/bft-labs/edgeship/internal/ports"
	"github.com/bft-labs/edgeship/internal/syncer"
	"github.com/bft-labs/edgeship/pkg/log"
)

// DefaultInterval is the heartbeat period.
const DefaultInterval = 30 * time.Second

// shutdownTimeout bounds the final heartbeat sent by Stop.
const shutdownTimeout = 5 * time.Second

// SyncStatus is the part of the sync engine the reporter reads.
type SyncStatus interface {
	Status() syncer.Status
}

// Activity reports source connectivity and the last time data arrived.
type Activity interface {
	Connected() bool
	LastDataReceived() time.Time
}

// Reporter builds and sends heartbeats.
type Reporter struct {
	backend  ports.Backend
	outbox   ports.Outbox
	sync     SyncStatus
	activity Activity
	version  string
	interval time.Duration
	started  time.Time
	now      func() time.Time
	logger   log.Logger
}

// Config holds the reporter parameters.
type Config struct {
	Version  string
	Interval time.Duration
	Now      func() time.Time
}

// New creates a Reporter. activity may be nil when no source is attached.
func New(backend ports.Backend, outbox ports.Outbox, sync SyncStatus, activity Activity, cfg Config, logger log.Logger) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Reporter{
		backend:  backend,
		outbox:   outbox,
		sync:     sync,
		activity: activity,
		version:  cfg.Version,
		interval: cfg.Interval,
		started:  cfg.Now(),
		now:      cfg.Now,
		logger:   logger,
	}
}

// Snapshot builds the current heartbeat payload.
func (r *Reporter) Snapshot(ctx context.Context) domain.Heartbeat {
	hb := domain.Heartbeat{
		PiVersion: r.version,
		Uptime:    int64(r.now().Sub(r.started) / time.Second),
	}
	if r.activity != nil {
		hb.SerialConnected = r.activity.Connected()
		hb.LastDataReceived = timePtr(r.activity.LastDataReceived())
	}
	if stats, err := r.outbox.Stats(ctx); err == nil {
		hb.QueueSize = stats.PendingCount
	} else {
		r.logger.Warn("heartbeat: outbox stats unavailable", log.Err(err))
	}
	if r.sync != nil {
		st := r.sync.Status()
		hb.Online = st.Online
		hb.LastSuccessfulSync = timePtr(st.LastSuccessfulSync)
	}
	return hb
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

// Send sends one heartbeat. Failures are logged and returned.
func (r *Reporter) Send(ctx context.Context) error {
	hb := r.Snapshot(ctx)
	if err := r.backend.Heartbeat(ctx, hb); err != nil {
		r.logger.Warn("heartbeat failed", log.Err(err))
		return err
	}
	r.logger.Debug("heartbeat sent", log.Int64("queue_size", hb.QueueSize), log.Bool("online", hb.Online))
	return nil
}

// Run sends a heartbeat every interval until ctx is done, then sends a
// final shutting_down heartbeat.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Stop()
			return nil
		case <-ticker.C:
			_ = r.Send(ctx)
		}
	}
}

// Stop sends the final heartbeat with status shutting_down.
func (r *Reporter) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hb := r.Snapshot(ctx)
	hb.Status = domain.HeartbeatShuttingDown
	if err := r.backend.Heartbeat(ctx, hb); err != nil {
		r.logger.Warn("final heartbeat failed", log.Err(err))
	}
}
