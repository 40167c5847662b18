// Package syncer reconciles the outbox with the backend.
//
// A tick probes connectivity, then drains each record class in insertion
// order, stopping a class at its first failure. Records stay pending until
// the backend accepts them, so delivery is at-least-once.
package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/edgeship/internal/domain"
	"github.com/bft-labs/edgeship/internal/ports"
	"github.com/bft-labs/edgeship/pkg/log"
)

// Defaults for Config.
const (
	DefaultInterval        = 30 * time.Second
	DefaultInitialDelay    = 5 * time.Second
	DefaultBatchSize       = 10
	DefaultMaxAttempts     = 5
	DefaultCleanupInterval = 24 * time.Hour
)

// Config controls the engine.
type Config struct {
	Interval        time.Duration
	InitialDelay    time.Duration
	BatchSize       int
	MaxAttempts     int
	CleanupInterval time.Duration
	Now             func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// ClassReport is the outcome of draining one class.
type ClassReport struct {
	Delivered int   `json:"delivered"`
	Failed    int   `json:"failed"`
	Err       error `json:"-"`
}

// Report is the outcome of one tick.
type Report struct {
	Skipped bool                                `json:"skipped"`
	Online  bool                                `json:"online"`
	Classes map[domain.RecordClass]*ClassReport `json:"classes,omitempty"`
	Err     error                               `json:"-"`
}

// Delivered sums delivered records across classes.
func (r Report) Delivered() int {
	n := 0
	for _, c := range r.Classes {
		n += c.Delivered
	}
	return n
}

// Status is a snapshot of engine state.
type Status struct {
	Online             bool      `json:"online"`
	Syncing            bool      `json:"syncing"`
	LastSyncAttempt    time.Time `json:"lastSyncAttempt"`
	LastSuccessfulSync time.Time `json:"lastSuccessfulSync"`
	LastDelivered      int       `json:"lastDelivered"`
	LastFailed         int       `json:"lastFailed"`
	TotalDelivered     int64     `json:"totalDelivered"`
	TotalFailed        int64     `json:"totalFailed"`
}

// Observer receives tick outcomes. It is called synchronously from the tick.
type Observer interface {
	OnSync(r Report, d time.Duration)
}

// Engine is the sync engine. Its methods are safe for concurrent use.
type Engine struct {
	outbox  ports.Outbox
	backend ports.Backend
	cfg     Config
	logger  log.Logger
	obs     Observer

	online  atomic.Bool
	syncing atomic.Bool
	nudge   chan struct{}

	mu             sync.Mutex
	lastAttempt    time.Time
	lastSuccess    time.Time
	lastDelivered  int
	lastFailed     int
	totalDelivered int64
	totalFailed    int64
}

// New creates an Engine. obs may be nil.
func New(outbox ports.Outbox, backend ports.Backend, cfg Config, logger log.Logger, obs Observer) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Engine{
		outbox:  outbox,
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		obs:     obs,
		nudge:   make(chan struct{}, 1),
	}
}

// Online reports the result of the last probe.
func (e *Engine) Online() bool { return e.online.Load() }

// Tick runs one sync pass. A tick that overlaps another returns a skipped
// report without touching the outbox.
func (e *Engine) Tick(ctx context.Context) Report {
	if !e.syncing.CompareAndSwap(false, true) {
		return Report{Skipped: true, Online: e.online.Load()}
	}
	defer e.syncing.Store(false)

	start := e.cfg.Now()
	e.mu.Lock()
	e.lastAttempt = start
	e.mu.Unlock()

	rep := e.tick(ctx)
	e.record(rep, start)
	if e.obs != nil {
		e.obs.OnSync(rep, e.cfg.Now().Sub(start))
	}
	return rep
}

func (e *Engine) tick(ctx context.Context) Report {
	if err := e.backend.Probe(ctx); err != nil {
		if e.online.Swap(false) {
			e.logger.Warn("backend unreachable, going offline", log.Err(err))
		}
		return Report{Online: false, Err: err}
	}
	if !e.online.Swap(true) {
		e.logger.Info("backend reachable, online")
	}

	rep := Report{Online: true, Classes: map[domain.RecordClass]*ClassReport{}}
	var errs []error
	for _, class := range domain.Classes {
		cr := e.drain(ctx, class)
		rep.Classes[class] = cr
		if cr.Err != nil {
			errs = append(errs, cr.Err)
		}
	}
	rep.Err = errors.Join(errs...)
	return rep
}

// drain delivers up to BatchSize records of class and stops at the first
// failure so that later records never overtake an earlier one.
func (e *Engine) drain(ctx context.Context, class domain.RecordClass) *ClassReport {
	cr := &ClassReport{}
	recs, err := e.outbox.ListPending(ctx, class, e.cfg.BatchSize, e.cfg.MaxAttempts)
	if err != nil {
		cr.Err = err
		return cr
	}

	for _, rec := range recs {
		if err := e.submit(ctx, class, rec.Event); err != nil {
			cr.Failed++
			cr.Err = err
			if ierr := e.outbox.IncrementAttempts(ctx, rec.ID); ierr != nil {
				e.logger.Error("increment attempts failed", log.Int64("id", rec.ID), log.Err(ierr))
			} else if rec.Attempts+1 >= e.cfg.MaxAttempts {
				e.logger.Warn("record exhausted delivery attempts, left pending",
					log.Int64("id", rec.ID),
					log.String("class", string(class)),
					log.String("event_type", string(rec.Event.Type)),
					log.Int("attempts", rec.Attempts+1),
				)
			}
			e.logger.Debug("delivery failed, stopping batch",
				log.Int64("id", rec.ID),
				log.String("class", string(class)),
				log.Err(err),
			)
			return cr
		}
		if err := e.outbox.MarkSynced(ctx, rec.ID); err != nil {
			cr.Err = err
			return cr
		}
		cr.Delivered++
	}
	return cr
}

func (e *Engine) submit(ctx context.Context, class domain.RecordClass, ev domain.Event) error {
	if class == domain.ClassSessions {
		return e.backend.SubmitSession(ctx, ev)
	}
	return e.backend.SubmitEvent(ctx, ev)
}

func (e *Engine) record(rep Report, start time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastDelivered, e.lastFailed = 0, 0
	for _, c := range rep.Classes {
		e.lastDelivered += c.Delivered
		e.lastFailed += c.Failed
	}
	e.totalDelivered += int64(e.lastDelivered)
	e.totalFailed += int64(e.lastFailed)
	if rep.Err == nil {
		e.lastSuccess = start
	}
	if e.lastDelivered > 0 || e.lastFailed > 0 {
		e.logger.Info("sync tick",
			log.Int("delivered", e.lastDelivered),
			log.Int("failed", e.lastFailed),
		)
	}
}

// ForceSync runs a tick now. It honours the overlap guard.
func (e *Engine) ForceSync(ctx context.Context) Report {
	return e.Tick(ctx)
}

// Nudge asks Run for an early tick. It never blocks and repeated nudges
// before the tick coalesce.
func (e *Engine) Nudge() {
	select {
	case e.nudge <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Online:             e.online.Load(),
		Syncing:            e.syncing.Load(),
		LastSyncAttempt:    e.lastAttempt,
		LastSuccessfulSync: e.lastSuccess,
		LastDelivered:      e.lastDelivered,
		LastFailed:         e.lastFailed,
		TotalDelivered:     e.totalDelivered,
		TotalFailed:        e.totalFailed,
	}
}

// Run ticks after InitialDelay and then every Interval, plus on Nudge, and
// sweeps the outbox every CleanupInterval. It returns when ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	timer := time.NewTimer(e.cfg.InitialDelay)
	defer timer.Stop()
	cleanup := time.NewTicker(e.cfg.CleanupInterval)
	defer cleanup.Stop()

	e.logger.Info("sync engine started",
		log.Duration("interval", e.cfg.Interval),
		log.Int("batch_size", e.cfg.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			e.Tick(ctx)
			timer.Reset(e.cfg.Interval)
		case <-e.nudge:
			e.Tick(ctx)
		case <-cleanup.C:
			if _, err := e.outbox.Cleanup(ctx); err != nil {
				e.logger.Error("outbox cleanup failed", log.Err(err))
			}
		}
	}
}
