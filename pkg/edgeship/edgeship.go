package edgeship

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/edgeship/internal/adapters/fs"
	httpadapter "github.com/bft-labs/edgeship/internal/adapters/http"
	"github.com/bft-labs/edgeship/internal/adapters/serial"
	"github.com/bft-labs/edgeship/internal/app"
	"github.com/bft-labs/edgeship/internal/framer"
	"github.com/bft-labs/edgeship/internal/health"
	"github.com/bft-labs/edgeship/internal/metrics"
	"github.com/bft-labs/edgeship/internal/outbox"
	"github.com/bft-labs/edgeship/internal/ports"
	"github.com/bft-labs/edgeship/internal/syncer"
	"github.com/bft-labs/edgeship/pkg/lifecycle"
	"github.com/bft-labs/edgeship/pkg/log"
)

// Errors returned by Agent methods.
var (
	ErrNotRunning     = lifecycle.ErrNotRunning
	ErrAlreadyRunning = lifecycle.ErrAlreadyRunning
)

// passThroughDepth is the number of chunks buffered for the printer.
const passThroughDepth = 64

// Agent is an edge agent that can be embedded in other applications.
// Use New to create an instance, then Start to begin capturing.
type Agent struct {
	config    Config
	opts      options
	logger    log.Logger
	emitter   *eventEmitterWrapper
	lifecycle *lifecycle.DefaultManager

	mu       sync.RWMutex
	tokens   ports.TokenSource
	outbox   *outbox.Outbox
	engine   *syncer.Engine
	pipeline *app.Pipeline
}

// New creates an Agent in StateStopped. It returns an error if the
// configuration is invalid.
func New(cfg Config, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{httpClient: &http.Client{Timeout: cfg.HTTPTimeout}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewNoopLogger()
	}

	emitter := &eventEmitterWrapper{handler: o.eventHandler}
	return &Agent{
		config:    cfg,
		opts:      o,
		logger:    o.logger,
		emitter:   emitter,
		lifecycle: lifecycle.NewManager(o.logger, emitter),
	}, nil
}

// runner is one long-running component of a started agent.
type runner struct {
	name string
	run  func(context.Context) error
}

// Start opens the outbox and launches the pipeline, the sync engine and
// the heartbeat reporter in the background. It returns once the outbox is
// open. ctx bounds the agent's lifetime.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.lifecycle.CanStart() {
		return ErrAlreadyRunning
	}
	if err := a.lifecycle.TransitionTo(StateStarting, "Start() called"); err != nil {
		return err
	}

	runners, closers, err := a.build(ctx)
	if err != nil {
		a.logger.Error("agent startup failed", log.Err(err))
		_ = a.lifecycle.TransitionTo(StateCrashed, err.Error())
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.lifecycle.SetCancel(cancel)

	a.lifecycle.Go(func() {
		defer func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}()

		// Stop may have won the race while we were starting.
		if err := a.lifecycle.TransitionTo(StateRunning, "agent started"); err != nil {
			return
		}

		g, gctx := errgroup.WithContext(runCtx)
		for _, r := range runners {
			g.Go(func() error {
				if err := r.run(gctx); err != nil {
					return fmt.Errorf("%s: %w", r.name, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("agent error", log.Err(err))
			_ = a.lifecycle.TransitionTo(StateCrashed, err.Error())
		}
	})
	return nil
}

// build wires every component for one run. closers release resources in
// reverse order after the runners return.
func (a *Agent) build(ctx context.Context) ([]runner, []func(), error) {
	cfg := a.config
	var (
		runners []runner
		closers []func()
	)
	fail := func(err error) ([]runner, []func(), error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fail(fmt.Errorf("create data dir: %w", err))
	}
	ob, err := outbox.Open(ctx, outbox.Config{
		Path:       cfg.DBPath,
		MaxRecords: cfg.MaxRecords,
		Retention:  cfg.Retention,
		AttemptCap: cfg.MaxAttempts,
		Logger:     a.logger,
	})
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() {
		if err := ob.Close(); err != nil {
			a.logger.Warn("outbox close failed", log.Err(err))
		}
	})

	var tokens ports.TokenSource = httpadapter.StaticToken(cfg.Token)
	if cfg.Token == "" {
		tf := fs.NewTokenFile(cfg.TokenFile, a.logger)
		tokens = tf
		runners = append(runners, runner{"token watcher", tf.Run})
	}

	backend := httpadapter.NewBackend(a.opts.httpClient, tokens, ports.AgentMetadata{
		HubID:      cfg.HubID,
		Hostname:   hostname(),
		OSArch:     runtime.GOOS + "/" + runtime.GOARCH,
		ServiceURL: cfg.ServiceURL,
	}, a.logger)

	m := metrics.New()
	m.RegisterOutbox(ob.Stats, ob.Evicted)

	engine := syncer.New(ob, backend, syncer.Config{
		Interval:        cfg.SyncInterval,
		InitialDelay:    cfg.SyncInitialDelay,
		BatchSize:       cfg.SyncBatchSize,
		MaxAttempts:     cfg.MaxAttempts,
		CleanupInterval: cfg.CleanupInterval,
	}, a.logger, syncObservers{m, a.emitter})

	source, err := a.source()
	if err != nil {
		return fail(err)
	}

	popts := []app.PipelineOption{
		app.WithObserver(m),
		app.WithNotifier(engine),
		app.WithEventHandler(a.emitter.onStored),
	}
	if cfg.PrinterPort != "" {
		printer := serial.NewPrinter(cfg.PrinterPort, cfg.SerialBaud, a.opts.opener)
		sink := framer.NewPassThrough(printer, passThroughDepth, func(err error) {
			a.logger.Warn("printer pass-through failed", log.Err(err))
		})
		m.RegisterPassThroughDrops(sink.Dropped)
		popts = append(popts, app.WithPassThrough(sink))
		closers = append(closers, func() {
			sink.Close()
			_ = printer.Close()
		})
	}
	pipeline := app.NewPipeline(app.PipelineConfig{
		Framer: cfg.framerConfig(),
		Policy: cfg.policy(),
	}, source, ob, a.logger, popts...)

	reporter := health.New(backend, ob, engine, pipeline, health.Config{
		Version:  cfg.Version,
		Interval: cfg.HeartbeatInterval,
	}, a.logger)

	runners = append(runners,
		runner{"pipeline", pipeline.Run},
		runner{"sync engine", engine.Run},
		runner{"heartbeat", reporter.Run},
	)
	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, m, func(ctx context.Context) any {
			return a.Snapshot(ctx)
		}, a.logger)
		runners = append(runners, runner{"status server", srv.Run})
	}
	if a.opts.archiveConfig != nil && cfg.Source == SourceSpool {
		cleaner := fs.NewArchiveCleaner(cfg.SpoolPath, *a.opts.archiveConfig, a.logger)
		runners = append(runners, runner{"archive cleaner", cleaner.Run})
	}

	a.tokens = tokens
	a.outbox = ob
	a.engine = engine
	a.pipeline = pipeline
	return runners, closers, nil
}

func (a *Agent) source() (ports.Source, error) {
	cfg := a.config
	switch cfg.Source {
	case SourceSpool:
		positions := fs.NewPositionFile(cfg.SpoolPositionPath)
		return fs.NewSpoolTailer(fs.TailerConfig{
			Path:         cfg.SpoolPath,
			PollInterval: cfg.SpoolPollInterval,
		}, positions, a.logger), nil
	case SourceSerial:
		var opts []serial.Option
		if a.opts.opener != nil {
			opts = append(opts, serial.WithOpener(a.opts.opener))
		}
		return serial.NewSource(serial.Config{
			Port: cfg.SerialPort,
			Baud: cfg.SerialBaud,
		}, a.logger, opts...), nil
	default:
		return nil, invalid("unknown source %q", cfg.Source)
	}
}

// Stop cancels the agent and waits for its goroutines. A final heartbeat
// is sent and the outbox is closed. It returns ErrShutdownTimeout if the
// goroutines do not finish within lifecycle.ShutdownTimeout.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if !a.lifecycle.CanStop() {
		a.mu.Unlock()
		return ErrNotRunning
	}
	if err := a.lifecycle.TransitionTo(StateStopping, "Stop() called"); err != nil {
		a.mu.Unlock()
		return err
	}
	a.lifecycle.Cancel()
	a.mu.Unlock()

	err := a.lifecycle.WaitWithTimeout(lifecycle.ShutdownTimeout)
	if err != nil {
		_ = a.lifecycle.TransitionTo(StateCrashed, "shutdown timeout")
	} else {
		_ = a.lifecycle.TransitionTo(StateStopped, "graceful shutdown")
	}
	return err
}

// Status returns the current lifecycle state.
func (a *Agent) Status() State {
	return a.lifecycle.State()
}

// Changed returns a channel that is closed on the next state change.
func (a *Agent) Changed() <-chan struct{} {
	return a.lifecycle.Changed()
}

// SourceReport describes the byte source.
type SourceReport struct {
	Name             string    `json:"name"`
	Connected        bool      `json:"connected"`
	LastDataReceived time.Time `json:"lastDataReceived"`
	DecoderMode      string    `json:"decoderMode"`
	Stored           int64     `json:"stored"`
}

// StatusReport is the agent's /status document.
type StatusReport struct {
	State  string       `json:"state"`
	HubID  string       `json:"hubId"`
	Source SourceReport `json:"source"`
	Sync   SyncStatus   `json:"sync"`
	Outbox OutboxStats  `json:"outbox"`
	Error  string       `json:"error,omitempty"`
}

// Snapshot reports the agent's current state. Fields of components that
// were never started are zero.
func (a *Agent) Snapshot(ctx context.Context) StatusReport {
	a.mu.RLock()
	tokens, ob, engine, pipeline := a.tokens, a.outbox, a.engine, a.pipeline
	a.mu.RUnlock()

	rep := StatusReport{State: a.Status().String(), HubID: a.config.HubID}
	if tf, ok := tokens.(*fs.TokenFile); ok && rep.HubID == "" {
		rep.HubID = tf.HubID()
	}
	if pipeline != nil {
		rep.Source = SourceReport{
			Name:             pipeline.SourceName(),
			Connected:        pipeline.Connected(),
			LastDataReceived: pipeline.LastDataReceived(),
			DecoderMode:      pipeline.DecoderMode().String(),
			Stored:           pipeline.Stored(),
		}
	}
	if engine != nil {
		rep.Sync = engine.Status()
	}
	if ob != nil && a.Status() == StateRunning {
		stats, err := ob.Stats(ctx)
		if err != nil {
			rep.Error = err.Error()
		}
		rep.Outbox = stats
	}
	return rep
}

// ForceSync runs one sync tick immediately.
func (a *Agent) ForceSync(ctx context.Context) (SyncReport, error) {
	a.mu.RLock()
	engine := a.engine
	a.mu.RUnlock()
	if engine == nil || a.Status() != StateRunning {
		return SyncReport{}, ErrNotRunning
	}
	return engine.ForceSync(ctx), nil
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}
