// Package app runs the agent's decode pipeline: source, framer, decoder,
// builder and outbox, joined by bounded channels.
package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/edgeship/internal/backoff"
	"github.com/bft-labs/edgeship/internal/builder"
	"github.com/bft-labs/edgeship/internal/decoder"
	"github.com/bft-labs/edgeship/internal/domain"
	"github.com/bft-labs/edgeship/internal/framer"
	"github.com/bft-labs/edgeship/internal/ports"
	"github.com/bft-labs/edgeship/pkg/log"
)

// Default queue depths and append retry bounds.
const (
	DefaultChunkQueue    = 64
	DefaultFragmentQueue = 256
	DefaultRetryInitial  = 500 * time.Millisecond
	DefaultRetryMax      = 30 * time.Second
)

// PipelineConfig contains configuration for the decode pipeline.
type PipelineConfig struct {
	Framer framer.Config
	Policy decoder.Policy

	ChunkQueue    int
	FragmentQueue int

	// Append failures are retried with backoff between these bounds until
	// the append succeeds or the context ends.
	RetryInitial time.Duration
	RetryMax     time.Duration
}

func (c *PipelineConfig) applyDefaults() {
	if c.ChunkQueue <= 0 {
		c.ChunkQueue = DefaultChunkQueue
	}
	if c.FragmentQueue <= 0 {
		c.FragmentQueue = DefaultFragmentQueue
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = DefaultRetryInitial
	}
	if c.RetryMax <= 0 {
		c.RetryMax = DefaultRetryMax
	}
}

// Appender is the part of the outbox the pipeline writes to.
type Appender interface {
	Append(ctx context.Context, ev domain.Event) (int64, error)
}

// Notifier is told when new records are pending.
type Notifier interface {
	Nudge()
}

// Observer receives pipeline counters.
type Observer interface {
	OnChunk(n int)
	OnFragment(kind framer.Kind)
	OnDiagnostic(kind decoder.DiagnosticKind)
	OnAppended(ev domain.Event)
	OnAppendError(err error)
}

// EventHandler is called after an event is stored.
type EventHandler func(id int64, ev domain.Event)

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithObserver sets the pipeline observer.
func WithObserver(o Observer) PipelineOption {
	return func(p *Pipeline) { p.observer = o }
}

// WithNotifier sets who is nudged after each append.
func WithNotifier(n Notifier) PipelineOption {
	return func(p *Pipeline) { p.notifier = n }
}

// WithPassThrough mirrors raw chunks to sink.
func WithPassThrough(sink *framer.PassThrough) PipelineOption {
	return func(p *Pipeline) { p.sink = sink }
}

// WithBuilder replaces the event builder, for tests.
func WithBuilder(b *builder.Builder) PipelineOption {
	return func(p *Pipeline) { p.builder = b }
}

// WithEventHandler sets a callback for stored events.
func WithEventHandler(h EventHandler) PipelineOption {
	return func(p *Pipeline) { p.onEvent = h }
}

// Pipeline runs source -> framer -> decoder -> builder -> outbox. The
// decoder state is owned by the single consumer goroutine.
type Pipeline struct {
	cfg      PipelineConfig
	source   ports.Source
	outbox   Appender
	builder  *builder.Builder
	logger   log.Logger
	observer Observer
	notifier Notifier
	sink     *framer.PassThrough
	onEvent  EventHandler

	running  atomic.Bool
	lastData atomic.Int64
	mode     atomic.Int32
	stored   atomic.Int64
}

// NewPipeline creates a pipeline reading from source and appending to out.
func NewPipeline(cfg PipelineConfig, source ports.Source, out Appender, logger log.Logger, opts ...PipelineOption) *Pipeline {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	p := &Pipeline{
		cfg:      cfg,
		source:   source,
		outbox:   out,
		builder:  builder.New(),
		logger:   logger,
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run blocks until the source is exhausted and every fragment is handled,
// or until ctx is done. Cancellation is not an error.
func (p *Pipeline) Run(ctx context.Context) error {
	p.running.Store(true)
	defer p.running.Store(false)

	var opts []framer.Option
	if p.sink != nil {
		opts = append(opts, framer.WithPassThrough(p.sink))
	}
	fr := framer.New(p.cfg.Framer, opts...)

	raw := make(chan framer.Chunk, p.cfg.ChunkQueue)
	chunks := make(chan framer.Chunk, p.cfg.ChunkQueue)
	frags := make(chan framer.Fragment, p.cfg.FragmentQueue)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(raw)
		return p.source.Stream(gctx, raw)
	})
	g.Go(func() error {
		defer close(chunks)
		return p.relay(gctx, raw, chunks)
	})
	g.Go(func() error {
		defer close(frags)
		return fr.Run(gctx, chunks, frags)
	})
	g.Go(func() error {
		return p.consume(gctx, frags)
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// relay records source activity on the way to the framer.
func (p *Pipeline) relay(ctx context.Context, in <-chan framer.Chunk, out chan<- framer.Chunk) error {
	for c := range in {
		p.lastData.Store(time.Now().UnixNano())
		p.observer.OnChunk(len(c.Data))
		select {
		case out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Pipeline) consume(ctx context.Context, in <-chan framer.Fragment) error {
	dec := decoder.New(p.cfg.Policy)
	for {
		var (
			f  framer.Fragment
			ok bool
		)
		select {
		case f, ok = <-in:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		p.observer.OnFragment(f.Kind)
		if f.Kind == framer.KindCheckpoint {
			f.Ack()
			continue
		}

		res := dec.Feed(f)
		p.mode.Store(int32(dec.State().Mode))
		if res.Diagnostic != nil {
			p.diagnose(res)
		}
		if res.Extraction == nil {
			continue
		}

		ev, err := p.builder.Build(res.Extraction)
		if err != nil {
			p.observer.OnDiagnostic(decoder.DiagMalformed)
			p.logger.Warn("dropping undecodable fragment",
				log.String("matcher", res.Matcher),
				log.Err(err),
			)
			continue
		}
		if err := p.store(ctx, ev); err != nil {
			return err
		}
	}
}

func (p *Pipeline) diagnose(res decoder.Result) {
	d := res.Diagnostic
	p.observer.OnDiagnostic(d.Kind)
	switch d.Kind {
	case decoder.DiagInferred:
		fields := []log.Field{log.String("line", d.Text)}
		if x := res.Extraction; x != nil {
			fields = append(fields, log.Int("machine", x.Machine), log.String("amount", x.Amount))
		}
		p.logger.Warn("machine attribution inferred", fields...)
	case decoder.DiagMalformed:
		p.logger.Warn("dropping malformed fragment",
			log.String("matcher", res.Matcher),
			log.Err(d.Err),
		)
	case decoder.DiagUnattributed:
		p.logger.Info("daily summary line without machine", log.String("line", d.Text))
	default:
		p.logger.Debug("unrecognized line", log.String("line", d.Text))
	}
}

// store appends ev, retrying until it succeeds or ctx ends. Invalid events
// are dropped since no retry can fix them.
func (p *Pipeline) store(ctx context.Context, ev domain.Event) error {
	if err := ev.Validate(); err != nil {
		p.logger.Warn("dropping invalid event", log.String("type", string(ev.Type)), log.Err(err))
		return nil
	}

	b := backoff.New(p.cfg.RetryInitial, p.cfg.RetryMax)
	for {
		id, err := p.outbox.Append(ctx, ev)
		if err == nil {
			p.stored.Add(1)
			p.observer.OnAppended(ev)
			if p.onEvent != nil {
				p.onEvent(id, ev)
			}
			if p.notifier != nil {
				p.notifier.Nudge()
			}
			return nil
		}

		p.observer.OnAppendError(err)
		p.logger.Error("outbox append failed",
			log.String("type", string(ev.Type)),
			log.String("machine_id", ev.MachineID),
			log.Duration("retry_in", b.Current()),
			log.Err(err),
		)
		if !b.Sleep(ctx) {
			return ctx.Err()
		}
	}
}

// Connected implements health.Activity. It defers to the source when the
// source tracks hardware state.
func (p *Pipeline) Connected() bool {
	if s, ok := p.source.(ports.SourceStatus); ok {
		return s.Connected()
	}
	return p.running.Load()
}

// LastDataReceived implements health.Activity.
func (p *Pipeline) LastDataReceived() time.Time {
	ns := p.lastData.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// DecoderMode returns the decoder mode after the last fragment.
func (p *Pipeline) DecoderMode() decoder.Mode {
	return decoder.Mode(p.mode.Load())
}

// Stored returns how many events this pipeline has appended.
func (p *Pipeline) Stored() int64 {
	return p.stored.Load()
}

// SourceName returns the source's name.
func (p *Pipeline) SourceName() string {
	return p.source.Name()
}

type noopObserver struct{}

func (noopObserver) OnChunk(int)                         {}
func (noopObserver) OnFragment(framer.Kind)              {}
func (noopObserver) OnDiagnostic(decoder.DiagnosticKind) {}
func (noopObserver) OnAppended(domain.Event)             {}
func (noopObserver) OnAppendError(error)                 {}
