// Package serial reads the controller's printer stream from a serial port
// and echoes it to a downstream printer.
package serial

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/bft-labs/edgeship/internal/backoff"
	"github.com/bft-labs/edgeship/internal/framer"
	"github.com/bft-labs/edgeship/pkg/log"
)

// Defaults for Config.
const (
	DefaultBaud        = 9600
	DefaultReadTimeout = 100 * time.Millisecond
	DefaultReadSize    = 1024
)

// Opener opens a serial port. serial.Open satisfies it.
type Opener func(name string, mode *serial.Mode) (serial.Port, error)

// Config controls a Source.
type Config struct {
	Port        string
	Baud        int
	ReadTimeout time.Duration
	ReadSize    int

	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (c *Config) applyDefaults() {
	if c.Baud <= 0 {
		c.Baud = DefaultBaud
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.ReadSize <= 0 {
		c.ReadSize = DefaultReadSize
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = backoff.DefaultInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = backoff.DefaultMax
	}
}

func (c Config) mode() *serial.Mode {
	return &serial.Mode{
		BaudRate: c.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Option configures a Source.
type Option func(*Source)

// WithOpener replaces serial.Open, for tests.
func WithOpener(open Opener) Option {
	return func(s *Source) { s.open = open }
}

// Source implements ports.Source over a serial port. A missing or failing
// port is not an error: the source keeps reconnecting with backoff until
// ctx is done.
type Source struct {
	cfg    Config
	open   Opener
	logger log.Logger

	connected atomic.Bool
	lastData  atomic.Int64
	reconnect atomic.Int64
}

// NewSource creates a serial source for cfg.Port.
func NewSource(cfg Config, logger log.Logger, opts ...Option) *Source {
	cfg.applyDefaults()
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	s := &Source{cfg: cfg, open: serial.Open, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements ports.Source.
func (s *Source) Name() string { return "serial:" + s.cfg.Port }

// Connected reports whether the port is open.
func (s *Source) Connected() bool { return s.connected.Load() }

// LastDataReceived returns when bytes last arrived, or the zero time.
func (s *Source) LastDataReceived() time.Time {
	ns := s.lastData.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Reconnects returns how many times the port was reopened after a failure.
func (s *Source) Reconnects() int64 { return s.reconnect.Load() }

// Stream implements ports.Source. It returns nil when ctx is done.
func (s *Source) Stream(ctx context.Context, out chan<- framer.Chunk) error {
	b := backoff.New(s.cfg.BackoffInitial, s.cfg.BackoffMax)
	first := true

	for ctx.Err() == nil {
		port, err := s.openPort()
		if err != nil {
			s.logger.Warn("serial port unavailable",
				log.String("port", s.cfg.Port),
				log.Duration("retry_in", b.Current()),
				log.Err(err),
			)
			if !b.Sleep(ctx) {
				break
			}
			continue
		}
		if !first {
			s.reconnect.Add(1)
		}
		first = false
		b.Reset()

		s.connected.Store(true)
		s.logger.Info("serial port opened",
			log.String("port", s.cfg.Port),
			log.Int("baud", s.cfg.Baud),
		)

		err = s.readLoop(ctx, port, out)
		s.connected.Store(false)
		_ = port.Close()

		if err == nil || ctx.Err() != nil {
			break
		}
		s.logger.Warn("serial read failed, reconnecting",
			log.String("port", s.cfg.Port),
			log.Err(err),
		)
		if !b.Sleep(ctx) {
			break
		}
	}
	return nil
}

func (s *Source) openPort() (serial.Port, error) {
	port, err := s.open(s.cfg.Port, s.cfg.mode())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.cfg.Port, err)
	}
	if err := port.SetReadTimeout(s.cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return port, nil
}

// readLoop returns nil when ctx is done and the read error otherwise.
// A read that times out returns zero bytes and no error.
func (s *Source) readLoop(ctx context.Context, port serial.Port, out chan<- framer.Chunk) error {
	buf := make([]byte, s.cfg.ReadSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := port.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		s.lastData.Store(time.Now().UnixNano())

		chunk := framer.Chunk{Data: append([]byte(nil), buf[:n]...)}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return nil
		}
	}
}

// ErrPrinterClosed is returned by Printer.Write after Close.
var ErrPrinterClosed = errors.New("printer closed")

// Printer writes the raw stream to the downstream printer port. The port is
// opened lazily and reopened after a write failure, at most once per
// backoff interval. Failures are returned to the caller and never block it
// for longer than one open attempt.
type Printer struct {
	name string
	mode *serial.Mode
	open Opener
	now  func() time.Time

	mu      sync.Mutex
	port    serial.Port
	backoff *backoff.Backoff
	nextTry time.Time
	closed  bool
}

// NewPrinter creates a printer writer for the named port. open may be nil.
func NewPrinter(name string, baud int, open Opener) *Printer {
	cfg := Config{Port: name, Baud: baud}
	cfg.applyDefaults()
	if open == nil {
		open = serial.Open
	}
	return &Printer{
		name:    name,
		mode:    cfg.mode(),
		open:    open,
		now:     time.Now,
		backoff: backoff.New(cfg.BackoffInitial, cfg.BackoffMax),
	}
}

// Write implements io.Writer.
func (p *Printer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrPrinterClosed
	}
	if p.port == nil {
		now := p.now()
		if now.Before(p.nextTry) {
			return 0, fmt.Errorf("printer %s unavailable", p.name)
		}
		port, err := p.open(p.name, p.mode)
		if err != nil {
			p.nextTry = now.Add(p.backoff.Next())
			return 0, fmt.Errorf("open printer %s: %w", p.name, err)
		}
		p.port = port
		p.backoff.Reset()
	}

	n, err := p.port.Write(b)
	if err != nil {
		_ = p.port.Close()
		p.port = nil
		p.nextTry = p.now().Add(p.backoff.Next())
		return n, fmt.Errorf("write printer %s: %w", p.name, err)
	}
	return n, nil
}

// Close closes the port.
func (p *Printer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
