// Package framer splits the raw controller byte stream into fragments.
//
// Two framings run over the same bytes. The line channel splits on a fixed
// delimiter. The assembly channel collects multi-line receipt blocks that
// open on a start marker and close on the ESC 'P' terminator or when the
// assembly deadline passes, whichever comes first.
package framer

import (
	"bytes"
	"time"
)

// Kind identifies the channel a Fragment came from.
type Kind int

const (
	KindLine Kind = iota
	KindAssembly
	// KindCheckpoint carries no data. It follows every fragment framed from
	// one input chunk and lets the consumer acknowledge the chunk.
	KindCheckpoint
)

func (k Kind) String() string {
	switch k {
	case KindLine:
		return "line"
	case KindAssembly:
		return "assembly"
	case KindCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// Fragment is one framed unit of input.
type Fragment struct {
	Kind Kind
	Data []byte
	At   time.Time

	// Expired is set on assemblies closed by the deadline or size bound
	// instead of the terminator.
	Expired bool

	// InAssembly is set on lines framed while an assembly was open, and
	// AssemblyDeadline then holds that assembly's deadline.
	InAssembly       bool
	AssemblyDeadline time.Time

	ack func()
}

// Ack acknowledges a checkpoint fragment. It is a no-op for other kinds.
func (f Fragment) Ack() {
	if f.ack != nil {
		f.ack()
	}
}

// Defaults for Config.
const (
	DefaultAssemblyTimeout  = 2000 * time.Millisecond
	DefaultMaxLineBytes     = 4096
	DefaultMaxAssemblyBytes = 64 << 10
)

var (
	// DefaultDelimiter terminates lines on the controller's printer port.
	DefaultDelimiter = []byte("\r\n")
	// DefaultTerminator closes a receipt block: ESC 'P'.
	DefaultTerminator = []byte{0x1B, 'P'}
	// DefaultStartMarkers open a receipt block. Matching is case-insensitive.
	DefaultStartMarkers = [][]byte{[]byte("MACHINE NUMBER"), []byte("VOUCHER #")}
)

// Config controls framing.
type Config struct {
	Delimiter        []byte
	Terminator       []byte
	StartMarkers     [][]byte
	AssemblyTimeout  time.Duration
	MaxLineBytes     int
	MaxAssemblyBytes int
}

// DefaultConfig returns the framing used by the controller firmware.
func DefaultConfig() Config {
	return Config{
		Delimiter:        DefaultDelimiter,
		Terminator:       DefaultTerminator,
		StartMarkers:     DefaultStartMarkers,
		AssemblyTimeout:  DefaultAssemblyTimeout,
		MaxLineBytes:     DefaultMaxLineBytes,
		MaxAssemblyBytes: DefaultMaxAssemblyBytes,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if len(c.Delimiter) == 0 {
		c.Delimiter = d.Delimiter
	}
	if len(c.Terminator) == 0 {
		c.Terminator = d.Terminator
	}
	if len(c.StartMarkers) == 0 {
		c.StartMarkers = d.StartMarkers
	}
	if c.AssemblyTimeout <= 0 {
		c.AssemblyTimeout = d.AssemblyTimeout
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = d.MaxLineBytes
	}
	if c.MaxAssemblyBytes <= 0 {
		c.MaxAssemblyBytes = d.MaxAssemblyBytes
	}
	upper := make([][]byte, len(c.StartMarkers))
	for i, m := range c.StartMarkers {
		upper[i] = bytes.ToUpper(m)
	}
	c.StartMarkers = upper
}

// Option configures a Framer.
type Option func(*Framer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Framer) { f.now = now }
}

// WithPassThrough mirrors every raw chunk to sink. See PassThrough.
func WithPassThrough(sink *PassThrough) Option {
	return func(f *Framer) { f.sink = sink }
}

// Framer is not safe for concurrent use; one goroutine owns it.
type Framer struct {
	cfg  Config
	now  func() time.Time
	sink *PassThrough

	line []byte

	asm        []byte
	asmOpen    bool
	asmStarted time.Time
	markerAt   int
	carry      []byte
	partial    int
	maxMarker  int
}

// New creates a Framer.
func New(cfg Config, opts ...Option) *Framer {
	cfg.setDefaults()
	f := &Framer{cfg: cfg, now: time.Now}
	for _, m := range cfg.StartMarkers {
		if len(m) > f.maxMarker {
			f.maxMarker = len(m)
		}
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Feed frames one raw chunk. Lines completed by the chunk are returned
// before any assembly the chunk completes.
func (f *Framer) Feed(chunk []byte) []Fragment {
	if f.sink != nil {
		f.sink.Offer(chunk)
	}
	now := f.now()

	wasOpen := f.asmOpen
	deadline := now.Add(f.cfg.AssemblyTimeout)
	if wasOpen {
		deadline = f.asmStarted.Add(f.cfg.AssemblyTimeout)
	}
	assemblies := f.feedAssembly(chunk, now)
	inAsm := wasOpen || f.asmOpen || len(assemblies) > 0

	out := f.feedLines(chunk, now, inAsm, deadline)
	return append(out, assemblies...)
}

func (f *Framer) feedLines(chunk []byte, now time.Time, inAsm bool, deadline time.Time) []Fragment {
	var out []Fragment
	emit := func(b []byte) {
		fr := Fragment{Kind: KindLine, Data: append([]byte(nil), b...), At: now}
		if inAsm {
			fr.InAssembly = true
			fr.AssemblyDeadline = deadline
		}
		out = append(out, fr)
	}

	f.line = append(f.line, chunk...)
	delim := f.cfg.Delimiter
	for {
		idx := bytes.Index(f.line, delim)
		if idx < 0 {
			break
		}
		emit(f.line[:idx])
		f.line = f.line[idx+len(delim):]
	}
	for len(f.line) > f.cfg.MaxLineBytes {
		emit(f.line[:f.cfg.MaxLineBytes])
		f.line = f.line[f.cfg.MaxLineBytes:]
	}
	f.line = append([]byte(nil), f.line...)
	return out
}

func (f *Framer) feedAssembly(data []byte, now time.Time) []Fragment {
	var out []Fragment
	for len(data) > 0 {
		if !f.asmOpen {
			scan := append(f.carry, data...)
			idx := f.indexMarker(scan)
			if idx < 0 {
				f.carry = tail(scan, f.maxMarker-1)
				f.partial = f.markerPrefixLen(f.carry)
				return out
			}
			f.asmOpen = true
			f.asmStarted = now
			f.asm = scan
			f.markerAt = idx
			f.carry = nil
			f.partial = 0
		} else {
			f.asm = append(f.asm, data...)
		}
		data = nil

		if end := f.terminatorEnd(); end >= 0 {
			out = append(out, Fragment{Kind: KindAssembly, Data: append([]byte(nil), f.asm[:end]...), At: now})
			data = append([]byte(nil), f.asm[end:]...)
			f.resetAssembly()
			continue
		}
		if len(f.asm) > f.cfg.MaxAssemblyBytes {
			out = append(out, f.closeAssembly(now))
		}
	}
	return out
}

func (f *Framer) indexMarker(b []byte) int {
	upper := bytes.ToUpper(b)
	best := -1
	for _, m := range f.cfg.StartMarkers {
		if i := bytes.Index(upper, m); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

// markerPrefixLen returns the length of the longest suffix of b that could
// begin a start marker.
func (f *Framer) markerPrefixLen(b []byte) int {
	upper := bytes.ToUpper(b)
	for n := len(upper); n > 0; n-- {
		suffix := upper[len(upper)-n:]
		for _, m := range f.cfg.StartMarkers {
			if len(m) > n && bytes.HasPrefix(m, suffix) {
				return n
			}
		}
	}
	return 0
}

// terminatorEnd returns the index just past the terminator (and its
// optional trailing NUL), or -1.
func (f *Framer) terminatorEnd() int {
	term := f.cfg.Terminator
	i := bytes.Index(f.asm[f.markerAt:], term)
	if i < 0 {
		return -1
	}
	end := f.markerAt + i + len(term)
	if end < len(f.asm) && f.asm[end] == 0x00 {
		end++
	}
	return end
}

func (f *Framer) closeAssembly(now time.Time) Fragment {
	fr := Fragment{Kind: KindAssembly, Data: append([]byte(nil), f.asm...), At: now, Expired: true}
	f.resetAssembly()
	return fr
}

func (f *Framer) resetAssembly() {
	f.asm = nil
	f.asmOpen = false
	f.asmStarted = time.Time{}
	f.markerAt = 0
	f.carry = nil
	f.partial = 0
}

// Deadline returns when the open assembly expires.
func (f *Framer) Deadline() (time.Time, bool) {
	if !f.asmOpen {
		return time.Time{}, false
	}
	return f.asmStarted.Add(f.cfg.AssemblyTimeout), true
}

// Expire closes the open assembly if its deadline is at or before now.
func (f *Framer) Expire(now time.Time) (Fragment, bool) {
	d, ok := f.Deadline()
	if !ok || now.Before(d) {
		return Fragment{}, false
	}
	return f.closeAssembly(now), true
}

// Flush emits any partial line and closes an open assembly. It is called
// when the input ends.
func (f *Framer) Flush() []Fragment {
	now := f.now()
	var out []Fragment
	if len(f.line) > 0 {
		out = append(out, Fragment{Kind: KindLine, Data: f.line, At: now})
		f.line = nil
	}
	if f.asmOpen {
		out = append(out, f.closeAssembly(now))
	}
	f.carry = nil
	f.partial = 0
	return out
}

// Pending is the number of trailing input bytes not yet emitted on both
// channels. A reader resuming from a persisted offset must replay them.
// This includes a trailing partial start marker, which the next chunk may
// complete.
func (f *Framer) Pending() int {
	n := len(f.line)
	if f.asmOpen && len(f.asm) > n {
		n = len(f.asm)
	}
	if !f.asmOpen && f.partial > n {
		n = f.partial
	}
	return n
}

// AssemblyOpen reports whether a receipt block is being collected.
func (f *Framer) AssemblyOpen() bool {
	return f.asmOpen
}

func tail(b []byte, n int) []byte {
	if n <= 0 {
		return nil
	}
	if len(b) <= n {
		return append([]byte(nil), b...)
	}
	return append([]byte(nil), b[len(b)-n:]...)
}
