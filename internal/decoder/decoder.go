// Package decoder classifies framed fragments of the controller stream and
// extracts the fields of the events they describe.
//
// Decode is a pure function over an explicit State value, so a decoder can
// be replayed, snapshotted and tested without shared mutable state. The
// Decoder type wraps it for a pipeline goroutine that owns the state.
package decoder

import (
	"time"

	"github.com/bft-labs/edgeship/internal/domain"
	"github.com/bft-labs/edgeship/internal/framer"
)

// SummaryField names the daily report line an extraction came from.
type SummaryField string

const (
	SummaryNone           SummaryField = ""
	SummaryDailyIn        SummaryField = "daily_in"
	SummaryDailyOut       SummaryField = "daily_out"
	SummaryDailyTotalPaid SummaryField = "daily_total_paid"
)

// Extraction is the raw field set of one recognized event. Amount is the
// matched text and is parsed by the event builder.
type Extraction struct {
	Type     domain.EventType
	Machine  int
	Amount   string
	Summary  SummaryField
	Inferred bool
	Fields   map[string]string
	Raw      string
	At       time.Time
}

// DiagnosticKind classifies a fragment that produced no event or produced
// one under a documented risk.
type DiagnosticKind int

const (
	DiagUnrecognized DiagnosticKind = iota + 1
	DiagMalformed
	DiagUnattributed
	DiagInferred
)

func (k DiagnosticKind) String() string {
	switch k {
	case DiagUnrecognized:
		return "unrecognized"
	case DiagMalformed:
		return "malformed"
	case DiagUnattributed:
		return "unattributed"
	case DiagInferred:
		return "inferred"
	default:
		return "none"
	}
}

// Diagnostic describes why a fragment was dropped or flagged.
type Diagnostic struct {
	Kind DiagnosticKind
	Text string
	Err  error
}

// Result is the outcome of decoding one fragment. Matcher names the rule
// that claimed the fragment, empty when none did.
type Result struct {
	Matcher    string
	Extraction *Extraction
	Diagnostic *Diagnostic
}

// Decode classifies f against st and returns the next state.
func Decode(st State, f framer.Fragment, p Policy) (State, Result) {
	var (
		next State
		res  Result
	)
	switch f.Kind {
	case framer.KindLine:
		next, res = decodeLine(st, f, p)
	case framer.KindAssembly:
		next, res = decodeAssembly(st, f)
	default:
		return st, Result{}
	}
	return next.normalize(), res
}

func decodeLine(st State, f framer.Fragment, p Policy) (State, Result) {
	st.AssemblyInProgress = f.InAssembly
	st.AssemblyDeadline = f.AssemblyDeadline

	in := lineInput{text: sanitize(f.Data, false), at: f.At, policy: p}
	for _, m := range lineMatchers {
		next, res, ok := m.match(st, in)
		st = next
		if ok {
			res.Matcher = m.name
			return st, res
		}
	}

	if st.AssemblyInProgress && !in.at.After(st.AssemblyDeadline) {
		return st, Result{Matcher: "assembly_body"}
	}
	return st, Result{Diagnostic: &Diagnostic{Kind: DiagUnrecognized, Text: in.text}}
}

// Decoder owns a State for a single goroutine.
type Decoder struct {
	state  State
	policy Policy
}

// New creates a Decoder in the idle state.
func New(p Policy) *Decoder {
	return &Decoder{policy: p}
}

// Feed decodes one fragment and advances the state.
func (d *Decoder) Feed(f framer.Fragment) Result {
	var res Result
	d.state, res = Decode(d.state, f, d.policy)
	return res
}

// State returns a copy of the current state.
func (d *Decoder) State() State {
	return d.state
}

// Reset returns the decoder to idle.
func (d *Decoder) Reset() {
	d.state = State{}
}
