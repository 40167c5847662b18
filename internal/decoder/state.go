package decoder

import "time"

// Mode is the coarse decoder state derived from the context fields.
type Mode int

const (
	ModeIdle Mode = iota
	ModeAwaitingVoucherMachineNumber
	ModeAwaitingDailyAmount
)

func (m Mode) String() string {
	switch m {
	case ModeAwaitingVoucherMachineNumber:
		return "awaiting_voucher_machine_number"
	case ModeAwaitingDailyAmount:
		return "awaiting_daily_amount"
	default:
		return "idle"
	}
}

// State is the context carried from one fragment to the next. It is a plain
// value: Decode returns a new State and never mutates its argument.
type State struct {
	Mode Mode

	// Marker is the last explicit <N> machine marker, cleared once a
	// Daily In line consumes it. MarkerInferred is set when the marker was
	// guessed for a Daily Out line that arrived without one.
	Marker         int
	HasMarker      bool
	MarkerInferred bool

	// LastKnown is the machine whose daily block is open. It seeds the
	// next-machine inference when a marker line is lost.
	LastKnown    int
	HasLastKnown bool

	// GrandTotals is set by a "Unit Daily" header. Until the next marker,
	// amounts belong to the whole unit and are never attributed.
	GrandTotals bool

	AssemblyInProgress bool
	AssemblyDeadline   time.Time

	// PendingMachineNumberHeader is set after a MACHINE NUMBER header line
	// and cleared by the next non-empty line.
	PendingMachineNumberHeader bool
	VoucherMachine             int
	HasVoucherMachine          bool
}

// normalize derives Mode from the context fields.
func (s State) normalize() State {
	switch {
	case s.PendingMachineNumberHeader:
		s.Mode = ModeAwaitingVoucherMachineNumber
	case s.HasMarker:
		s.Mode = ModeAwaitingDailyAmount
	default:
		s.Mode = ModeIdle
	}
	return s
}

func (s State) withMarker(n int) State {
	s.Marker, s.HasMarker = n, true
	s.MarkerInferred = false
	s.LastKnown, s.HasLastKnown = n, true
	s.GrandTotals = false
	return s
}

func (s State) withInferredMarker(n int) State {
	s = s.withMarker(n)
	s.MarkerInferred = true
	return s
}

func (s State) clearMarker() State {
	s.Marker, s.HasMarker = 0, false
	s.MarkerInferred = false
	return s
}

func (s State) resetMachineContext() State {
	s.Marker, s.HasMarker = 0, false
	s.MarkerInferred = false
	s.LastKnown, s.HasLastKnown = 0, false
	s.VoucherMachine, s.HasVoucherMachine = 0, false
	s.PendingMachineNumberHeader = false
	return s
}

func (s State) clearVoucherContext() State {
	s.VoucherMachine, s.HasVoucherMachine = 0, false
	s.PendingMachineNumberHeader = false
	s.AssemblyInProgress = false
	s.AssemblyDeadline = time.Time{}
	return s
}

// Policy holds the tunable attribution rules.
type Policy struct {
	// InferMissingMachine attributes a daily amount line that has no
	// marker to the machine after the last one seen. A lost marker line makes
	// this misattribute totals, so the inferred events are tagged.
	InferMissingMachine bool

	// BootstrapMachine is used for a daily amount line when no machine has
	// been seen yet. Zero disables it.
	BootstrapMachine int
}

// DefaultBootstrapMachine is the first machine on the controller's daily
// report.
const DefaultBootstrapMachine = 29

// DefaultPolicy returns the attribution rules the controller reports were
// tuned against.
func DefaultPolicy() Policy {
	return Policy{InferMissingMachine: true, BootstrapMachine: DefaultBootstrapMachine}
}
