package decoder

import (
	"regexp"
	"strconv"
	"time"

	"github.com/bft-labs/edgeship/internal/domain"
)

type lineInput struct {
	text   string
	at     time.Time
	policy Policy
}

// lineMatcher claims a line when ok is true. A matcher may also return an
// updated state with ok false to let later matchers see the line.
type lineMatcher struct {
	name  string
	match func(st State, in lineInput) (next State, res Result, ok bool)
}

var (
	reUnitDaily    = regexp.MustCompile(`(?i)^unit\s+daily`)
	reMarker       = regexp.MustCompile(`^<\s*(\d+)\s*>$`)
	reCombined     = regexp.MustCompile(`(?i)<\s*(\d+)\s*>\s*daily\s+in\s*==\s*\$?\s*([\d,]*\d\.\d{2})`)
	reDailyIn      = regexp.MustCompile(`(?i)^daily\s+in\s*==\s*\$?\s*([\d,]*\d\.\d{2})`)
	reDailyOut     = regexp.MustCompile(`(?i)^daily\s+out\s*==\s*\$?\s*([\d,]*\d\.\d{2})`)
	reDailyPaid    = regexp.MustCompile(`(?i)^daily\s+total\s+paid\s*==\s*\$?\s*([\d,]*\d\.\d{2})`)
	reHeader       = regexp.MustCompile(`(?i)^machine\s+number\s*:?\s*(\d+)?$`)
	reBareNumber   = regexp.MustCompile(`^\d+$`)
	reVoucherPrint = regexp.MustCompile(`(?i)voucher\s+print:\s*\$\s*([\d,]*\d\.\d{2})\s*-\s*machine\s+(\d+)`)
	reMoneyIn      = regexp.MustCompile(`(?i)money\s+in:\s*\$\s*([\d,]*\d\.\d{2})\s*-\s*machine\s+(\d+)`)
	reCollect      = regexp.MustCompile(`(?i)collect:\s*\$\s*([\d,]*\d\.\d{2})\s*-\s*machine\s+(\d+)`)
	reSessionStart = regexp.MustCompile(`(?i)session\s+start\s*-\s*machine\s+(\d+)`)
	reSessionEnd   = regexp.MustCompile(`(?i)session\s+end\s*-\s*machine\s+(\d+)`)

	boilerplate = []*regexp.Regexp{
		regexp.MustCompile(`^[*_\-=]+$`),
		regexp.MustCompile(`(?i)^daily\s+(books|of|remote|match|total)`),
		regexp.MustCompile(`(?i)^(date|serial|last\s+cleared|dailies)`),
		regexp.MustCompile(`(?i)^this\s+voucher`),
		regexp.MustCompile(`(?i)by\s+this\s+base\s+unit`),
		regexp.MustCompile(`(?i)^out\s*==`),
	}
)

// lineMatchers is evaluated in order. The order resolves overlapping text:
// "Unit Daily" must reset context before anything else sees the line, the
// combined marker+amount form must win over the bare marker, and the daily
// amount patterns must run before the "Daily Total" boilerplate header.
var lineMatchers = []lineMatcher{
	{"empty", matchEmpty},
	{"voucher_machine_number", matchVoucherMachineNumber},
	{"unit_daily", matchUnitDaily},
	{"machine_marker", matchMarker},
	{"combined_daily_in", matchCombined},
	{"daily_amount", matchDailyAmount},
	{"machine_number_header", matchHeader},
	{"legacy", matchLegacy},
	{"boilerplate", matchBoilerplate},
}

func matchEmpty(st State, in lineInput) (State, Result, bool) {
	return st, Result{}, in.text == ""
}

func matchVoucherMachineNumber(st State, in lineInput) (State, Result, bool) {
	if !st.PendingMachineNumberHeader {
		return st, Result{}, false
	}
	st.PendingMachineNumberHeader = false
	if !reBareNumber.MatchString(in.text) {
		return st, Result{}, false
	}
	n, err := strconv.Atoi(in.text)
	if err != nil {
		return st, malformed(in.text, "machine number out of range"), true
	}
	st.VoucherMachine, st.HasVoucherMachine = n, true
	return st, Result{}, true
}

func matchUnitDaily(st State, in lineInput) (State, Result, bool) {
	if !reUnitDaily.MatchString(in.text) {
		return st, Result{}, false
	}
	st = st.resetMachineContext()
	st.GrandTotals = true
	return st, Result{}, true
}

func matchMarker(st State, in lineInput) (State, Result, bool) {
	m := reMarker.FindStringSubmatch(in.text)
	if m == nil {
		return st, Result{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return st, malformed(in.text, "machine marker out of range"), true
	}
	return st.withMarker(n), Result{}, true
}

func matchCombined(st State, in lineInput) (State, Result, bool) {
	m := reCombined.FindStringSubmatch(in.text)
	if m == nil {
		return st, Result{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return st, malformed(in.text, "machine marker out of range"), true
	}
	st = st.withMarker(n).clearMarker()
	return st, emit(summary(domain.EventMoneyIn, SummaryDailyIn, n, m[2], in)), true
}

func matchDailyAmount(st State, in lineInput) (State, Result, bool) {
	if m := reDailyIn.FindStringSubmatch(in.text); m != nil {
		return dailyIn(st, m[1], in)
	}
	if m := reDailyOut.FindStringSubmatch(in.text); m != nil {
		return dailyOut(st, SummaryDailyOut, m[1], in)
	}
	if m := reDailyPaid.FindStringSubmatch(in.text); m != nil {
		return dailyOut(st, SummaryDailyTotalPaid, m[1], in)
	}
	return st, Result{}, false
}

// dailyIn consumes the marker. Without one the amount goes to the
// fallback machine.
func dailyIn(st State, amount string, in lineInput) (State, Result, bool) {
	if st.HasMarker {
		x := summary(domain.EventMoneyIn, SummaryDailyIn, st.Marker, amount, in)
		x.Inferred = st.MarkerInferred
		return st.clearMarker(), attributed(x, in.text), true
	}
	n, ok := fallbackMachine(st, in.policy)
	if !ok {
		return st, unattributed(in.text), true
	}
	st.LastKnown, st.HasLastKnown = n, true
	x := summary(domain.EventMoneyIn, SummaryDailyIn, n, amount, in)
	x.Inferred = true
	return st, inferred(x, in.text), true
}

// dailyOut keeps the marker for a following Daily In. Without one the
// fallback machine is held as an inferred marker so the rest of the block
// lands on the same machine.
func dailyOut(st State, field SummaryField, amount string, in lineInput) (State, Result, bool) {
	if st.HasMarker {
		x := summary(domain.EventMoneyOut, field, st.Marker, amount, in)
		x.Inferred = st.MarkerInferred
		return st, attributed(x, in.text), true
	}
	n, ok := fallbackMachine(st, in.policy)
	if !ok {
		return st, unattributed(in.text), true
	}
	st = st.withInferredMarker(n)
	x := summary(domain.EventMoneyOut, field, n, amount, in)
	x.Inferred = true
	return st, inferred(x, in.text), true
}

// fallbackMachine picks the machine for a daily amount that has no marker:
// the one after LastKnown when inference is on, or the bootstrap machine
// before any machine has been seen. A Unit Daily section never attributes.
func fallbackMachine(st State, p Policy) (int, bool) {
	switch {
	case st.GrandTotals:
		return 0, false
	case st.HasLastKnown && p.InferMissingMachine:
		return st.LastKnown + 1, true
	case !st.HasLastKnown && p.BootstrapMachine > 0:
		return p.BootstrapMachine, true
	default:
		return 0, false
	}
}

func matchHeader(st State, in lineInput) (State, Result, bool) {
	m := reHeader.FindStringSubmatch(in.text)
	if m == nil {
		return st, Result{}, false
	}
	if m[1] != "" {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return st, malformed(in.text, "machine number out of range"), true
		}
		st.VoucherMachine, st.HasVoucherMachine = n, true
		return st, Result{}, true
	}
	st.PendingMachineNumberHeader = true
	return st, Result{}, true
}

func matchLegacy(st State, in lineInput) (State, Result, bool) {
	monetary := []struct {
		re *regexp.Regexp
		t  domain.EventType
	}{
		{reVoucherPrint, domain.EventVoucherPrint},
		{reMoneyIn, domain.EventMoneyIn},
		{reCollect, domain.EventMoneyOut},
	}
	for _, p := range monetary {
		if m := p.re.FindStringSubmatch(in.text); m != nil {
			return single(st, p.t, m[2], m[1], in)
		}
	}
	if m := reSessionStart.FindStringSubmatch(in.text); m != nil {
		return single(st, domain.EventSessionStart, m[1], "", in)
	}
	if m := reSessionEnd.FindStringSubmatch(in.text); m != nil {
		return single(st, domain.EventSessionEnd, m[1], "", in)
	}
	return st, Result{}, false
}

func single(st State, t domain.EventType, machine, amount string, in lineInput) (State, Result, bool) {
	n, err := strconv.Atoi(machine)
	if err != nil {
		return st, malformed(in.text, "machine number out of range"), true
	}
	x := &Extraction{Type: t, Machine: n, Amount: amount, Raw: in.text, At: in.at}
	if t == domain.EventMoneyOut {
		x.Fields = map[string]string{"legacyType": "collect"}
	}
	return st, emit(x), true
}

func matchBoilerplate(st State, in lineInput) (State, Result, bool) {
	for _, re := range boilerplate {
		if re.MatchString(in.text) {
			return st, Result{}, true
		}
	}
	return st, Result{}, false
}

func summary(t domain.EventType, field SummaryField, machine int, amount string, in lineInput) *Extraction {
	return &Extraction{
		Type:    t,
		Machine: machine,
		Amount:  amount,
		Summary: field,
		Raw:     in.text,
		At:      in.at,
	}
}

func emit(x *Extraction) Result {
	return Result{Extraction: x}
}

func inferred(x *Extraction, text string) Result {
	return Result{Extraction: x, Diagnostic: &Diagnostic{Kind: DiagInferred, Text: text}}
}

func attributed(x *Extraction, text string) Result {
	if x.Inferred {
		return inferred(x, text)
	}
	return emit(x)
}

func unattributed(text string) Result {
	return Result{Diagnostic: &Diagnostic{Kind: DiagUnattributed, Text: text}}
}

func malformed(text, reason string) Result {
	return Result{Diagnostic: &Diagnostic{
		Kind: DiagMalformed,
		Text: text,
		Err:  &domain.ParseError{Fragment: text, Reason: reason},
	}}
}
