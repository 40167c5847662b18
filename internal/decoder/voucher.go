package decoder

import (
	"regexp"
	"strconv"

	"github.com/bft-labs/edgeship/internal/domain"
	"github.com/bft-labs/edgeship/internal/framer"
)

var (
	reAsmMachineNumber = regexp.MustCompile(`(?i)machine\s+number\s*:?\s*(\d+)`)
	reAsmMachine       = regexp.MustCompile(`(?i)machine\s*:?\s*#?\s*(\d+)`)
	reAsmDollar        = regexp.MustCompile(`\$\s*([\d,]*\d\.\d{2})`)
	reAsmGoodFor       = regexp.MustCompile(`(?i)good\s+for\s*:?\s*\$?\s*([\d,]*\d(?:\.\d+)?)`)
	reAsmPoints        = regexp.MustCompile(`(?i)(\d+)\s+points`)
	reAsmVoucherNumber = regexp.MustCompile(`(?i)voucher\s*#\s*(\d+)`)
	reAsmSerial        = regexp.MustCompile(`(?i)serial\s*#?\s*:?\s*([\w-]+)`)
	reAsmConfidence    = regexp.MustCompile(`(?i)confidence\s+number\s*:?\s*([\w-]+)`)
	reAsmPlays         = regexp.MustCompile(`(?i)(\d+)\s+plays?\s+collected`)
)

// Field keys set on voucher extractions.
const (
	FieldVoucherNumber    = "voucherNumber"
	FieldSerialNumber     = "serialNumber"
	FieldConfidenceNumber = "confidenceNumber"
	FieldPlaysCollected   = "playsCollected"
	FieldUnit             = "unit"
)

// decodeAssembly extracts a voucher print from a receipt block. The voucher
// context is cleared whether or not extraction succeeds.
func decodeAssembly(st State, f framer.Fragment) (State, Result) {
	text := sanitize(f.Data, true)

	machine, haveMachine := st.VoucherMachine, st.HasVoucherMachine
	if !haveMachine {
		for _, re := range []*regexp.Regexp{reAsmMachineNumber, reAsmMachine} {
			if m := re.FindStringSubmatch(text); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					machine, haveMachine = n, true
					break
				}
			}
		}
	}

	fields := map[string]string{}
	amount := ""
	if m := reAsmDollar.FindStringSubmatch(text); m != nil {
		amount = m[1]
	} else if m := reAsmGoodFor.FindStringSubmatch(text); m != nil {
		amount = m[1]
	} else if m := reAsmPoints.FindStringSubmatch(text); m != nil {
		amount = m[1]
		fields[FieldUnit] = "points"
	}

	st = st.clearVoucherContext()

	switch {
	case !haveMachine:
		return st, Result{Matcher: "voucher_assembly", Diagnostic: assemblyMalformed(text, "voucher without machine number")}
	case amount == "":
		return st, Result{Matcher: "voucher_assembly", Diagnostic: assemblyMalformed(text, "voucher without amount")}
	}

	for key, re := range map[string]*regexp.Regexp{
		FieldVoucherNumber:    reAsmVoucherNumber,
		FieldSerialNumber:     reAsmSerial,
		FieldConfidenceNumber: reAsmConfidence,
		FieldPlaysCollected:   reAsmPlays,
	} {
		if m := re.FindStringSubmatch(text); m != nil {
			fields[key] = m[1]
		}
	}

	x := &Extraction{
		Type:    domain.EventVoucherPrint,
		Machine: machine,
		Amount:  amount,
		Fields:  fields,
		Raw:     text,
		At:      f.At,
	}
	if f.Expired {
		x.Fields["closedBy"] = "deadline"
	}
	return st, Result{Matcher: "voucher_assembly", Extraction: x}
}

func assemblyMalformed(text, reason string) *Diagnostic {
	return &Diagnostic{
		Kind: DiagMalformed,
		Text: text,
		Err:  &domain.ParseError{Fragment: text, Reason: reason},
	}
}
