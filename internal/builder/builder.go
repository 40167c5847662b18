// Package builder turns decoder extractions into canonical domain events.
package builder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bft-labs/edgeship/internal/decoder"
	"github.com/bft-labs/edgeship/internal/domain"
)

// MachineID formats a controller machine number as a normalized id.
func MachineID(n int) (string, error) {
	if n < 0 {
		return "", &domain.ParseError{Fragment: strconv.Itoa(n), Reason: "negative machine number"}
	}
	return fmt.Sprintf("machine_%02d", n), nil
}

var amountReplacer = strings.NewReplacer("$", "", ",", "", " ", "")

// ParseAmount parses a controller amount such as "$1,204.5" into a
// non-negative decimal with two places.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(amountReplacer.Replace(s))
	if err != nil {
		return decimal.Decimal{}, &domain.ParseError{Fragment: s, Reason: "amount is not numeric"}
	}
	if d.IsNegative() {
		return decimal.Decimal{}, &domain.ParseError{Fragment: s, Reason: "amount is negative"}
	}
	return d.Round(2), nil
}

// IdempotencyKey returns the key shared by every copy of one daily summary
// total. Replaying the same report on the same UTC day yields the same key.
func IdempotencyKey(t domain.EventType, machineID string, at time.Time) string {
	return fmt.Sprintf("daily_%s_%s_%s", t, machineID, at.UTC().Format(time.DateOnly))
}

// Builder builds events. Now and NewID are replaceable for tests.
type Builder struct {
	Now   func() time.Time
	NewID func() string
}

// New returns a Builder on the wall clock and random UUIDs.
func New() *Builder {
	return &Builder{
		Now:   time.Now,
		NewID: func() string { return uuid.NewString() },
	}
}

// Build converts one extraction into an Event and validates it.
func (b *Builder) Build(x *decoder.Extraction) (domain.Event, error) {
	machineID, err := MachineID(x.Machine)
	if err != nil {
		return domain.Event{}, err
	}

	at := x.At
	if at.IsZero() {
		at = b.Now()
	}
	ev := domain.Event{
		Type:       x.Type,
		MachineID:  machineID,
		Timestamp:  at.UTC(),
		RawPayload: x.Raw,
		Metadata:   map[string]string{},
	}

	if x.Type.Monetary() {
		amount, err := ParseAmount(x.Amount)
		if err != nil {
			return domain.Event{}, err
		}
		ev.Amount = &amount
	}

	switch {
	case x.Summary != decoder.SummaryNone:
		b.summary(&ev, x)
	case x.Type == domain.EventSessionStart || x.Type == domain.EventSessionEnd:
		b.session(&ev, x)
	}
	for k, v := range x.Fields {
		ev.Metadata[k] = v
	}

	if err := ev.Validate(); err != nil {
		return domain.Event{}, &domain.ParseError{Fragment: x.Raw, Reason: err.Error()}
	}
	return ev, nil
}

func (b *Builder) summary(ev *domain.Event, x *decoder.Extraction) {
	ev.IdempotencyKey = IdempotencyKey(ev.Type, ev.MachineID, ev.Timestamp)
	ev.Metadata[domain.MetaSource] = domain.SourceDailyReport
	ev.Metadata[domain.MetaReportDate] = ev.Timestamp.Format(time.DateOnly)
	ev.Metadata[domain.MetaSummaryField] = string(x.Summary)
	if x.Inferred {
		ev.Metadata[domain.MetaInferred] = "true"
	}
	ev.RawPayload = fmt.Sprintf("Daily Summary - Machine %d - $%s %s\n%s",
		x.Machine, ev.Amount.StringFixed(2), x.Summary, x.Raw)
}

func (b *Builder) session(ev *domain.Event, x *decoder.Extraction) {
	id := strings.ReplaceAll(b.NewID(), "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	ev.Metadata[domain.MetaSessionID] = fmt.Sprintf("session_%d_%d_%s", x.Machine, ev.Timestamp.UnixMilli(), id)
	if x.Type == domain.EventSessionStart {
		ev.Metadata[domain.MetaAction] = "start"
	} else {
		ev.Metadata[domain.MetaAction] = "end"
	}
}
