package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// EventType is the kind of activity an Event records.
type EventType string

const (
	EventMoneyIn      EventType = "money_in"
	EventMoneyOut     EventType = "money_out"
	EventVoucherPrint EventType = "voucher_print"
	EventSessionStart EventType = "session_start"
	EventSessionEnd   EventType = "session_end"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventMoneyIn, EventMoneyOut, EventVoucherPrint, EventSessionStart, EventSessionEnd:
		return true
	}
	return false
}

// Monetary reports whether events of this type must carry an amount.
func (t EventType) Monetary() bool {
	return t == EventMoneyIn || t == EventMoneyOut || t == EventVoucherPrint
}

// Class returns the outbox class events of this type are stored under.
func (t EventType) Class() RecordClass {
	if t == EventSessionStart || t == EventSessionEnd {
		return ClassSessions
	}
	return ClassEvents
}

// Well-known metadata keys.
const (
	MetaSource       = "source"
	MetaReportDate   = "reportDate"
	MetaSummaryField = "summaryField"
	MetaInferred     = "inferred"
	MetaSessionID    = "sessionId"
	MetaAction       = "action"

	SourceDailyReport = "daily_report"
)

var machineIDPattern = regexp.MustCompile(`^machine_\d{2,}$`)

// Event is the canonical unit produced by decoding and stored in the outbox.
type Event struct {
	Type           EventType         `json:"eventType"`
	MachineID      string            `json:"machineId"`
	Amount         *decimal.Decimal  `json:"amount,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	IdempotencyKey string            `json:"idempotencyKey"`
	RawPayload     string            `json:"rawData"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Validate checks the invariants every stored event must satisfy.
func (e Event) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if !machineIDPattern.MatchString(e.MachineID) {
		return fmt.Errorf("machine id %q is not normalized", e.MachineID)
	}
	if e.Type.Monetary() {
		if e.Amount == nil {
			return fmt.Errorf("%s event requires an amount", e.Type)
		}
		if e.Amount.IsNegative() {
			return fmt.Errorf("%s amount %s is negative", e.Type, e.Amount)
		}
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event timestamp is zero")
	}
	return nil
}

// Meta returns a metadata value or "" when absent.
func (e Event) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}
