package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestEvent_Validate(t *testing.T) {
	amt := decimal.RequireFromString("12.50")
	neg := decimal.RequireFromString("-1")
	now := time.Now()

	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{"money in", Event{Type: EventMoneyIn, MachineID: "machine_03", Amount: &amt, Timestamp: now}, false},
		{"session without amount", Event{Type: EventSessionStart, MachineID: "machine_03", Timestamp: now}, false},
		{"three digit machine", Event{Type: EventSessionEnd, MachineID: "machine_103", Timestamp: now}, false},
		{"missing amount", Event{Type: EventVoucherPrint, MachineID: "machine_03", Timestamp: now}, true},
		{"negative amount", Event{Type: EventMoneyOut, MachineID: "machine_03", Amount: &neg, Timestamp: now}, true},
		{"unpadded machine", Event{Type: EventMoneyIn, MachineID: "machine_3", Amount: &amt, Timestamp: now}, true},
		{"unknown type", Event{Type: "collect", MachineID: "machine_03", Amount: &amt, Timestamp: now}, true},
		{"zero timestamp", Event{Type: EventSessionStart, MachineID: "machine_03"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			assert.Equal(t, tt.wantErr, err != nil, "Validate() error = %v", err)
		})
	}
}

func TestEventType_Class(t *testing.T) {
	assert.Equal(t, ClassSessions, EventSessionStart.Class())
	assert.Equal(t, ClassSessions, EventSessionEnd.Class())
	assert.Equal(t, ClassEvents, EventMoneyIn.Class())
	assert.Equal(t, ClassEvents, EventVoucherPrint.Class())
}

func TestErrors_Is(t *testing.T) {
	wrapped := fmt.Errorf("tick: %w", &ConnectivityError{Err: errors.New("dial tcp: refused")})
	assert.ErrorIs(t, wrapped, ErrConnectivity)
	assert.NotErrorIs(t, wrapped, ErrDelivery)

	var pe *PersistenceError
	assert.ErrorAs(t, fmt.Errorf("append: %w", &PersistenceError{Op: "append", Err: errors.New("disk full")}), &pe)
	assert.Equal(t, "append", pe.Op)

	assert.ErrorIs(t, &ParseError{Fragment: "x", Reason: "missing amount"}, ErrParse)
	assert.ErrorIs(t, &DeliveryError{Op: "submit event", Status: 500}, ErrDelivery)
}
