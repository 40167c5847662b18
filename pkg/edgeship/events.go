package edgeship

import (
	"time"

	"github.com/bft-labs/edgeship/internal/domain"
	"github.com/bft-labs/edgeship/internal/syncer"
	"github.com/bft-labs/edgeship/pkg/lifecycle"
)

// State is the lifecycle state of an Agent.
type State = lifecycle.State

// Lifecycle states.
const (
	StateStopped  = lifecycle.StateStopped
	StateStarting = lifecycle.StateStarting
	StateRunning  = lifecycle.StateRunning
	StateStopping = lifecycle.StateStopping
	StateCrashed  = lifecycle.StateCrashed
)

type (
	// Event is a decoded controller event.
	Event = domain.Event

	// OutboxStats summarizes the local outbox.
	OutboxStats = domain.OutboxStats

	// SyncReport is the outcome of one sync tick.
	SyncReport = syncer.Report

	// SyncStatus is a snapshot of the sync engine.
	SyncStatus = syncer.Status
)

// StateChangeEvent describes a lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// StoredEvent is emitted after an event is durably appended to the outbox.
type StoredEvent struct {
	ID    int64
	Event Event
}

// SyncEvent is emitted after every sync tick.
type SyncEvent struct {
	Report   SyncReport
	Duration time.Duration
}

// EventHandler receives agent notifications. Methods are called
// synchronously from the agent's goroutines.
type EventHandler interface {
	OnStateChange(StateChangeEvent)
	OnEventStored(StoredEvent)
	OnSync(SyncEvent)
}

// BaseEventHandler implements EventHandler with no-ops. Embed it to
// override only the callbacks you need.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent) {}
func (BaseEventHandler) OnEventStored(StoredEvent)      {}
func (BaseEventHandler) OnSync(SyncEvent)               {}

// eventEmitterWrapper adapts EventHandler to the internal observer
// interfaces. A nil handler drops everything.
type eventEmitterWrapper struct {
	handler EventHandler
}

func (e *eventEmitterWrapper) OnStateChange(previous, current lifecycle.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{Previous: previous, Current: current, Reason: reason})
}

func (e *eventEmitterWrapper) OnSync(r syncer.Report, d time.Duration) {
	if e.handler == nil {
		return
	}
	e.handler.OnSync(SyncEvent{Report: r, Duration: d})
}

func (e *eventEmitterWrapper) onStored(id int64, ev domain.Event) {
	if e.handler == nil {
		return
	}
	e.handler.OnEventStored(StoredEvent{ID: id, Event: ev})
}

// syncObservers fans a tick out to several observers.
type syncObservers []syncer.Observer

func (s syncObservers) OnSync(r syncer.Report, d time.Duration) {
	for _, o := range s {
		o.OnSync(r, d)
	}
}
