package lifecycle

import "time"

// State is the lifecycle state of the agent.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the agent has finished running.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateCrashed
}

// EventEmitter is notified on every successful state transition.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// Manager is the lifecycle state machine shared by the agent and its stages.
type Manager interface {
	State() State
	CanStart() bool
	CanStop() bool
	TransitionTo(newState State, reason string) error

	// Go runs fn as a tracked worker; WaitWithTimeout waits for it.
	Go(fn func())
	WaitWithTimeout(timeout time.Duration) error
}
