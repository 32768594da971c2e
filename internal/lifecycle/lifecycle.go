// Package lifecycle tracks the global run state shared by the engine components.
package lifecycle

import "sync/atomic"

// State is the global lifecycle state of the engine.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Tracker holds the current State. The zero value is Stopped and ready to use.
type Tracker struct {
	state atomic.Int32
}

// Load returns the current state.
func (t *Tracker) Load() State {
	return State(t.state.Load())
}

// Set moves the tracker to s and returns the previous state.
func (t *Tracker) Set(s State) State {
	return State(t.state.Swap(int32(s)))
}

// Transition moves from one state to another only if the tracker is currently in from.
func (t *Tracker) Transition(from, to State) bool {
	return t.state.CompareAndSwap(int32(from), int32(to))
}

// IsRunning reports whether the state is Running.
func (t *Tracker) IsRunning() bool {
	return t.Load() == Running
}
