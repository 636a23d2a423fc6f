// Copyright (c) Rivermesh
// SPDX-License-Identifier: Apache-2.0

package channel

import "sync/atomic"

// SessionState represents the lifecycle stage of a channel session.
// The values are totally ordered: a session only moves forward, and
// Established is the single state in which envelopes flow.
type SessionState uint32

// Session states.
const (
	StateNew SessionState = iota
	StateNegotiating
	StateAuthenticating
	StateEstablished
	StateFinishing
	StateFinished
	StateFailed
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateAuthenticating:
		return "authenticating"
	case StateEstablished:
		return "established"
	case StateFinishing:
		return "finishing"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminated reports whether the session has moved past Established.
func (s SessionState) Terminated() bool {
	return s > StateEstablished
}

// StateManager handles atomic session state transitions.
type StateManager struct {
	state uint32
}

// NewStateManager creates a state manager starting in StateNew.
func NewStateManager() *StateManager {
	return &StateManager{state: uint32(StateNew)}
}

// Get returns the current state.
func (sm *StateManager) Get() SessionState {
	return SessionState(atomic.LoadUint32(&sm.state))
}

// Set unconditionally sets the state.
func (sm *StateManager) Set(s SessionState) {
	atomic.StoreUint32(&sm.state, uint32(s))
}

// Transition attempts to move from the expected state to a new one.
// Returns true if successful.
func (sm *StateManager) Transition(from, to SessionState) bool {
	return atomic.CompareAndSwapUint32(&sm.state, uint32(from), uint32(to))
}

// IsEstablished returns true if envelopes may currently flow.
func (sm *StateManager) IsEstablished() bool {
	return sm.Get() == StateEstablished
}
