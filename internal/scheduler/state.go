// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scheduler implements the Phased Scheduler: sequencing a run as
// model-exclusive phases so at most one locally-hosted model is resident
// at any moment (spec.md 4.6), plus the alternative inline mode.
package scheduler

import "fmt"

// Phase is one state in the per-phase state machine.
type Phase string

const (
	PhaseIdle    Phase = "Idle"
	PhaseWarmUp  Phase = "WarmUp"
	PhaseRunning Phase = "Running"
	PhaseUnload  Phase = "Unload"
)

// validTransitions encodes the fixed cycle Idle -> WarmUp -> Running ->
// Unload -> Idle (spec.md 4.6).
var validTransitions = map[Phase]Phase{
	PhaseIdle:    PhaseWarmUp,
	PhaseWarmUp:  PhaseRunning,
	PhaseRunning: PhaseUnload,
	PhaseUnload:  PhaseIdle,
}

// StateMachine tracks the current phase for one model's residency
// window and rejects any transition outside the fixed cycle.
type StateMachine struct {
	current Phase
}

// NewStateMachine starts in Idle.
func NewStateMachine() *StateMachine {
	return &StateMachine{current: PhaseIdle}
}

// Current returns the current phase.
func (m *StateMachine) Current() Phase {
	return m.current
}

// Transition moves to `to`, or returns an error if `to` is not the
// state machine's single valid successor to the current phase.
func (m *StateMachine) Transition(to Phase) error {
	expected, ok := validTransitions[m.current]
	if !ok || expected != to {
		return fmt.Errorf("invalid phase transition %s -> %s", m.current, to)
	}
	m.current = to
	return nil
}
