// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine_FollowsFixedCycle(t *testing.T) {
	m := NewStateMachine()
	assert.Equal(t, PhaseIdle, m.Current())

	require.NoError(t, m.Transition(PhaseWarmUp))
	require.NoError(t, m.Transition(PhaseRunning))
	require.NoError(t, m.Transition(PhaseUnload))
	require.NoError(t, m.Transition(PhaseIdle))

	assert.Equal(t, PhaseIdle, m.Current())
}

func TestStateMachine_RejectsSkippingAPhase(t *testing.T) {
	m := NewStateMachine()
	err := m.Transition(PhaseRunning)
	assert.Error(t, err)
	assert.Equal(t, PhaseIdle, m.Current(), "a rejected transition leaves the phase unchanged")
}

func TestStateMachine_RejectsReverseTransition(t *testing.T) {
	m := NewStateMachine()
	require.NoError(t, m.Transition(PhaseWarmUp))
	err := m.Transition(PhaseIdle)
	assert.Error(t, err)
}
