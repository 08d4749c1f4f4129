// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package prp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/quench/pkg/state"
)

func lastTelemetry(st *state.ChatState, eventType string) *state.TelemetryEvent {
	for i := len(st.Telemetry) - 1; i >= 0; i-- {
		if st.Telemetry[i].Type == eventType {
			return &st.Telemetry[i]
		}
	}
	return nil
}

func TestValidTransitionChain(t *testing.T) {
	m := NewMachine()
	st := state.NewChatState("c1")
	st.Invariants.ContextUpdatedInCycle = true
	st.RecordSkepticismChallenge()

	for _, to := range []state.PRPState{
		state.StateExecute, state.StateTest, state.StateConclude, state.StatePropose,
	} {
		res := m.Transition(st, to, false)
		require.True(t, res.Applied(), "transition to %s", to)
		assert.Equal(t, to, st.PRPState)
	}
}

func TestInvalidTransitionIgnored(t *testing.T) {
	m := NewMachine()
	st := state.NewChatState("c1")

	res := m.Transition(st, state.StateConclude, false)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, state.StatePropose, st.PRPState, "state unchanged on invalid transition")
	require.NotNil(t, lastTelemetry(st, "prp_invalid_transition"))
}

func TestSupervisorRejectionIncrementsCycle(t *testing.T) {
	m := NewMachine()
	st := state.NewChatState("c1")

	res := m.Transition(st, state.StateHypothesize, true)
	require.True(t, res.Applied())
	assert.True(t, res.CycleIncremented)
	assert.Equal(t, 1, st.PRPCycleCount)

	// A non-supervisor entry into HYPOTHESIZE does not increment.
	st2 := state.NewChatState("c2")
	st2.PRPState = state.StateTest
	res = m.Transition(st2, state.StateHypothesize, false)
	require.True(t, res.Applied())
	assert.False(t, res.CycleIncremented)
	assert.Zero(t, st2.PRPCycleCount)
}

func TestCycleIncrementsExactlyOncePerRejection(t *testing.T) {
	m := NewMachine()
	st := state.NewChatState("c1")

	m.Transition(st, state.StateHypothesize, true)
	m.Transition(st, state.StateExecute, false)
	m.Transition(st, state.StateTest, false)
	m.Transition(st, state.StateHypothesize, true)

	assert.Equal(t, 2, st.PRPCycleCount)
}

func TestConcludeWithoutTestAfterRejectionViolates(t *testing.T) {
	m := NewMachine()
	st := state.NewChatState("c1")
	st.PRPState = state.StateTest
	st.Invariants.NeedsTestAfterRejection = true
	st.Invariants.ContextUpdatedInCycle = true
	st.RecordSkepticismChallenge()
	// RecordSkepticismChallenge does not clear the rejection debt.
	st.Invariants.NeedsTestAfterRejection = true
	st.TestResultsInCycle = 0

	res := m.Transition(st, state.StateConclude, false)
	assert.Equal(t, OutcomeViolatedButApplied, res.Outcome)
	assert.Equal(t, state.StateConclude, st.PRPState, "violation does not block progress")
	assert.NotEmpty(t, st.Invariants.ViolationLog)
	require.NotNil(t, lastTelemetry(st, "invariant_violation"))
}

func TestConcludeCleanWhenInvariantsHold(t *testing.T) {
	m := NewMachine()
	st := state.NewChatState("c1")
	st.PRPState = state.StateTest
	st.Invariants.ContextUpdatedInCycle = true
	st.RecordSkepticismChallenge()
	st.RecordTestResult(state.TestResult{Name: "unit", Status: "passed"})

	res := m.Transition(st, state.StateConclude, false)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Empty(t, res.Violations)
}

func TestSkepticismGateViolationLogged(t *testing.T) {
	m := NewMachine()
	st := state.NewChatState("c1")
	st.PRPState = state.StateTest
	st.Invariants.ContextUpdatedInCycle = true

	res := m.Transition(st, state.StateConclude, false)
	assert.Equal(t, OutcomeViolatedButApplied, res.Outcome)
	found := false
	for _, v := range res.Violations {
		if v == "skepticism_gate: no skepticism challenge recorded this cycle" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCycleTrackingResetsLeavingConclude(t *testing.T) {
	m := NewMachine()
	st := state.NewChatState("c1")
	st.PRPState = state.StateConclude
	st.TestResultsInCycle = 3
	st.Invariants.ContextUpdatedInCycle = true
	st.Invariants.SkepticismGateSatisfied = true

	res := m.Transition(st, state.StatePropose, false)
	require.True(t, res.Applied())
	assert.Zero(t, st.TestResultsInCycle)
	assert.False(t, st.Invariants.ContextUpdatedInCycle)
	assert.False(t, st.Invariants.SkepticismGateSatisfied)
}

func TestEveryTransitionWritesTelemetry(t *testing.T) {
	m := NewMachine()
	st := state.NewChatState("c1")
	st.Invariants.ContextUpdatedInCycle = true

	m.Transition(st, state.StateExecute, false)
	ev := lastTelemetry(st, "prp_transition")
	require.NotNil(t, ev)
	assert.Equal(t, "PROPOSE", ev.Detail["from"])
	assert.Equal(t, "EXECUTE", ev.Detail["to"])
}
