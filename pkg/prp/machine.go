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

// Package prp implements the Perpetual Refinement Protocol state
// machine: five phases, a fixed transition table, soft invariants
// checked at cycle boundaries, and an exhaustion predictor that can
// force the loop back through hypothesis revision. Failed transitions
// are result values, never errors: the loop must keep moving.
package prp

import (
	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
	"github.com/teradata-labs/quench/pkg/state"
)

// TransitionOutcome classifies how a transition attempt landed.
type TransitionOutcome string

const (
	// OutcomeApplied means the transition was valid and clean.
	OutcomeApplied TransitionOutcome = "applied"

	// OutcomeViolatedButApplied means soft invariants were violated;
	// the violations are logged and the transition still proceeds.
	OutcomeViolatedButApplied TransitionOutcome = "violated_but_applied"

	// OutcomeRejected means the transition is not in the table; state
	// is unchanged.
	OutcomeRejected TransitionOutcome = "rejected"
)

// TransitionResult reports one transition attempt.
type TransitionResult struct {
	Outcome          TransitionOutcome
	From             state.PRPState
	To               state.PRPState
	Violations       []string
	CycleIncremented bool
}

// Applied reports whether the state actually changed.
func (r TransitionResult) Applied() bool {
	return r.Outcome != OutcomeRejected
}

// allowedTransitions is the protocol transition table.
var allowedTransitions = map[state.PRPState][]state.PRPState{
	state.StatePropose:     {state.StateHypothesize, state.StateExecute},
	state.StateHypothesize: {state.StateExecute},
	state.StateExecute:     {state.StateTest},
	state.StateTest:        {state.StateHypothesize, state.StateConclude},
	state.StateConclude:    {state.StatePropose},
}

// Machine drives PRP transitions over a chat state.
type Machine struct {
	logger *zap.Logger
}

// NewMachine creates the state machine.
func NewMachine() *Machine {
	return &Machine{logger: log.With(zap.String("component", "prp"))}
}

// Transition attempts to move the chat into the target phase.
// supervisorTriggered marks transitions caused by a supervisor
// rejection; only those increment the cycle counter on entry into
// HYPOTHESIZE. Invalid transitions leave state untouched and emit
// prp_invalid_transition telemetry.
func (m *Machine) Transition(st *state.ChatState, to state.PRPState, supervisorTriggered bool) TransitionResult {
	from := st.PRPState
	result := TransitionResult{From: from, To: to}

	if !transitionAllowed(from, to) {
		result.Outcome = OutcomeRejected
		st.AppendTelemetry("prp_invalid_transition", map[string]interface{}{
			"from": string(from),
			"to":   string(to),
		})
		m.logger.Warn("invalid protocol transition ignored",
			zap.String("chat_id", st.ChatID),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return result
	}

	// Cycle-boundary invariants are soft: violations surface but the
	// transition proceeds.
	if to == state.StateConclude || to == state.StatePropose {
		result.Violations = m.checkInvariants(st, to)
	}

	st.PRPState = to

	if to == state.StateHypothesize && supervisorTriggered {
		st.PRPCycleCount++
		result.CycleIncremented = true
	}
	if from == state.StateConclude {
		st.ResetCycleTracking()
	}

	st.AppendTelemetry("prp_transition", map[string]interface{}{
		"from":                 string(from),
		"to":                   string(to),
		"supervisor_triggered": supervisorTriggered,
		"cycle_count":          st.PRPCycleCount,
	})

	if len(result.Violations) > 0 {
		result.Outcome = OutcomeViolatedButApplied
	} else {
		result.Outcome = OutcomeApplied
	}
	return result
}

// checkInvariants evaluates the soft cycle invariants, recording
// violations in the state's violation log and telemetry.
func (m *Machine) checkInvariants(st *state.ChatState, to state.PRPState) []string {
	var violations []string

	if to == state.StateConclude && st.Invariants.NeedsTestAfterRejection && st.TestResultsInCycle == 0 {
		violations = append(violations, "test_after_rejection: concluding without a recorded test after a rejection")
	}
	if !st.Invariants.ContextUpdatedInCycle {
		violations = append(violations, "context_update_per_cycle: pre-process did not run this cycle")
	}
	if to == state.StateConclude && !st.Invariants.SkepticismGateSatisfied {
		violations = append(violations, "skepticism_gate: no skepticism challenge recorded this cycle")
	}

	for _, v := range violations {
		st.Invariants.ViolationLog = append(st.Invariants.ViolationLog, v)
		st.AppendTelemetry("invariant_violation", map[string]interface{}{
			"violation": v,
			"phase":     string(to),
		})
		m.logger.Warn("protocol invariant violated",
			zap.String("chat_id", st.ChatID), zap.String("violation", v))
	}
	return violations
}

func transitionAllowed(from, to state.PRPState) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
