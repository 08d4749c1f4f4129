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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/quench/pkg/state"
	"github.com/teradata-labs/quench/pkg/types"
)

func ledgerWith(triggers ...state.ExhaustionMode) *state.ChatState {
	st := state.NewChatState("c1")
	for i, trig := range triggers {
		st.RefinementLedger = append(st.RefinementLedger, state.LedgerEntry{
			CycleID:           fmt.Sprintf("cycle-%d", i+1),
			Hypothesis:        fmt.Sprintf("hypothesis %d", i+1),
			ExhaustionTrigger: trig,
		})
	}
	return st
}

func TestProbabilityEmptyLedger(t *testing.T) {
	p := NewPredictor(0.6)
	assert.Zero(t, p.Probability(state.NewChatState("c1")))
}

func TestProbabilityWeighsRecency(t *testing.T) {
	p := NewPredictor(0.6)

	// Failure long ago, clean since.
	cleanTail := ledgerWith(state.TestFailure, state.ExhaustionNone, state.ExhaustionNone, state.ExhaustionNone)
	// Clean start, failing recently.
	failingTail := ledgerWith(state.ExhaustionNone, state.ExhaustionNone, state.TestFailure, state.TestFailure)

	assert.Greater(t, p.Probability(failingTail), p.Probability(cleanTail))
}

func TestUpdateSetsPredictedExhaustion(t *testing.T) {
	p := NewPredictor(0.5)
	st := ledgerWith(state.TestFailure, state.TestFailure, state.TestFailure)

	p.Update(st)
	assert.Equal(t, state.PredictedExhaustion, st.ExhaustionMode)
	assert.GreaterOrEqual(t, st.ExhaustionProbability, 0.5)
	require.NotNil(t, lastTelemetry(st, "preemptive_refinement"))
	assert.True(t, p.ForceHypothesize(st))
}

func TestUpdateBelowThresholdLeavesMode(t *testing.T) {
	p := NewPredictor(0.9)
	st := ledgerWith(state.ExhaustionNone, state.ExhaustionNone, state.TestFailure)

	p.Update(st)
	assert.Equal(t, state.ExhaustionNone, st.ExhaustionMode)
	assert.False(t, p.ForceHypothesize(st))
}

func TestUpdateDoesNotOverwriteHarderModes(t *testing.T) {
	p := NewPredictor(0.1)
	st := ledgerWith(state.TestFailure, state.TestFailure)
	st.ExhaustionMode = state.ContextSaturation

	p.Update(st)
	assert.Equal(t, state.ContextSaturation, st.ExhaustionMode)
}

func TestClassifyReplyEmptyIsLLMStop(t *testing.T) {
	st := state.NewChatState("c1")
	ClassifyReply(st, &types.LLMResponse{})

	assert.Equal(t, state.LLMStop, st.ExhaustionMode)
	assert.Equal(t, 1, st.AutonomyCounters.FalseStopPending)
	require.NotNil(t, lastTelemetry(st, "llm_stop"))

	// A reply with content does not trip the detector.
	st2 := state.NewChatState("c2")
	ClassifyReply(st2, &types.LLMResponse{Content: "working on it"})
	assert.Equal(t, state.ExhaustionNone, st2.ExhaustionMode)
}

func TestToolBackpressureForcesHypothesize(t *testing.T) {
	p := NewPredictor(0.6)
	st := state.NewChatState("c1")
	SetToolBackpressure(st)

	assert.Equal(t, state.ToolBackpressure, st.ExhaustionMode)
	assert.True(t, p.ForceHypothesize(st))

	ClearExhaustion(st)
	assert.Equal(t, state.ExhaustionNone, st.ExhaustionMode)
	assert.False(t, p.ForceHypothesize(st))
}
