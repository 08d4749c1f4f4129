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
	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
	"github.com/teradata-labs/quench/pkg/state"
	"github.com/teradata-labs/quench/pkg/types"
)

// predictorWindow is how many trailing ledger entries the predictor
// inspects.
const predictorWindow = 8

// Predictor estimates the probability that the current line of work
// is exhausted, from the tail of the refinement ledger.
type Predictor struct {
	threshold float64
	logger    *zap.Logger
}

// NewPredictor creates a predictor with the configured threshold.
func NewPredictor(threshold float64) *Predictor {
	return &Predictor{
		threshold: threshold,
		logger:    log.With(zap.String("component", "exhaustion_predictor")),
	}
}

// Probability computes the recency-weighted fraction of recent ledger
// entries that carried an exhaustion trigger. The most recent entry
// weighs the most.
func (p *Predictor) Probability(st *state.ChatState) float64 {
	ledger := st.RefinementLedger
	if len(ledger) == 0 {
		return 0
	}
	start := len(ledger) - predictorWindow
	if start < 0 {
		start = 0
	}
	tail := ledger[start:]

	var weighted, total float64
	for i, entry := range tail {
		w := float64(i + 1)
		total += w
		if entry.ExhaustionTrigger != state.ExhaustionNone {
			weighted += w
		}
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// Update recomputes the probability onto the state. Crossing the
// threshold sets PREDICTED_EXHAUSTION and logs the preemptive
// refinement decision; the next transition is then forced through
// HYPOTHESIZE.
func (p *Predictor) Update(st *state.ChatState) {
	st.ExhaustionProbability = p.Probability(st)
	if st.ExhaustionProbability < p.threshold {
		return
	}
	if st.ExhaustionMode == state.ExhaustionNone || st.ExhaustionMode == state.PredictedExhaustion {
		st.ExhaustionMode = state.PredictedExhaustion
		st.AppendTelemetry("preemptive_refinement", map[string]interface{}{
			"probability": st.ExhaustionProbability,
			"threshold":   p.threshold,
		})
		p.logger.Info("predicted exhaustion, forcing hypothesis revision",
			zap.String("chat_id", st.ChatID),
			zap.Float64("probability", st.ExhaustionProbability))
	}
}

// ForceHypothesize reports whether the next transition must route
// through HYPOTHESIZE instead of the desired target.
func (p *Predictor) ForceHypothesize(st *state.ChatState) bool {
	switch st.ExhaustionMode {
	case state.PredictedExhaustion, state.ToolBackpressure:
		return true
	}
	return false
}

// ClassifyReply updates the exhaustion mode from an LLM reply. An
// empty reply is an LLM stop and adds one pending false-stop.
func ClassifyReply(st *state.ChatState, reply *types.LLMResponse) {
	if reply.Empty() {
		st.ExhaustionMode = state.LLMStop
		st.AutonomyCounters.FalseStopPending++
		st.AppendTelemetry("llm_stop", map[string]interface{}{
			"false_stop_pending": st.AutonomyCounters.FalseStopPending,
		})
	}
}

// ClassifyTestFailure flags the state after a failed test run.
func ClassifyTestFailure(st *state.ChatState) {
	st.ExhaustionMode = state.TestFailure
	st.AppendTelemetry("test_failure", nil)
}

// SetToolBackpressure flags saturated tool dispatch; the next
// transition routes through HYPOTHESIZE.
func SetToolBackpressure(st *state.ChatState) {
	st.ExhaustionMode = state.ToolBackpressure
	st.AppendTelemetry("tool_backpressure", nil)
}

// ClearExhaustion resets the mode after a clean phase.
func ClearExhaustion(st *state.ChatState) {
	st.ExhaustionMode = state.ExhaustionNone
}
