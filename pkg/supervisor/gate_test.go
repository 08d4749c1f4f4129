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
package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/quench/pkg/fabric"
	"github.com/teradata-labs/quench/pkg/prp"
	"github.com/teradata-labs/quench/pkg/state"
	"github.com/teradata-labs/quench/pkg/types"
)

const rejectionVerdict = `{"cycle_iteration":0,"exhaustion_mode":"test_failure",` +
	`"required_artifacts":["pytest_report","coverage_html"],"rationale":"No tests."}`

func newTestGate(t *testing.T) (*Gate, *fabric.MemoryStream) {
	t.Helper()
	stream := fabric.NewMemoryStream()
	t.Cleanup(func() { stream.Close() })
	gate, err := NewGate(prp.NewMachine(), stream, fabric.RecipientOrchestrator)
	require.NoError(t, err)
	return gate, stream
}

func supervisorEnvelope(message, ticketID string) *fabric.Envelope {
	return fabric.NewEnvelope(fabric.RecipientSupervisor, fabric.RecipientOrchestrator,
		message, fabric.Payload{ChatID: "c1", TicketID: ticketID})
}

func TestSupervisorRejection(t *testing.T) {
	gate, _ := newTestGate(t)
	st := state.NewChatState("c1")

	res, err := gate.HandleRejection(context.Background(), st, supervisorEnvelope(rejectionVerdict, "t-1"))
	require.NoError(t, err)
	require.False(t, res.SchemaError)

	assert.Equal(t, state.StateHypothesize, st.PRPState)
	assert.Equal(t, 1, st.PRPCycleCount)
	assert.Equal(t, []string{"pytest_report", "coverage_html"}, st.SupervisorRequirements)
	assert.Len(t, st.CritiqueBacklog, 3)
	assert.True(t, st.Invariants.NeedsTestAfterRejection)

	// Transcript carries the synthesized system summary and critique
	// tool message.
	require.Len(t, st.Messages, 2)
	assert.Equal(t, types.RoleSystem, st.Messages[0].Role)
	assert.Contains(t, st.Messages[0].Content, "Supervisor Review Feedback")
	assert.Equal(t, types.RoleTool, st.Messages[1].Role)
	assert.Equal(t, CritiqueToolName, st.Messages[1].Name)
}

func TestSchemaErrorDoesNotAdvanceState(t *testing.T) {
	gate, stream := newTestGate(t)
	st := state.NewChatState("c1")

	res, err := gate.HandleRejection(context.Background(), st,
		supervisorEnvelope(`{"cycle_iteration":-2,"rationale":"x"}`, "t-1"))
	require.NoError(t, err)
	assert.True(t, res.SchemaError)
	assert.NotEmpty(t, res.SchemaFeedback)

	assert.Equal(t, state.StatePropose, st.PRPState)
	assert.Zero(t, st.PRPCycleCount)
	assert.Empty(t, st.CritiqueBacklog)
	assert.Empty(t, st.Messages)

	// Feedback envelope lands in the supervisor mailbox.
	entries, err := stream.Range(context.Background(),
		fabric.Mailbox(fabric.RecipientSupervisor), "", "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	env, err := fabric.EnvelopeFromFields(entries[0].Fields)
	require.NoError(t, err)
	assert.Contains(t, env.Message, "schema_error")
	assert.NotEmpty(t, env.Payload.Extra["schema_error"])
}

func TestMalformedJSONIsSchemaError(t *testing.T) {
	gate, _ := newTestGate(t)
	st := state.NewChatState("c1")

	res, err := gate.HandleRejection(context.Background(), st, supervisorEnvelope("not json at all", "t-1"))
	require.NoError(t, err)
	assert.True(t, res.SchemaError)
	assert.Equal(t, state.StatePropose, st.PRPState)
}

func TestReplayedTicketIsNoOp(t *testing.T) {
	gate, _ := newTestGate(t)
	st := state.NewChatState("c1")

	env := supervisorEnvelope(rejectionVerdict, "t-1")
	_, err := gate.HandleRejection(context.Background(), st, env)
	require.NoError(t, err)
	backlogAfterFirst := len(st.CritiqueBacklog)
	messagesAfterFirst := len(st.Messages)
	cycleAfterFirst := st.PRPCycleCount

	res, err := gate.HandleRejection(context.Background(), st, env)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Len(t, st.CritiqueBacklog, backlogAfterFirst)
	assert.Len(t, st.Messages, messagesAfterFirst)
	assert.Equal(t, cycleAfterFirst, st.PRPCycleCount)
}

func TestRejectionFromTestPhase(t *testing.T) {
	gate, _ := newTestGate(t)
	st := state.NewChatState("c1")
	st.PRPState = state.StateTest

	res, err := gate.HandleRejection(context.Background(), st, supervisorEnvelope(rejectionVerdict, "t-9"))
	require.NoError(t, err)
	assert.True(t, res.Transition.Applied())
	assert.Equal(t, state.StateHypothesize, st.PRPState)
	assert.Equal(t, 1, st.PRPCycleCount)
}

func TestCheckFinalReview(t *testing.T) {
	st := state.NewChatState("c1")
	assert.Error(t, CheckFinalReview(st, ""), "no test suite recorded")

	st.LastTestSuiteResult = &state.TestSuiteResult{OverallStatus: "failed", RecordedAt: time.Now()}
	assert.Error(t, CheckFinalReview(st, ""))

	st.LastTestSuiteResult.OverallStatus = "passed"
	assert.Error(t, CheckFinalReview(st, ""), "needs property test or rationale")
	assert.NoError(t, CheckFinalReview(st, "manual verification attached"))

	st.PropertyTestResult = &state.PropertyTestResult{Passed: true, Cases: 200}
	assert.NoError(t, CheckFinalReview(st, ""))
}

func TestRejectFinalReviewLocally(t *testing.T) {
	gate, _ := newTestGate(t)
	st := state.NewChatState("c1")
	st.PRPState = state.StateTest

	res := gate.RejectFinalReviewLocally(st, "no passing suite")
	assert.True(t, res.Applied())
	assert.Equal(t, state.StateHypothesize, st.PRPState)
	assert.Equal(t, state.TestFailure, st.ExhaustionMode)
	assert.Equal(t, 1, st.PRPCycleCount)

	var found bool
	for _, ev := range st.Telemetry {
		if ev.Type == "final_review_rejected" {
			found = true
		}
	}
	assert.True(t, found)
}
