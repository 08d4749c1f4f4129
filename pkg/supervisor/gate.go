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

// Package supervisor implements the rejection gate: structured
// supervisor verdicts are schema-validated, translated into critique
// items, synthesized into the transcript, and drive the protocol back
// into hypothesis revision. Malformed verdicts never advance state;
// they bounce back as schema-error feedback.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
	"github.com/teradata-labs/quench/pkg/fabric"
	"github.com/teradata-labs/quench/pkg/ledger"
	"github.com/teradata-labs/quench/pkg/prp"
	"github.com/teradata-labs/quench/pkg/state"
	"github.com/teradata-labs/quench/pkg/types"
)

// CritiqueToolName tags the synthesized tool message in the transcript.
const CritiqueToolName = "hypothesis_critique"

// verdictSchema is the contract for supervisor verdict messages.
const verdictSchema = `{
	"type": "object",
	"required": ["cycle_iteration", "exhaustion_mode", "required_artifacts", "rationale"],
	"properties": {
		"cycle_iteration":    {"type": "integer", "minimum": 0},
		"exhaustion_mode":    {"type": "string"},
		"required_artifacts": {"type": "array", "items": {"type": "string"}},
		"rationale":          {"type": "string"}
	}
}`

// Verdict is a parsed supervisor rejection.
type Verdict struct {
	CycleIteration    int      `json:"cycle_iteration"`
	ExhaustionMode    string   `json:"exhaustion_mode"`
	RequiredArtifacts []string `json:"required_artifacts"`
	Rationale         string   `json:"rationale"`
}

// Result reports how the gate handled one supervisor envelope.
type Result struct {
	SchemaError    bool
	SchemaFeedback string
	Duplicate      bool
	Verdict        *Verdict
	Transition     prp.TransitionResult
	CritiquesAdded int
}

// Gate consumes supervisor verdicts and applies their effects.
type Gate struct {
	machine *prp.Machine
	schema  *gojsonschema.Schema
	stream  fabric.Stream
	sender  string
	logger  *zap.Logger
}

// NewGate creates the gate. sender names this process in feedback
// envelopes; stream may be nil when feedback emission is not needed.
func NewGate(machine *prp.Machine, stream fabric.Stream, sender string) (*Gate, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(verdictSchema))
	if err != nil {
		return nil, fmt.Errorf("compile verdict schema: %w", err)
	}
	return &Gate{
		machine: machine,
		schema:  schema,
		stream:  stream,
		sender:  sender,
		logger:  log.With(zap.String("component", "supervisor_gate")),
	}, nil
}

// Validate checks a raw verdict message against the schema and parses
// it. The returned string lists validation failures when invalid.
func (g *Gate) Validate(message string) (*Verdict, string) {
	res, err := g.schema.Validate(gojsonschema.NewStringLoader(message))
	if err != nil {
		return nil, "verdict is not valid JSON: " + err.Error()
	}
	if !res.Valid() {
		var problems []string
		for _, issue := range res.Errors() {
			problems = append(problems, issue.String())
		}
		return nil, strings.Join(problems, "; ")
	}
	var v Verdict
	if err := json.Unmarshal([]byte(message), &v); err != nil {
		return nil, "verdict decode failed: " + err.Error()
	}
	return &v, ""
}

// HandleRejection processes one supervisor envelope against the chat
// state. Schema failures emit a feedback envelope and leave the state
// untouched. Replays of an already-processed ticket are no-ops.
func (g *Gate) HandleRejection(ctx context.Context, st *state.ChatState, env *fabric.Envelope) (*Result, error) {
	verdict, problem := g.Validate(env.Message)
	if verdict == nil {
		if err := g.sendSchemaFeedback(ctx, env, problem); err != nil {
			return nil, err
		}
		st.AppendTelemetry("supervisor_schema_error", map[string]interface{}{
			"ticket_id": env.Payload.TicketID,
			"problem":   problem,
		})
		return &Result{SchemaError: true, SchemaFeedback: problem}, nil
	}

	ticketID := env.Payload.TicketID
	if ticketID != "" && st.ProcessedTickets[ticketID] {
		g.logger.Info("replayed supervisor ticket ignored",
			zap.String("chat_id", st.ChatID), zap.String("ticket_id", ticketID))
		return &Result{Duplicate: true, Verdict: verdict}, nil
	}

	// Synthesize the review into the transcript: a readable system
	// summary plus the structured critique as a tool message.
	st.Messages = append(st.Messages,
		types.NewSystemMessage(formatReviewSummary(verdict)),
		types.NewToolMessage(CritiqueToolName, ticketID, env.Message),
	)

	cycleID := ""
	if entry := st.CurrentLedgerEntry(); entry != nil {
		cycleID = entry.CycleID
	}
	items := ledger.TranslateCritique(ticketID, cycleID, verdict.RequiredArtifacts, verdict.Rationale)
	added := ledger.AppendCritiques(st, items)

	st.Invariants.NeedsTestAfterRejection = true
	transition := g.machine.Transition(st, state.StateHypothesize, true)

	st.SupervisorRequirements = verdict.RequiredArtifacts
	if ticketID != "" {
		if st.ProcessedTickets == nil {
			st.ProcessedTickets = make(map[string]bool)
		}
		st.ProcessedTickets[ticketID] = true
	}

	g.logger.Info("supervisor rejection applied",
		zap.String("chat_id", st.ChatID),
		zap.String("ticket_id", ticketID),
		zap.Strings("required_artifacts", verdict.RequiredArtifacts),
		zap.String("transition", string(transition.Outcome)))
	return &Result{
		Verdict:        verdict,
		Transition:     transition,
		CritiquesAdded: added,
	}, nil
}

// CheckFinalReview enforces the gate in the other direction: the
// orchestrator may only request a final review with a passing test
// suite and either a property-test result or an explicit rationale.
func CheckFinalReview(st *state.ChatState, rationale string) error {
	if st.LastTestSuiteResult == nil || st.LastTestSuiteResult.OverallStatus != "passed" {
		return fmt.Errorf("final review requires a passing test suite")
	}
	if st.PropertyTestResult == nil && strings.TrimSpace(rationale) == "" {
		return fmt.Errorf("final review requires a property-test result or an attached rationale")
	}
	return nil
}

// RejectFinalReviewLocally applies the same effect as a supervisor
// rejection when the final-review guard fails: test-failure
// exhaustion and a forced trip through hypothesis revision.
func (g *Gate) RejectFinalReviewLocally(st *state.ChatState, reason string) prp.TransitionResult {
	st.ExhaustionMode = state.TestFailure
	st.Invariants.NeedsTestAfterRejection = true
	st.AppendTelemetry("final_review_rejected", map[string]interface{}{
		"reason": reason,
	})
	return g.machine.Transition(st, state.StateHypothesize, true)
}

func (g *Gate) sendSchemaFeedback(ctx context.Context, env *fabric.Envelope, problem string) error {
	if g.stream == nil {
		return nil
	}
	feedback := fabric.NewEnvelope(g.sender, fabric.RecipientSupervisor,
		"schema_error: verdict rejected, state not advanced",
		fabric.Payload{
			ChatID:   env.Payload.ChatID,
			TicketID: env.Payload.TicketID,
			Extra: map[string]interface{}{
				"schema_error": problem,
				"original":     env.Message,
			},
		})
	if _, err := fabric.Send(ctx, g.stream, feedback); err != nil {
		return fmt.Errorf("send schema feedback: %w", err)
	}
	return nil
}

func formatReviewSummary(v *Verdict) string {
	var b strings.Builder
	b.WriteString("Supervisor Review Feedback: ")
	b.WriteString(v.Rationale)
	if len(v.RequiredArtifacts) > 0 {
		b.WriteString(" Required artifacts: ")
		b.WriteString(strings.Join(v.RequiredArtifacts, ", "))
		b.WriteString(".")
	}
	return b.String()
}
