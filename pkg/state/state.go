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

// Package state defines the per-chat durable state owned by exactly
// one runtime process at a time: the transcript, the segmented working
// memory, the refinement ledger and all protocol counters. The whole
// struct serializes to a single JSON blob for checkpointing.
package state

import (
	"strings"
	"time"

	"github.com/teradata-labs/quench/pkg/fabric"
	"github.com/teradata-labs/quench/pkg/types"
)

// PRPState is a phase of the Perpetual Refinement Protocol.
type PRPState string

const (
	StatePropose     PRPState = "PROPOSE"
	StateHypothesize PRPState = "HYPOTHESIZE"
	StateExecute     PRPState = "EXECUTE"
	StateTest        PRPState = "TEST"
	StateConclude    PRPState = "CONCLUDE"
)

// ExhaustionMode classifies why progress has stalled.
type ExhaustionMode string

const (
	ExhaustionNone       ExhaustionMode = "NONE"
	ContextSaturation    ExhaustionMode = "CONTEXT_SATURATION"
	RetryDepletion       ExhaustionMode = "RETRY_DEPLETION"
	ToolBackpressure     ExhaustionMode = "TOOL_BACKPRESSURE"
	LLMStop              ExhaustionMode = "LLM_STOP"
	TestFailure          ExhaustionMode = "TEST_FAILURE"
	HypothesisExhausted  ExhaustionMode = "HYPOTHESIS_EXHAUSTED"
	PredictedExhaustion  ExhaustionMode = "PREDICTED_EXHAUSTION"
)

// Hypothesis statuses recorded in the refinement ledger.
const (
	HypothesisProposed   = "proposed"
	HypothesisInProgress = "in_progress"
	HypothesisSucceeded  = "succeeded"
	HypothesisFailed     = "failed"
	HypothesisAbandoned  = "abandoned"
)

// PointerTypePrefix marks segments whose content was externalized.
const PointerTypePrefix = "pointer:"

// Segment is one unit of working memory.
type Segment struct {
	ID                  string    `json:"id"`
	Content             string    `json:"content"`
	Type                string    `json:"type"`
	Priority            int       `json:"priority"`
	TokenCount          int       `json:"token_count"`
	Timestamp           time.Time `json:"timestamp"`
	DecayRate           float64   `json:"decay_rate"`
	CompressionEligible bool      `json:"compression_eligible"`
	RestorableReference string    `json:"restorable_reference,omitempty"`
}

// IsPointer reports whether the segment is an externalized placeholder.
func (s *Segment) IsPointer() bool {
	return strings.HasPrefix(s.Type, PointerTypePrefix)
}

// TestResult is one recorded test outcome within a cycle.
type TestResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TestSuiteResult summarizes a full test-suite run.
type TestSuiteResult struct {
	OverallStatus string       `json:"overall_status"`
	Passed        int          `json:"passed"`
	Failed        int          `json:"failed"`
	Results       []TestResult `json:"results,omitempty"`
	RecordedAt    time.Time    `json:"recorded_at"`
}

// PropertyTestResult records a property-test harness run.
type PropertyTestResult struct {
	Passed     bool      `json:"passed"`
	Cases      int       `json:"cases"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// LedgerEntry is one hypothesis cycle in the refinement ledger. The
// ledger forms a DAG: Dependencies and CausalLinks refer to earlier
// entries by cycle id, never by pointer.
type LedgerEntry struct {
	CycleID                     string                 `json:"cycle_id"`
	Timestamp                   time.Time              `json:"timestamp"`
	Hypothesis                  string                 `json:"hypothesis"`
	Status                      string                 `json:"status"`
	OutcomeSummary              string                 `json:"outcome_summary,omitempty"`
	ExhaustionTrigger           ExhaustionMode         `json:"exhaustion_trigger"`
	Strategy                    string                 `json:"strategy,omitempty"`
	NoveltyScore                float64                `json:"novelty_score"`
	Dependencies                []string               `json:"dependencies,omitempty"`
	PredictedSuccessProbability float64                `json:"predicted_success_probability"`
	TestResults                 []TestResult           `json:"test_results,omitempty"`
	Metadata                    map[string]interface{} `json:"metadata,omitempty"`
	CausalLinks                 []string               `json:"causal_links,omitempty"`
}

// AutonomyCounters tracks autonomous-run accounting.
type AutonomyCounters struct {
	IterationCount     int `json:"iteration_count"`
	FalseStopEvents    int `json:"false_stop_events"`
	FalseStopPending   int `json:"false_stop_pending"`
	FalseStopMitigated int `json:"false_stop_mitigated"`
}

// Invariants holds the soft protocol invariants checked on phase
// boundaries. Violations are visible, never fatal.
type Invariants struct {
	NeedsTestAfterRejection bool     `json:"needs_test_after_rejection"`
	ContextUpdatedInCycle   bool     `json:"context_updated_in_cycle"`
	SkepticismGateSatisfied bool     `json:"skepticism_gate_satisfied"`
	ViolationLog            []string `json:"violation_log,omitempty"`
}

// CritiqueItem is one actionable item translated from supervisor
// feedback.
type CritiqueItem struct {
	TicketID    string    `json:"ticket_id,omitempty"`
	CycleID     string    `json:"cycle_id,omitempty"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Critique item kinds.
const (
	CritiqueTest        = "test"
	CritiqueImprovement = "improvement"
)

// TelemetryEvent is one append-only protocol event.
type TelemetryEvent struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// ReflectionEntry summarizes issues observed after an LLM turn.
type ReflectionEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	Issues          []string  `json:"issues,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

// Playbook tracks coarse context-engine iteration statistics.
type Playbook struct {
	Iterations int    `json:"iterations"`
	LastFocus  string `json:"last_focus,omitempty"`
}

// PromptOutline is the governor's ordering directive for the driver.
type PromptOutline struct {
	System          string   `json:"system,omitempty"`
	Focus           []string `json:"focus,omitempty"`
	OrderedSegments []string `json:"ordered_segments,omitempty"`
}

// ChatState is the full durable state of one conversation.
type ChatState struct {
	ChatID string `json:"chat_id"`

	Messages        []types.Message `json:"messages"`
	ContextSegments []Segment       `json:"context_segments"`

	// ExternalMemoryIndex maps reference ids to durable storage paths.
	ExternalMemoryIndex map[string]string `json:"external_memory_index,omitempty"`

	// ContextWindowUsed equals the sum of segment token counts after
	// every update.
	ContextWindowUsed int `json:"context_window_used"`

	PRPState      PRPState `json:"prp_state"`
	PRPCycleCount int      `json:"prp_cycle_count"`

	RefinementLedger []LedgerEntry `json:"refinement_ledger,omitempty"`

	AutonomyCounters AutonomyCounters `json:"autonomy_counters"`
	Invariants       Invariants       `json:"invariants"`

	ExhaustionMode        ExhaustionMode `json:"exhaustion_mode"`
	ExhaustionProbability float64        `json:"exhaustion_probability"`

	CritiqueBacklog []CritiqueItem   `json:"critique_backlog,omitempty"`
	Telemetry       []TelemetryEvent `json:"telemetry,omitempty"`

	Workspace *fabric.WorkspaceDescriptor `json:"workspace,omitempty"`

	// TaskGoal is the orchestrator's current task statement, used by
	// the relevance scorer.
	TaskGoal string `json:"task_goal,omitempty"`

	// CurrentPhase is the coarse run phase; "halted_by_human" after an
	// emergency stop.
	CurrentPhase string `json:"current_phase,omitempty"`

	SupervisorRequirements []string `json:"supervisor_requirements,omitempty"`

	AutonomousStartedAt time.Time                  `json:"autonomous_started_at,omitempty"`
	AutonomousSettings  *fabric.AutonomousSettings `json:"autonomous_settings,omitempty"`

	LastTestSuiteResult *TestSuiteResult    `json:"last_test_suite_result,omitempty"`
	PropertyTestResult  *PropertyTestResult `json:"property_test_result,omitempty"`
	FinalReviewRationale string             `json:"final_review_rationale,omitempty"`

	// Context engine bookkeeping.
	ContextResetCount    int               `json:"context_reset_count"`
	SystemPromptAddendum string            `json:"system_prompt_addendum,omitempty"`
	GovernorOutline      *PromptOutline    `json:"governor_outline,omitempty"`
	ReflectionLog        []ReflectionEntry `json:"reflection_log,omitempty"`
	ContextPlaybook      Playbook          `json:"context_playbook"`
	CurationRules        []string          `json:"curation_rules,omitempty"`
	PrefetchQueue        []string          `json:"prefetch_queue,omitempty"`

	// TestResultsInCycle counts tests recorded since the last cycle
	// boundary; the test-after-rejection invariant consumes it.
	TestResultsInCycle int `json:"test_results_in_cycle"`

	// SkepticismChallengesInCycle counts skeptical challenges recorded
	// this cycle.
	SkepticismChallengesInCycle int `json:"skepticism_challenges_in_cycle"`

	// ProcessedTickets dedups replayed envelopes by ticket id.
	ProcessedTickets map[string]bool `json:"processed_tickets,omitempty"`

	// Originator is the external requester that opened this chat;
	// delegated agent replies route back to it.
	Originator string `json:"originator,omitempty"`
}

// NewChatState lazily materializes the state for a chat id.
func NewChatState(chatID string) *ChatState {
	return &ChatState{
		ChatID:              chatID,
		PRPState:            StatePropose,
		ExhaustionMode:      ExhaustionNone,
		ExternalMemoryIndex: make(map[string]string),
		ProcessedTickets:    make(map[string]bool),
	}
}

// AppendTelemetry records a protocol event.
func (c *ChatState) AppendTelemetry(eventType string, detail map[string]interface{}) {
	c.Telemetry = append(c.Telemetry, TelemetryEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Detail:    detail,
	})
}

// RecomputeContextWindow resets ContextWindowUsed to the sum of
// segment token counts and returns it.
func (c *ChatState) RecomputeContextWindow() int {
	total := 0
	for _, s := range c.ContextSegments {
		total += s.TokenCount
	}
	c.ContextWindowUsed = total
	return total
}

// FindLedgerEntry returns the ledger entry with the given cycle id.
func (c *ChatState) FindLedgerEntry(cycleID string) *LedgerEntry {
	for i := range c.RefinementLedger {
		if c.RefinementLedger[i].CycleID == cycleID {
			return &c.RefinementLedger[i]
		}
	}
	return nil
}

// CurrentLedgerEntry returns the most recent ledger entry, or nil.
func (c *ChatState) CurrentLedgerEntry() *LedgerEntry {
	if len(c.RefinementLedger) == 0 {
		return nil
	}
	return &c.RefinementLedger[len(c.RefinementLedger)-1]
}

// RecordTestResult attaches a test result to the current cycle and
// clears the test-after-rejection debt.
func (c *ChatState) RecordTestResult(r TestResult) {
	c.TestResultsInCycle++
	if entry := c.CurrentLedgerEntry(); entry != nil {
		entry.TestResults = append(entry.TestResults, r)
	}
	if c.Invariants.NeedsTestAfterRejection {
		c.Invariants.NeedsTestAfterRejection = false
	}
}

// RecordSkepticismChallenge marks the skepticism gate satisfied for
// the current cycle.
func (c *ChatState) RecordSkepticismChallenge() {
	c.SkepticismChallengesInCycle++
	c.Invariants.SkepticismGateSatisfied = true
}

// ResetCycleTracking clears per-cycle invariant tracking. Called on
// each transition out of CONCLUDE.
func (c *ChatState) ResetCycleTracking() {
	c.TestResultsInCycle = 0
	c.SkepticismChallengesInCycle = 0
	c.Invariants.ContextUpdatedInCycle = false
	c.Invariants.SkepticismGateSatisfied = false
}
