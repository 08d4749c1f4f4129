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
package contextengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
	"github.com/teradata-labs/quench/pkg/state"
	"github.com/teradata-labs/quench/pkg/types"
)

// Governor decisions.
const (
	DecisionRetain      = "retain"
	DecisionCompress    = "compress"
	DecisionSummarize   = "summarize"
	DecisionIsolate     = "isolate"
	DecisionExternalize = "externalize"
	DecisionDiscard     = "discard"
)

// GovernorAction is one per-segment decision in a governor plan.
type GovernorAction struct {
	SegmentID string `json:"segment_id"`
	Decision  string `json:"decision"`
	Priority  *int   `json:"priority,omitempty"`
	Focus     string `json:"focus,omitempty"`
}

// GovernorPlan is the full plan: per-segment actions plus the prompt
// outline the driver follows.
type GovernorPlan struct {
	Actions       []GovernorAction    `json:"actions"`
	PromptOutline state.PromptOutline `json:"prompt_outline"`
}

// Governor reorders and annotates the window before each LLM call.
// With a provider configured it asks the model for a plan; otherwise,
// or on any model failure, it falls back to a deterministic ordering.
type Governor struct {
	provider types.LLMProvider
	reducer  *Reducer
	curator  *Curator
	counter  *TokenCounter
	logger   *zap.Logger
}

// NewGovernor creates a governor. provider may be nil for the
// deterministic fallback only.
func NewGovernor(provider types.LLMProvider, reducer *Reducer, curator *Curator, counter *TokenCounter) *Governor {
	return &Governor{
		provider: provider,
		reducer:  reducer,
		curator:  curator,
		counter:  counter,
		logger:   log.With(zap.String("component", "context_governor")),
	}
}

// Govern produces a plan, applies its actions to the window, and
// stamps the prompt outline onto the state for the driver.
func (g *Governor) Govern(ctx context.Context, st *state.ChatState, reducerTarget int) *GovernorPlan {
	plan := g.plan(ctx, st)
	g.apply(st, plan, reducerTarget)
	outline := plan.PromptOutline
	st.GovernorOutline = &outline
	return plan
}

func (g *Governor) plan(ctx context.Context, st *state.ChatState) *GovernorPlan {
	if g.provider != nil {
		if plan, err := g.llmPlan(ctx, st); err == nil {
			return plan
		} else {
			g.logger.Warn("governor model plan failed, using fallback", zap.Error(err))
		}
	}
	return g.fallbackPlan(st)
}

// llmPlan asks the provider for a JSON plan over the current window.
func (g *Governor) llmPlan(ctx context.Context, st *state.ChatState) (*GovernorPlan, error) {
	var b strings.Builder
	b.WriteString("Plan the context window for the next model call. Segments:\n")
	for _, seg := range st.ContextSegments {
		fmt.Fprintf(&b, "- id=%s type=%s priority=%d tokens=%d\n",
			seg.ID, seg.Type, seg.Priority, seg.TokenCount)
	}
	b.WriteString("Reply with JSON: {\"actions\":[{\"segment_id\":...,\"decision\":\"retain|compress|summarize|isolate|externalize|discard\"}],\"prompt_outline\":{\"focus\":[],\"ordered_segments\":[]}}")

	resp, err := g.provider.Chat(ctx,
		"You are a context window governor. Reply with a single JSON object and nothing else.",
		[]types.Message{types.NewHumanMessage(b.String())}, nil)
	if err != nil {
		return nil, err
	}
	var plan GovernorPlan
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &plan); err != nil {
		return nil, err
	}
	// Unknown segment ids or decisions invalidate the whole plan.
	known := make(map[string]bool, len(st.ContextSegments))
	for _, seg := range st.ContextSegments {
		known[seg.ID] = true
	}
	for _, a := range plan.Actions {
		if !known[a.SegmentID] || !validDecision(a.Decision) {
			return g.fallbackPlan(st), nil
		}
	}
	return &plan, nil
}

// fallbackPlan retains everything and orders segments by priority
// then freshness, newest first within a priority band.
func (g *Governor) fallbackPlan(st *state.ChatState) *GovernorPlan {
	idx := make([]int, len(st.ContextSegments))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		sa, sb := st.ContextSegments[idx[a]], st.ContextSegments[idx[b]]
		if sa.Priority != sb.Priority {
			return sa.Priority > sb.Priority
		}
		return sa.Timestamp.After(sb.Timestamp)
	})

	plan := &GovernorPlan{}
	for _, i := range idx {
		seg := st.ContextSegments[i]
		plan.Actions = append(plan.Actions, GovernorAction{SegmentID: seg.ID, Decision: DecisionRetain})
		plan.PromptOutline.OrderedSegments = append(plan.PromptOutline.OrderedSegments, seg.ID)
	}
	if st.TaskGoal != "" {
		plan.PromptOutline.Focus = []string{st.TaskGoal}
	}
	return plan
}

// apply executes the plan against the window.
func (g *Governor) apply(st *state.ChatState, plan *GovernorPlan, reducerTarget int) {
	for _, action := range plan.Actions {
		i := indexOfSegment(st.ContextSegments, action.SegmentID)
		if i < 0 {
			continue
		}
		seg := &st.ContextSegments[i]
		if action.Priority != nil {
			seg.Priority = *action.Priority
		}
		switch action.Decision {
		case DecisionRetain:
		case DecisionCompress, DecisionSummarize:
			if seg.IsPointer() {
				continue
			}
			seg.Content = g.reducer.Reduce(seg.Content, reducerTarget)
			seg.TokenCount = g.counter.CountTokens(seg.Content)
			seg.CompressionEligible = false
		case DecisionIsolate:
			// Isolated segments drop out of the hot prompt path but
			// stay restorable.
			if seg.Priority > 3 {
				seg.Priority = 3
			}
		case DecisionExternalize:
			if seg.IsPointer() {
				continue
			}
			if err := g.curator.Externalize(st, seg, "governor directive"); err != nil {
				g.logger.Warn("governor externalize failed", zap.String("segment_id", seg.ID), zap.Error(err))
			}
		case DecisionDiscard:
			st.ContextSegments = append(st.ContextSegments[:i], st.ContextSegments[i+1:]...)
		}
	}
	st.RecomputeContextWindow()
}

func validDecision(d string) bool {
	switch d {
	case DecisionRetain, DecisionCompress, DecisionSummarize, DecisionIsolate, DecisionExternalize, DecisionDiscard:
		return true
	}
	return false
}

func indexOfSegment(segments []state.Segment, id string) int {
	for i := range segments {
		if segments[i].ID == id {
			return i
		}
	}
	return -1
}

// extractJSON pulls the first top-level JSON object out of a model
// reply that may carry prose around it.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
