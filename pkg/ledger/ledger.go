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

// Package ledger implements the refinement ledger: an append-only log
// of hypothesis cycles forming a DAG through cycle-id references. New
// proposals are scored for novelty against prior entries; near
// duplicates without a strategy change are rejected so the loop
// cannot thrash on a repeated idea.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
	"github.com/teradata-labs/quench/pkg/state"
)

// Ledger drives the refinement-ledger operations over a chat state.
type Ledger struct {
	noveltyThreshold float64
	dmp              *diffmatchpatch.DiffMatchPatch
	logger           *zap.Logger
}

// New creates a ledger with the configured novelty threshold.
func New(noveltyThreshold float64) *Ledger {
	return &Ledger{
		noveltyThreshold: noveltyThreshold,
		dmp:              diffmatchpatch.New(),
		logger:           log.With(zap.String("component", "refinement_ledger")),
	}
}

// ProposeRequest is the propose_hypothesis tool payload.
type ProposeRequest struct {
	Hypothesis   string   `json:"hypothesis"`
	Strategy     string   `json:"strategy,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// ProposeResult reports a proposal attempt.
type ProposeResult struct {
	Accepted     bool               `json:"accepted"`
	Entry        *state.LedgerEntry `json:"entry,omitempty"`
	NoveltyScore float64            `json:"novelty_score"`
	Reason       string             `json:"reason,omitempty"`
}

// Propose appends a new hypothesis cycle. Dependencies must name
// cycles already in the ledger; a proposal whose novelty falls below
// the threshold is rejected unless it carries a strategy change.
// Rejection leaves the ledger untouched.
func (l *Ledger) Propose(st *state.ChatState, req ProposeRequest) ProposeResult {
	if strings.TrimSpace(req.Hypothesis) == "" {
		return ProposeResult{Accepted: false, Reason: "hypothesis text is required"}
	}

	for _, dep := range req.Dependencies {
		if st.FindLedgerEntry(dep) == nil {
			st.AppendTelemetry("refinement_ledger_rejected", map[string]interface{}{
				"hypothesis": req.Hypothesis,
				"reason":     "unknown_dependency",
				"dependency": dep,
			})
			l.logger.Info("hypothesis with unknown dependency rejected",
				zap.String("chat_id", st.ChatID),
				zap.String("dependency", dep))
			return ProposeResult{
				Accepted: false,
				Reason:   fmt.Sprintf("unknown dependency %s; dependencies must name earlier cycles", dep),
			}
		}
	}

	novelty := l.Novelty(st, req.Hypothesis)
	if novelty < l.noveltyThreshold && req.Strategy == "" {
		st.AppendTelemetry("refinement_ledger_rejected", map[string]interface{}{
			"hypothesis":    req.Hypothesis,
			"novelty_score": novelty,
			"threshold":     l.noveltyThreshold,
		})
		l.logger.Info("near-duplicate hypothesis rejected",
			zap.String("chat_id", st.ChatID),
			zap.Float64("novelty", novelty))
		return ProposeResult{
			Accepted:     false,
			NoveltyScore: novelty,
			Reason:       "near-duplicate hypothesis; provide a strategy change to retry this line",
		}
	}

	entry := state.LedgerEntry{
		CycleID:                     fmt.Sprintf("cycle-%d", len(st.RefinementLedger)+1),
		Timestamp:                   time.Now(),
		Hypothesis:                  req.Hypothesis,
		Status:                      state.HypothesisProposed,
		Strategy:                    req.Strategy,
		OutcomeSummary:              req.Summary,
		NoveltyScore:                novelty,
		Dependencies:                req.Dependencies,
		ExhaustionTrigger:           state.ExhaustionNone,
		PredictedSuccessProbability: l.predictSuccess(st, novelty, req.Dependencies),
	}
	st.RefinementLedger = append(st.RefinementLedger, entry)
	return ProposeResult{
		Accepted:     true,
		Entry:        st.CurrentLedgerEntry(),
		NoveltyScore: novelty,
	}
}

// Novelty scores a hypothesis against every existing entry: 1 means
// nothing similar exists, 0 means an exact duplicate.
func (l *Ledger) Novelty(st *state.ChatState, hypothesis string) float64 {
	if len(st.RefinementLedger) == 0 {
		return 1
	}
	min := 1.0
	for _, entry := range st.RefinementLedger {
		d := l.textDistance(hypothesis, entry.Hypothesis)
		if d < min {
			min = d
		}
	}
	return min
}

// textDistance is the normalized levenshtein distance between two
// strings in [0,1].
func (l *Ledger) textDistance(a, b string) float64 {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	diffs := l.dmp.DiffMain(a, b, false)
	dist := l.dmp.DiffLevenshtein(diffs)
	return float64(dist) / float64(longest)
}

// predictSuccess combines novelty with the historical success rate of
// the proposal's dependencies.
func (l *Ledger) predictSuccess(st *state.ChatState, novelty float64, deps []string) float64 {
	depRate := 0.5
	if len(deps) > 0 {
		succeeded, total := 0, 0
		for _, dep := range deps {
			entry := st.FindLedgerEntry(dep)
			if entry == nil {
				continue
			}
			total++
			if entry.Status == state.HypothesisSucceeded {
				succeeded++
			}
		}
		if total > 0 {
			depRate = float64(succeeded) / float64(total)
		}
	}
	return 0.5*novelty + 0.5*depRate
}

// ConcludeRequest is the conclude_hypothesis tool payload.
type ConcludeRequest struct {
	CycleID string `json:"cycle_id"`
	Status  string `json:"status"`
	Summary string `json:"summary,omitempty"`
}

// Conclude mutates an existing cycle in place, stamping the current
// exhaustion mode as the cycle's trigger.
func (l *Ledger) Conclude(st *state.ChatState, req ConcludeRequest) error {
	entry := st.FindLedgerEntry(req.CycleID)
	if entry == nil {
		return fmt.Errorf("unknown cycle %s", req.CycleID)
	}
	switch req.Status {
	case state.HypothesisSucceeded, state.HypothesisFailed, state.HypothesisAbandoned, state.HypothesisInProgress:
	default:
		return fmt.Errorf("invalid hypothesis status %q", req.Status)
	}
	entry.Status = req.Status
	if req.Summary != "" {
		entry.OutcomeSummary = req.Summary
	}
	entry.ExhaustionTrigger = st.ExhaustionMode
	return nil
}

// QueryRequest is the query_past_failures tool payload.
type QueryRequest struct {
	Filter       string `json:"filter,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	IncludeTests bool   `json:"include_tests,omitempty"`
}

// QueryPastFailures returns failed or abandoned cycles matching the
// filter, most recent first.
func (l *Ledger) QueryPastFailures(st *state.ChatState, req QueryRequest) []state.LedgerEntry {
	filter := strings.ToLower(req.Filter)
	var out []state.LedgerEntry
	for i := len(st.RefinementLedger) - 1; i >= 0; i-- {
		entry := st.RefinementLedger[i]
		if entry.Status != state.HypothesisFailed && entry.Status != state.HypothesisAbandoned {
			continue
		}
		if filter != "" &&
			!strings.Contains(strings.ToLower(entry.Hypothesis), filter) &&
			!strings.Contains(strings.ToLower(entry.OutcomeSummary), filter) {
			continue
		}
		if !req.IncludeTests {
			entry.TestResults = nil
		}
		out = append(out, entry)
		if req.Limit > 0 && len(out) >= req.Limit {
			break
		}
	}
	return out
}

// InferCausalChain walks each cycle's dependencies transitively and
// attaches the reachable set to the entry's causal links.
func (l *Ledger) InferCausalChain(st *state.ChatState, cycleIDs []string) {
	for _, id := range cycleIDs {
		entry := st.FindLedgerEntry(id)
		if entry == nil {
			continue
		}
		reached := make(map[string]bool)
		l.walkDependencies(st, entry.Dependencies, reached)
		delete(reached, entry.CycleID)

		var links []string
		for i := range st.RefinementLedger {
			if reached[st.RefinementLedger[i].CycleID] {
				links = append(links, st.RefinementLedger[i].CycleID)
			}
		}
		entry.CausalLinks = links
	}
}

func (l *Ledger) walkDependencies(st *state.ChatState, deps []string, reached map[string]bool) {
	for _, dep := range deps {
		if reached[dep] {
			continue
		}
		entry := st.FindLedgerEntry(dep)
		if entry == nil {
			continue
		}
		reached[dep] = true
		l.walkDependencies(st, entry.Dependencies, reached)
	}
}
