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
	"math"
	"strings"
	"time"

	"github.com/teradata-labs/quench/pkg/state"
	"github.com/teradata-labs/quench/pkg/types"
)

// Quality holds the six sub-scores and their composite, all in [0,1].
type Quality struct {
	Relevance    float64 `json:"relevance"`
	Coherence    float64 `json:"coherence"`
	Completeness float64 `json:"completeness"`
	Freshness    float64 `json:"freshness"`
	Diversity    float64 `json:"diversity"`
	Efficiency   float64 `json:"efficiency"`
	Composite    float64 `json:"composite"`
}

// Composite weights. Relevance and freshness dominate because they
// drive curation decisions downstream.
const (
	weightRelevance    = 0.30
	weightCoherence    = 0.10
	weightCompleteness = 0.15
	weightFreshness    = 0.20
	weightDiversity    = 0.10
	weightEfficiency   = 0.15
)

// defaultDecayRate applies when a segment carries none.
const defaultDecayRate = 0.01

// expectedTypesByPhase lists the context types a well-formed window
// should hold in each protocol phase.
var expectedTypesByPhase = map[state.PRPState][]string{
	state.StatePropose:     {"conversation"},
	state.StateHypothesize: {"conversation", "error_history"},
	state.StateExecute:     {"conversation", "code_context"},
	state.StateTest:        {"conversation", "test_suite"},
	state.StateConclude:    {"conversation"},
}

// Scorer computes window quality from the current chat state.
type Scorer struct {
	contextWindowMax int
}

// NewScorer creates a scorer bounded by the model context window.
func NewScorer(contextWindowMax int) *Scorer {
	return &Scorer{contextWindowMax: contextWindowMax}
}

// Score computes the six sub-scores and the weighted composite.
func (s *Scorer) Score(st *state.ChatState, now time.Time) Quality {
	q := Quality{
		Relevance:    s.relevance(st),
		Coherence:    s.coherence(st.ContextSegments),
		Completeness: s.completeness(st),
		Freshness:    s.freshness(st.ContextSegments, now),
		Diversity:    s.diversity(st.ContextSegments),
		Efficiency:   s.efficiency(st.ContextWindowUsed),
	}
	q.Composite = weightRelevance*q.Relevance +
		weightCoherence*q.Coherence +
		weightCompleteness*q.Completeness +
		weightFreshness*q.Freshness +
		weightDiversity*q.Diversity +
		weightEfficiency*q.Efficiency
	return q
}

// SegmentRelevance scores one segment against the task goal and the
// recent user turns, weighted by segment priority. The curator reuses
// this for its eviction ordering.
func (s *Scorer) SegmentRelevance(st *state.ChatState, seg *state.Segment) float64 {
	focus := focusTerms(st)
	if len(focus) == 0 {
		return 0.5
	}
	overlap := termOverlap(seg.Content, focus)
	priorityWeight := 0.5 + float64(seg.Priority)/20.0
	return clamp01(overlap * priorityWeight)
}

func (s *Scorer) relevance(st *state.ChatState) float64 {
	if len(st.ContextSegments) == 0 {
		return 0
	}
	total := 0.0
	for i := range st.ContextSegments {
		total += s.SegmentRelevance(st, &st.ContextSegments[i])
	}
	return clamp01(total / float64(len(st.ContextSegments)))
}

// coherence penalizes windows holding too many unrelated context
// types at once.
func (s *Scorer) coherence(segments []state.Segment) float64 {
	distinct := distinctTypes(segments)
	if distinct <= 3 {
		return 1
	}
	return clamp01(1 - 0.1*float64(distinct-3))
}

func (s *Scorer) completeness(st *state.ChatState) float64 {
	expected := expectedTypesByPhase[st.PRPState]
	if len(expected) == 0 {
		return 1
	}
	present := make(map[string]bool)
	for _, seg := range st.ContextSegments {
		present[strings.TrimPrefix(seg.Type, state.PointerTypePrefix)] = true
	}
	found := 0
	for _, t := range expected {
		if present[t] {
			found++
		}
	}
	return float64(found) / float64(len(expected))
}

func (s *Scorer) freshness(segments []state.Segment, now time.Time) float64 {
	if len(segments) == 0 {
		return 0
	}
	total := 0.0
	for _, seg := range segments {
		total += segmentFreshness(&seg, now)
	}
	return clamp01(total / float64(len(segments)))
}

func (s *Scorer) diversity(segments []state.Segment) float64 {
	return clamp01(float64(distinctTypes(segments)) / 6.0)
}

func (s *Scorer) efficiency(used int) float64 {
	if s.contextWindowMax <= 0 {
		return 0
	}
	return clamp01(1 - float64(used)/float64(s.contextWindowMax))
}

// segmentFreshness applies exponential decay to segment age.
func segmentFreshness(seg *state.Segment, now time.Time) float64 {
	rate := seg.DecayRate
	if rate <= 0 {
		rate = defaultDecayRate
	}
	ageMinutes := now.Sub(seg.Timestamp).Minutes()
	if ageMinutes < 0 {
		ageMinutes = 0
	}
	return math.Exp(-rate * ageMinutes)
}

// focusTerms collects lowercase terms from the task goal and the last
// three user turns.
func focusTerms(st *state.ChatState) map[string]bool {
	terms := make(map[string]bool)
	addTerms(terms, st.TaskGoal)
	seen := 0
	for i := len(st.Messages) - 1; i >= 0 && seen < 3; i-- {
		if st.Messages[i].Role == types.RoleHuman {
			addTerms(terms, st.Messages[i].Content)
			seen++
		}
	}
	return terms
}

func addTerms(terms map[string]bool, text string) {
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?()[]{}\"'")
		if len(w) >= 3 && !stopwords[w] {
			terms[w] = true
		}
	}
}

func termOverlap(content string, focus map[string]bool) float64 {
	words := strings.Fields(strings.ToLower(content))
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?()[]{}\"'")
		if focus[w] {
			hits++
		}
	}
	// Saturate quickly: a handful of hits marks the segment relevant.
	return clamp01(float64(hits) / 5.0)
}

func distinctTypes(segments []state.Segment) int {
	types := make(map[string]bool)
	for _, seg := range segments {
		types[strings.TrimPrefix(seg.Type, state.PointerTypePrefix)] = true
	}
	return len(types)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
