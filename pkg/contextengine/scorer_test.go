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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/teradata-labs/quench/pkg/state"
	"github.com/teradata-labs/quench/pkg/types"
)

func segmentAt(id, segType, content string, priority, tokens int, age time.Duration) state.Segment {
	return state.Segment{
		ID:         id,
		Type:       segType,
		Content:    content,
		Priority:   priority,
		TokenCount: tokens,
		Timestamp:  time.Now().Add(-age),
	}
}

func TestScoreBounds(t *testing.T) {
	scorer := NewScorer(200000)
	st := state.NewChatState("c1")
	st.TaskGoal = "fix the cache invalidation bug"
	st.Messages = append(st.Messages, types.NewHumanMessage("the cache returns stale entries"))
	st.ContextSegments = []state.Segment{
		segmentAt("s1", "conversation", "cache invalidation returns stale entries after write", 5, 40, time.Minute),
		segmentAt("s2", "code_context", "func invalidate(key string) { delete(cache, key) }", 6, 30, time.Minute),
	}
	st.RecomputeContextWindow()

	q := scorer.Score(st, time.Now())
	for name, v := range map[string]float64{
		"relevance": q.Relevance, "coherence": q.Coherence,
		"completeness": q.Completeness, "freshness": q.Freshness,
		"diversity": q.Diversity, "efficiency": q.Efficiency,
		"composite": q.Composite,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 1.0, name)
	}
	assert.Greater(t, q.Relevance, 0.0)
}

func TestFreshnessDecays(t *testing.T) {
	scorer := NewScorer(200000)
	now := time.Now()

	fresh := []state.Segment{segmentAt("s1", "conversation", "x", 5, 10, 0)}
	stale := []state.Segment{segmentAt("s1", "conversation", "x", 5, 10, 6*time.Hour)}

	assert.Greater(t, scorer.freshness(fresh, now), scorer.freshness(stale, now))
}

func TestEfficiencyDropsWithUsage(t *testing.T) {
	scorer := NewScorer(1000)
	assert.InDelta(t, 1.0, scorer.efficiency(0), 0.001)
	assert.InDelta(t, 0.5, scorer.efficiency(500), 0.001)
	assert.Zero(t, scorer.efficiency(1200))
}

func TestCompletenessFollowsPhase(t *testing.T) {
	scorer := NewScorer(200000)
	st := state.NewChatState("c1")
	st.PRPState = state.StateTest
	st.ContextSegments = []state.Segment{
		segmentAt("s1", "conversation", "x", 5, 10, 0),
	}
	// TEST phase also expects a test_suite segment.
	assert.InDelta(t, 0.5, scorer.completeness(st), 0.001)

	st.ContextSegments = append(st.ContextSegments,
		segmentAt("s2", "test_suite", "go test output", 6, 10, 0))
	assert.InDelta(t, 1.0, scorer.completeness(st), 0.001)
}

func TestCoherencePenalizesTypeMix(t *testing.T) {
	scorer := NewScorer(200000)
	few := []state.Segment{
		segmentAt("s1", "conversation", "x", 5, 1, 0),
		segmentAt("s2", "code_context", "x", 5, 1, 0),
	}
	many := append([]state.Segment{}, few...)
	for _, typ := range []string{"test_suite", "stack_traces", "error_history", "file_structure", "skill_catalog"} {
		many = append(many, segmentAt("s-"+typ, typ, "x", 5, 1, 0))
	}
	assert.Greater(t, scorer.coherence(few), scorer.coherence(many))
}

func TestPointerSegmentsCountUnderOriginalType(t *testing.T) {
	scorer := NewScorer(200000)
	st := state.NewChatState("c1")
	st.PRPState = state.StateExecute
	st.ContextSegments = []state.Segment{
		segmentAt("s1", "conversation", "x", 5, 10, 0),
		segmentAt("s2", "pointer:code_context", "[externalized]", 5, 4, 0),
	}
	assert.InDelta(t, 1.0, scorer.completeness(st), 0.001)
}
