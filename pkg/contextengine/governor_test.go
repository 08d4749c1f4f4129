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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/quench/pkg/state"
	"github.com/teradata-labs/quench/pkg/types"
)

// scriptedProvider replays canned responses for governor tests.
type scriptedProvider struct {
	responses []string
	err       error
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, system string, messages []types.Message, tools []types.ToolSpec) (*types.LLMResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &types.LLMResponse{}, nil
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return &types.LLMResponse{Content: resp}, nil
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-1" }

func newTestGovernor(provider types.LLMProvider, t *testing.T) *Governor {
	counter := GetTokenCounter()
	reducer := NewReducer(counter)
	curator := NewCurator(NewScorer(200000), reducer, NewExternalStore(t.TempDir(), true), counter, 80000)
	return NewGovernor(provider, reducer, curator, counter)
}

func TestFallbackPlanOrdersByPriority(t *testing.T) {
	gov := newTestGovernor(nil, t)
	st := state.NewChatState("c1")
	st.ContextSegments = []state.Segment{
		segmentAt("low", "conversation", "x", 2, 10, time.Minute),
		segmentAt("high", "code_context", "x", 9, 10, time.Minute),
		segmentAt("mid", "conversation", "x", 5, 10, time.Minute),
	}
	st.RecomputeContextWindow()

	plan := gov.Govern(context.Background(), st, 100)
	assert.Equal(t, []string{"high", "mid", "low"}, plan.PromptOutline.OrderedSegments)
	require.NotNil(t, st.GovernorOutline)
	assert.Equal(t, plan.PromptOutline.OrderedSegments, st.GovernorOutline.OrderedSegments)
}

func TestGovernorAppliesModelPlan(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"actions":[{"segment_id":"keep","decision":"retain"},{"segment_id":"drop","decision":"discard"}],` +
			`"prompt_outline":{"focus":["retry logic"],"ordered_segments":["keep"]}}`,
	}}
	gov := newTestGovernor(provider, t)

	st := state.NewChatState("c1")
	st.ContextSegments = []state.Segment{
		segmentAt("keep", "code_context", "x", 5, 10, time.Minute),
		segmentAt("drop", "conversation", "x", 5, 10, time.Minute),
	}
	st.RecomputeContextWindow()

	gov.Govern(context.Background(), st, 100)
	require.Len(t, st.ContextSegments, 1)
	assert.Equal(t, "keep", st.ContextSegments[0].ID)
	assert.Equal(t, []string{"retry logic"}, st.GovernorOutline.Focus)
}

func TestGovernorFallsBackOnModelFailure(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("provider down")}
	gov := newTestGovernor(provider, t)

	st := state.NewChatState("c1")
	st.ContextSegments = []state.Segment{
		segmentAt("only", "conversation", "x", 5, 10, time.Minute),
	}
	st.RecomputeContextWindow()

	plan := gov.Govern(context.Background(), st, 100)
	assert.Equal(t, []string{"only"}, plan.PromptOutline.OrderedSegments)
	assert.Equal(t, 1, provider.calls)
}

func TestGovernorRejectsPlanWithUnknownSegment(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"actions":[{"segment_id":"ghost","decision":"discard"}],"prompt_outline":{}}`,
	}}
	gov := newTestGovernor(provider, t)

	st := state.NewChatState("c1")
	st.ContextSegments = []state.Segment{
		segmentAt("real", "conversation", "x", 5, 10, time.Minute),
	}
	st.RecomputeContextWindow()

	gov.Govern(context.Background(), st, 100)
	// Fallback retains the real segment; the ghost directive is ignored.
	require.Len(t, st.ContextSegments, 1)
	assert.Equal(t, []string{"real"}, st.GovernorOutline.OrderedSegments)
}

func TestGovernorIsolateLowersPriority(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		`{"actions":[{"segment_id":"s1","decision":"isolate"}],"prompt_outline":{"ordered_segments":["s1"]}}`,
	}}
	gov := newTestGovernor(provider, t)

	st := state.NewChatState("c1")
	st.ContextSegments = []state.Segment{
		segmentAt("s1", "tool_output:scan", "x", 7, 10, time.Minute),
	}
	st.RecomputeContextWindow()

	gov.Govern(context.Background(), st, 100)
	assert.Equal(t, 3, st.ContextSegments[0].Priority)
}
