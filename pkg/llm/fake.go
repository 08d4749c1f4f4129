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

// Package llm selects and constructs LLM providers.
package llm

import (
	"context"
	"sync"

	"github.com/teradata-labs/quench/pkg/types"
)

// Call records one Chat invocation received by the fake provider.
type Call struct {
	System   string
	Messages []types.Message
	Tools    []types.ToolSpec
}

// Fake is a scripted LLMProvider for tests. Responses are returned in
// the order they were queued; once the script is exhausted every call
// returns an empty response, which the exhaustion detector classifies
// as an LLM stop.
type Fake struct {
	mu        sync.Mutex
	script    []*types.LLMResponse
	errScript []error
	calls     []Call
}

// NewFake creates a fake provider with the given scripted responses.
func NewFake(responses ...*types.LLMResponse) *Fake {
	return &Fake{
		script:    responses,
		errScript: make([]error, len(responses)),
	}
}

// Queue appends a response to the script.
func (f *Fake) Queue(resp *types.LLMResponse) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, resp)
	f.errScript = append(f.errScript, nil)
	return f
}

// QueueText appends a plain text response to the script.
func (f *Fake) QueueText(content string) *Fake {
	return f.Queue(&types.LLMResponse{Content: content, StopReason: "end_turn"})
}

// QueueToolCall appends a response requesting one tool execution.
func (f *Fake) QueueToolCall(id, name string, input map[string]interface{}) *Fake {
	return f.Queue(&types.LLMResponse{
		StopReason: "tool_use",
		ToolCalls:  []types.ToolCall{{ID: id, Name: name, Input: input}},
	})
}

// QueueError appends an error to the script.
func (f *Fake) QueueError(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, nil)
	f.errScript = append(f.errScript, err)
	return f
}

// Chat returns the next scripted response.
func (f *Fake) Chat(ctx context.Context, system string, messages []types.Message, tools []types.ToolSpec) (*types.LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{System: system, Messages: messages, Tools: tools})
	idx := len(f.calls) - 1
	if idx >= len(f.script) {
		return &types.LLMResponse{StopReason: "end_turn"}, nil
	}
	if idx < len(f.errScript) && f.errScript[idx] != nil {
		return nil, f.errScript[idx]
	}
	resp := f.script[idx]
	if resp == nil {
		return &types.LLMResponse{StopReason: "end_turn"}, nil
	}
	return resp, nil
}

// Name returns the provider name.
func (f *Fake) Name() string { return "fake" }

// Model returns the model identifier.
func (f *Fake) Model() string { return "fake-model" }

// Calls returns a copy of the recorded invocations.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many Chat invocations were received.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var _ types.LLMProvider = (*Fake)(nil)
