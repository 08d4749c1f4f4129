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
package tools

import (
	"context"

	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
	"github.com/teradata-labs/quench/pkg/prp"
	"github.com/teradata-labs/quench/pkg/state"
	"github.com/teradata-labs/quench/pkg/types"
)

// DefaultMaxConcurrent bounds parallel tool executions per process.
const DefaultMaxConcurrent = 8

// Execution is the outcome of dispatching one tool call: the payload
// string destined for the transcript plus classification flags.
type Execution struct {
	Call    types.ToolCall
	Payload string
	Failed  bool
	// Backpressured is set when the dispatch slot could not be
	// acquired; the call was not executed.
	Backpressured bool
}

// Executor dispatches tool calls with a bounded concurrency slot pool.
// Saturation is surfaced as TOOL_BACKPRESSURE on the chat state rather
// than blocking the graph.
type Executor struct {
	registry *Registry
	slots    chan struct{}
	logger   *zap.Logger
}

// NewExecutor creates an executor over the registry. maxConcurrent <= 0
// selects the default.
func NewExecutor(registry *Registry, maxConcurrent int) *Executor {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Executor{
		registry: registry,
		slots:    make(chan struct{}, maxConcurrent),
		logger:   log.With(zap.String("component", "tool_executor")),
	}
}

// Execute runs one tool call. Unknown tools and tool errors come back
// as failed payloads, never as Go errors: the LLM sees the failure and
// the exhaustion classifier routes the protocol accordingly.
func (e *Executor) Execute(ctx context.Context, st *state.ChatState, call types.ToolCall) Execution {
	select {
	case e.slots <- struct{}{}:
		defer func() { <-e.slots }()
	default:
		prp.SetToolBackpressure(st)
		e.logger.Warn("tool dispatch saturated",
			zap.String("chat_id", st.ChatID), zap.String("tool", call.Name))
		return Execution{
			Call:          call,
			Payload:       Fail("tool dispatch saturated, retry after hypothesis revision").Payload(),
			Failed:        true,
			Backpressured: true,
		}
	}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return Execution{
			Call:    call,
			Payload: Fail("unknown tool %q", call.Name).Payload(),
			Failed:  true,
		}
	}

	result, err := tool.Execute(ctx, st, call.Input)
	if err != nil {
		e.logger.Warn("tool execution error",
			zap.String("chat_id", st.ChatID),
			zap.String("tool", call.Name),
			zap.Error(err))
		prp.ClassifyTestFailure(st)
		return Execution{
			Call:    call,
			Payload: Fail("%s", err.Error()).Payload(),
			Failed:  true,
		}
	}
	return Execution{
		Call:    call,
		Payload: result.Payload(),
		Failed:  !result.Success,
	}
}
