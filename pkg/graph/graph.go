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

// Package graph runs the per-envelope node pipeline: context
// pre-processing, the LLM driver with bounded tool rounds, the PRP
// trigger, and post-processing. Nodes are a tagged variant sharing one
// state-to-state transition function.
package graph

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
	"github.com/teradata-labs/quench/pkg/contextengine"
	"github.com/teradata-labs/quench/pkg/prp"
	"github.com/teradata-labs/quench/pkg/state"
	"github.com/teradata-labs/quench/pkg/tools"
	"github.com/teradata-labs/quench/pkg/types"
)

// NodeKind tags one node of the pipeline.
type NodeKind string

// Pipeline nodes in invocation order. The driver and tool nodes cycle
// until the model stops requesting tools or the round budget runs out.
const (
	NodePreProcess  NodeKind = "pre_process"
	NodeDriver      NodeKind = "driver"
	NodeTools       NodeKind = "tools"
	NodePRPTrigger  NodeKind = "prp_trigger"
	NodePostProcess NodeKind = "post_process"
	nodeEnd         NodeKind = ""
)

// DefaultMaxToolRounds bounds driver/tool cycles per invocation.
const DefaultMaxToolRounds = 8

// Executor wires the pipeline dependencies for one runtime profile.
type Executor struct {
	engine        *contextengine.Engine
	provider      types.LLMProvider
	registry      *tools.Registry
	toolExec      *tools.Executor
	machine       *prp.Machine
	predictor     *prp.Predictor
	systemPrompt  string
	maxToolRounds int
	logger        *zap.Logger
}

// Config assembles an Executor.
type Config struct {
	Engine       *contextengine.Engine
	Provider     types.LLMProvider
	Tools        *tools.Registry
	ToolExecutor *tools.Executor
	Machine      *prp.Machine
	Predictor    *prp.Predictor
	SystemPrompt string
	// MaxToolRounds <= 0 selects the default.
	MaxToolRounds int
}

// NewExecutor creates the pipeline executor.
func NewExecutor(cfg Config) *Executor {
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = DefaultMaxToolRounds
	}
	toolExec := cfg.ToolExecutor
	if toolExec == nil {
		toolExec = tools.NewExecutor(cfg.Tools, 0)
	}
	return &Executor{
		engine:        cfg.Engine,
		provider:      cfg.Provider,
		registry:      cfg.Tools,
		toolExec:      toolExec,
		machine:       cfg.Machine,
		predictor:     cfg.Predictor,
		systemPrompt:  cfg.SystemPrompt,
		maxToolRounds: rounds,
		logger:        log.With(zap.String("component", "graph")),
	}
}

// Result is the outcome of one graph invocation.
type Result struct {
	// Reply is the final assistant response of the driver loop.
	Reply *types.LLMResponse

	// ToolExecutions lists every tool dispatch in order.
	ToolExecutions []tools.Execution
}

// run is the mutable state threaded through node transitions.
type run struct {
	st         *state.ChatState
	inbound    []types.Message
	reply      *types.LLMResponse
	toolRounds int
	executions []tools.Execution
}

// Invoke drives the pipeline once for an envelope's inbound messages.
// Cancellation is honored between nodes: an aborted invocation leaves
// the last completed node's state but returns the context error so the
// caller skips the checkpoint.
func (e *Executor) Invoke(ctx context.Context, st *state.ChatState, inbound []types.Message) (*Result, error) {
	r := &run{st: st, inbound: inbound}
	node := NodePreProcess
	for node != nodeEnd {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := e.step(ctx, r, node)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node, err)
		}
		node = next
	}
	return &Result{Reply: r.reply, ToolExecutions: r.executions}, nil
}

// step is the shared transition function over the node variants.
func (e *Executor) step(ctx context.Context, r *run, node NodeKind) (NodeKind, error) {
	switch node {
	case NodePreProcess:
		if _, err := e.engine.PreProcess(ctx, r.st, r.inbound); err != nil {
			return nodeEnd, err
		}
		return NodeDriver, nil

	case NodeDriver:
		reply, err := e.provider.Chat(ctx,
			AssemblePrompt(e.systemPrompt, r.st), r.st.Messages, e.registry.Specs())
		if err != nil {
			return nodeEnd, err
		}
		r.reply = reply
		r.st.Messages = append(r.st.Messages, types.NewAIMessage(reply.Content, reply.ToolCalls...))
		prp.ClassifyReply(r.st, reply)

		if len(reply.ToolCalls) > 0 && r.toolRounds < e.maxToolRounds {
			return NodeTools, nil
		}
		if len(reply.ToolCalls) > 0 {
			e.logger.Warn("tool round budget exhausted",
				zap.String("chat_id", r.st.ChatID),
				zap.Int("rounds", r.toolRounds))
		}
		return NodePRPTrigger, nil

	case NodeTools:
		r.toolRounds++
		for _, call := range r.reply.ToolCalls {
			exec := e.toolExec.Execute(ctx, r.st, call)
			r.executions = append(r.executions, exec)
			if err := e.engine.HandleToolResponse(ctx, r.st, call.Name, call.ID, exec.Payload); err != nil {
				return nodeEnd, err
			}
		}
		return NodeDriver, nil

	case NodePRPTrigger:
		e.predictor.Update(r.st)
		if e.predictor.ForceHypothesize(r.st) &&
			(r.st.PRPState == state.StatePropose || r.st.PRPState == state.StateTest) {
			e.machine.Transition(r.st, state.StateHypothesize, false)
		}
		return NodePostProcess, nil

	case NodePostProcess:
		e.engine.PostProcess(ctx, r.st, r.reply)
		return nodeEnd, nil
	}
	return nodeEnd, fmt.Errorf("unknown node kind %q", node)
}

// AssemblePrompt builds the system prompt per the driver contract:
// base prompt, reset addendum, governor-ordered segments, then any
// unlisted high-priority segments, each rendered as
// "[<type>: <id>]" followed by its content.
func AssemblePrompt(systemPrompt string, st *state.ChatState) string {
	var parts []string
	if systemPrompt != "" {
		parts = append(parts, systemPrompt)
	}
	if st.SystemPromptAddendum != "" {
		parts = append(parts, st.SystemPromptAddendum)
	}

	byID := make(map[string]*state.Segment, len(st.ContextSegments))
	for i := range st.ContextSegments {
		byID[st.ContextSegments[i].ID] = &st.ContextSegments[i]
	}

	listed := make(map[string]bool)
	if st.GovernorOutline != nil {
		for _, id := range st.GovernorOutline.OrderedSegments {
			seg, ok := byID[id]
			if !ok {
				continue
			}
			listed[id] = true
			parts = append(parts, renderSegment(seg))
		}
	}
	for i := range st.ContextSegments {
		seg := &st.ContextSegments[i]
		if seg.Priority >= 8 && !listed[seg.ID] {
			parts = append(parts, renderSegment(seg))
		}
	}
	return strings.Join(parts, "\n\n")
}

func renderSegment(seg *state.Segment) string {
	return fmt.Sprintf("[%s: %s]\n%s", seg.Type, seg.ID, seg.Content)
}
