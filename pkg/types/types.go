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

// Package types contains shared types used across the quench runtime.
// This package breaks import cycles by providing common types that the
// agent, graph and llm packages all depend on.
package types

import (
	"context"
	"encoding/json"
	"time"
)

// Role identifies the sender of a conversation message.
type Role string

const (
	// RoleHuman is a message authored by a human user.
	RoleHuman Role = "human"

	// RoleAI is an assistant turn produced by the LLM.
	RoleAI Role = "ai"

	// RoleTool is a tool execution result fed back to the LLM.
	RoleTool Role = "tool"

	// RoleSystem is an injected system instruction or summary.
	RoleSystem Role = "system"
)

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	// ID is a unique identifier for this tool call
	ID string `json:"id"`

	// Name is the tool name
	Name string `json:"name"`

	// Input contains the tool parameters
	Input map[string]interface{} `json:"input,omitempty"`
}

// Message represents a single message in a conversation transcript.
type Message struct {
	// Role is the message sender (human, ai, tool, system)
	Role Role `json:"role"`

	// Content is the message text
	Content string `json:"content"`

	// Name carries the tool name for tool messages (e.g. "hypothesis_critique")
	Name string `json:"name,omitempty"`

	// ToolCallID links a tool message to the tool call it answers
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls contains tool invocations (ai messages only)
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Timestamp when the message was created
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NewHumanMessage returns a human message with the current timestamp.
func NewHumanMessage(content string) Message {
	return Message{Role: RoleHuman, Content: content, Timestamp: time.Now()}
}

// NewAIMessage returns an assistant message with the current timestamp.
func NewAIMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAI, Content: content, ToolCalls: calls, Timestamp: time.Now()}
}

// NewSystemMessage returns a system message with the current timestamp.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Timestamp: time.Now()}
}

// NewToolMessage returns a tool message carrying a named tool result.
func NewToolMessage(name, toolCallID, content string) Message {
	return Message{
		Role:       RoleTool,
		Name:       name,
		ToolCallID: toolCallID,
		Content:    content,
		Timestamp:  time.Now(),
	}
}

// ToolSpec describes a tool bound to an LLM call. The schema follows
// the JSON Schema spec for parameter definitions.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Usage tracks LLM token usage.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// LLMResponse represents a response from the LLM.
type LLMResponse struct {
	// Content is the text response (if no tool calls)
	Content string

	// ToolCalls contains requested tool executions
	ToolCalls []ToolCall

	// StopReason indicates why the LLM stopped
	StopReason string

	// Usage tracks token usage
	Usage Usage
}

// Empty reports whether the LLM produced neither text nor tool calls.
// An empty response is classified as an LLM stop by the exhaustion
// detector.
func (r *LLMResponse) Empty() bool {
	return r == nil || (r.Content == "" && len(r.ToolCalls) == 0)
}

// LLMProvider defines the interface for tool-capable chat completion
// backends. This allows pluggable providers (Anthropic, fakes, ...).
type LLMProvider interface {
	// Chat sends a system prompt and conversation to the LLM with the
	// given tools bound and returns the response.
	Chat(ctx context.Context, system string, messages []Message, tools []ToolSpec) (*LLMResponse, error)

	// Name returns the provider name
	Name() string

	// Model returns the model identifier
	Model() string
}
