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

// Package tools defines the tool surface bound to the LLM: the tool
// contract, a registry, and an executor with backpressure detection.
// Builtin tools drive the refinement ledger, test accounting and the
// workspace manager.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/teradata-labs/quench/pkg/state"
	"github.com/teradata-labs/quench/pkg/types"
)

// Tool is one callable unit bound to the LLM. Execute receives the
// chat state because builtin tools mutate it (ledger, counters, test
// results); implementations must only touch the state they own.
type Tool interface {
	// Name returns the tool's unique identifier
	Name() string

	// Description returns a human-readable description for LLM context
	Description() string

	// InputSchema returns the JSON Schema for tool parameters
	InputSchema() json.RawMessage

	// Execute runs the tool with given parameters
	Execute(ctx context.Context, st *state.ChatState, params map[string]interface{}) (*Result, error)
}

// Result represents the outcome of tool execution.
type Result struct {
	// Success indicates if the tool executed successfully
	Success bool

	// Data contains result fields merged into the response payload
	Data map[string]interface{}

	// Error carries failure detail when Success is false
	Error string
}

// Payload renders the result as the JSON object fed back to the LLM.
// Failures carry status="failed" so the exhaustion classifier can key
// on them.
func (r *Result) Payload() string {
	out := make(map[string]interface{}, len(r.Data)+2)
	for k, v := range r.Data {
		out[k] = v
	}
	out["success"] = r.Success
	if !r.Success {
		out["status"] = "failed"
		if r.Error != "" {
			out["error"] = r.Error
		}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"status":"failed","error":%q}`, err.Error())
	}
	return string(raw)
}

// Ok returns a successful result with the given data fields.
func Ok(data map[string]interface{}) *Result {
	return &Result{Success: true, Data: data}
}

// Fail returns a failed result. Extra data fields (stderr snippets,
// partial output) may be attached afterwards.
func Fail(format string, args ...interface{}) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Registry holds the tool set for one runtime profile.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the previous
// tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns the LLM binding for every registered tool, sorted by
// name for a stable prompt.
func (r *Registry) Specs() []types.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]types.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, types.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// NewFuncTool wraps a function as a Tool.
func NewFuncTool(name, description string, schema json.RawMessage,
	run func(ctx context.Context, st *state.ChatState, params map[string]interface{}) (*Result, error)) Tool {
	return &funcTool{name: name, description: description, schema: schema, run: run}
}

// funcTool adapts a function to the Tool interface; most builtins are
// declared this way.
type funcTool struct {
	name        string
	description string
	schema      json.RawMessage
	run         func(ctx context.Context, st *state.ChatState, params map[string]interface{}) (*Result, error)
}

func (t *funcTool) Name() string                { return t.name }
func (t *funcTool) Description() string         { return t.description }
func (t *funcTool) InputSchema() json.RawMessage { return t.schema }

func (t *funcTool) Execute(ctx context.Context, st *state.ChatState, params map[string]interface{}) (*Result, error) {
	return t.run(ctx, st, params)
}

func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func boolParam(params map[string]interface{}, key string) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return false
}

func intParam(params map[string]interface{}, key string) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func stringSliceParam(params map[string]interface{}, key string) []string {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
