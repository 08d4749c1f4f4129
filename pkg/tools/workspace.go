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
	"encoding/json"

	"github.com/teradata-labs/quench/pkg/fabric"
	"github.com/teradata-labs/quench/pkg/state"
	"github.com/teradata-labs/quench/pkg/workspace"
)

// WorkspaceManager is the slice of the workspace manager the tools
// use.
type WorkspaceManager interface {
	Create(ctx context.Context, workspaceID string) (*fabric.WorkspaceDescriptor, error)
	Exec(ctx context.Context, req workspace.ExecRequest) (*workspace.CommandResult, error)
	CopyTo(ctx context.Context, workspaceID, source, destination string) (*workspace.CopyResult, error)
	CopyFrom(ctx context.Context, workspaceID, source, destination string) (*workspace.CopyResult, error)
	Destroy(ctx context.Context, workspaceID string, deleteVolume bool) error
}

// RegisterWorkspaceTools binds the workspace lifecycle operations.
// Create is idempotent per workspace_id, so replayed tickets do not
// provision twice.
func RegisterWorkspaceTools(r *Registry, mgr WorkspaceManager) {
	r.Register(&funcTool{
		name:        "workspace_create",
		description: "Provision a Docker-backed workspace (named volume plus container).",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"workspace_id": {"type": "string"}
			},
			"required": ["workspace_id"]
		}`),
		run: func(ctx context.Context, st *state.ChatState, params map[string]interface{}) (*Result, error) {
			desc, err := mgr.Create(ctx, stringParam(params, "workspace_id"))
			if err != nil {
				return Fail("%s", err.Error()), nil
			}
			st.Workspace = desc
			return Ok(map[string]interface{}{"workspace": desc}), nil
		},
	})

	r.Register(&funcTool{
		name:        "workspace_exec",
		description: "Run a shell command inside the workspace container and capture its output.",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"workspace_id": {"type": "string"},
				"command":      {"type": "string"},
				"working_dir":  {"type": "string"},
				"env":          {"type": "object"}
			},
			"required": ["workspace_id", "command"]
		}`),
		run: func(ctx context.Context, st *state.ChatState, params map[string]interface{}) (*Result, error) {
			env := map[string]string{}
			if raw, ok := params["env"].(map[string]interface{}); ok {
				for k, v := range raw {
					if s, ok := v.(string); ok {
						env[k] = s
					}
				}
			}
			res, err := mgr.Exec(ctx, workspace.ExecRequest{
				WorkspaceID: stringParam(params, "workspace_id"),
				Command:     stringParam(params, "command"),
				WorkingDir:  stringParam(params, "working_dir"),
				Env:         env,
			})
			if err != nil {
				return Fail("%s", err.Error()), nil
			}
			return Ok(map[string]interface{}{"workspace_command": res}), nil
		},
	})

	r.Register(&funcTool{
		name:        "workspace_copy_to",
		description: "Copy a host file or directory into the workspace.",
		schema:      copySchema,
		run: func(ctx context.Context, st *state.ChatState, params map[string]interface{}) (*Result, error) {
			res, err := mgr.CopyTo(ctx,
				stringParam(params, "workspace_id"),
				stringParam(params, "source"),
				stringParam(params, "destination"))
			if err != nil {
				return Fail("%s", err.Error()), nil
			}
			return Ok(map[string]interface{}{"workspace_copy": res}), nil
		},
	})

	r.Register(&funcTool{
		name:        "workspace_copy_from",
		description: "Copy a file or directory out of the workspace to the host.",
		schema:      copySchema,
		run: func(ctx context.Context, st *state.ChatState, params map[string]interface{}) (*Result, error) {
			res, err := mgr.CopyFrom(ctx,
				stringParam(params, "workspace_id"),
				stringParam(params, "source"),
				stringParam(params, "destination"))
			if err != nil {
				return Fail("%s", err.Error()), nil
			}
			return Ok(map[string]interface{}{"workspace_copy": res}), nil
		},
	})

	r.Register(&funcTool{
		name:        "workspace_destroy",
		description: "Destroy the workspace container, optionally deleting its volume.",
		schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"workspace_id":  {"type": "string"},
				"delete_volume": {"type": "boolean"}
			},
			"required": ["workspace_id"]
		}`),
		run: func(ctx context.Context, st *state.ChatState, params map[string]interface{}) (*Result, error) {
			workspaceID := stringParam(params, "workspace_id")
			if err := mgr.Destroy(ctx, workspaceID, boolParam(params, "delete_volume")); err != nil {
				return Fail("%s", err.Error()), nil
			}
			if st.Workspace != nil && st.Workspace.WorkspaceID == workspaceID {
				st.Workspace = nil
			}
			return Ok(nil), nil
		},
	})
}

var copySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"workspace_id": {"type": "string"},
		"source":       {"type": "string"},
		"destination":  {"type": "string"}
	},
	"required": ["workspace_id", "source", "destination"]
}`)
