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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/quench/pkg/fabric"
	"github.com/teradata-labs/quench/pkg/state"
	"github.com/teradata-labs/quench/pkg/workspace"
)

// fakeWorkspaces implements WorkspaceManager in memory.
type fakeWorkspaces struct {
	created   map[string]*fabric.WorkspaceDescriptor
	destroyed []string
	execErr   error
}

func newFakeWorkspaces() *fakeWorkspaces {
	return &fakeWorkspaces{created: make(map[string]*fabric.WorkspaceDescriptor)}
}

func (f *fakeWorkspaces) Create(ctx context.Context, id string) (*fabric.WorkspaceDescriptor, error) {
	if desc, ok := f.created[id]; ok {
		return desc, nil
	}
	desc := &fabric.WorkspaceDescriptor{
		WorkspaceID: id, Volume: "qc-ws-" + id, Container: "ctr-" + id,
		MountPath: "/workspace", Image: "python:3.12-slim", CreatedAt: time.Now(),
	}
	f.created[id] = desc
	return desc, nil
}

func (f *fakeWorkspaces) Exec(ctx context.Context, req workspace.ExecRequest) (*workspace.CommandResult, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	if _, ok := f.created[req.WorkspaceID]; !ok {
		return nil, fmt.Errorf("workspace not found: %s", req.WorkspaceID)
	}
	return &workspace.CommandResult{Stdout: "150\n", ReturnCode: 0, DurationSeconds: 0.01}, nil
}

func (f *fakeWorkspaces) CopyTo(ctx context.Context, id, src, dst string) (*workspace.CopyResult, error) {
	return &workspace.CopyResult{BytesTransferred: 64}, nil
}

func (f *fakeWorkspaces) CopyFrom(ctx context.Context, id, src, dst string) (*workspace.CopyResult, error) {
	return &workspace.CopyResult{BytesTransferred: 128}, nil
}

func (f *fakeWorkspaces) Destroy(ctx context.Context, id string, deleteVolume bool) error {
	if _, ok := f.created[id]; !ok {
		return fmt.Errorf("workspace not found: %s", id)
	}
	delete(f.created, id)
	f.destroyed = append(f.destroyed, id)
	return nil
}

func TestWorkspaceCreateToolStampsState(t *testing.T) {
	r := NewRegistry()
	RegisterWorkspaceTools(r, newFakeWorkspaces())
	st := state.NewChatState("c1")

	res := mustExecute(t, r, st, "workspace_create", map[string]interface{}{
		"workspace_id": "ws-1",
	})
	require.True(t, res.Success)
	require.NotNil(t, st.Workspace)
	assert.Equal(t, "ws-1", st.Workspace.WorkspaceID)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(res.Payload()), &decoded))
	ws := decoded["workspace"].(map[string]interface{})
	assert.Equal(t, "ws-1", ws["workspace_id"])
	assert.Equal(t, "/workspace", ws["mount_path"])
}

func TestWorkspaceExecToolPayloadShape(t *testing.T) {
	r := NewRegistry()
	RegisterWorkspaceTools(r, newFakeWorkspaces())
	st := state.NewChatState("c1")

	mustExecute(t, r, st, "workspace_create", map[string]interface{}{"workspace_id": "ws-1"})
	res := mustExecute(t, r, st, "workspace_exec", map[string]interface{}{
		"workspace_id": "ws-1", "command": "python -c 'print(50*3)'",
	})
	require.True(t, res.Success)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(res.Payload()), &decoded))
	cmd := decoded["workspace_command"].(map[string]interface{})
	assert.Equal(t, "150\n", cmd["stdout"])
	assert.Equal(t, float64(0), cmd["returncode"])
}

func TestWorkspaceExecFailureShape(t *testing.T) {
	mgr := newFakeWorkspaces()
	mgr.execErr = fmt.Errorf("container gone")
	r := NewRegistry()
	RegisterWorkspaceTools(r, mgr)
	st := state.NewChatState("c1")

	res := mustExecute(t, r, st, "workspace_exec", map[string]interface{}{
		"workspace_id": "ws-1", "command": "ls",
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Payload(), "container gone")
}

func TestWorkspaceCopyAndDestroyTools(t *testing.T) {
	r := NewRegistry()
	mgr := newFakeWorkspaces()
	RegisterWorkspaceTools(r, mgr)
	st := state.NewChatState("c1")

	mustExecute(t, r, st, "workspace_create", map[string]interface{}{"workspace_id": "ws-1"})

	res := mustExecute(t, r, st, "workspace_copy_to", map[string]interface{}{
		"workspace_id": "ws-1", "source": "/tmp/a", "destination": "/workspace",
	})
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(res.Payload()), &decoded))
	copied := decoded["workspace_copy"].(map[string]interface{})
	assert.Equal(t, float64(64), copied["bytes_transferred"])

	res = mustExecute(t, r, st, "workspace_destroy", map[string]interface{}{
		"workspace_id": "ws-1", "delete_volume": true,
	})
	require.True(t, res.Success)
	assert.Nil(t, st.Workspace)
	assert.Equal(t, []string{"ws-1"}, mgr.destroyed)
}
