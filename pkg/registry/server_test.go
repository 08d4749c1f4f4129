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
package registry

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()
	reg, err := NewRegistry(filepath.Join(t.TempDir(), "registry.db"), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	srv := httptest.NewServer(NewServer(reg).Handler())
	t.Cleanup(srv.Close)
	return srv, NewClient(srv.URL)
}

func TestServerHealth(t *testing.T) {
	_, client := newTestServer(t)
	require.NoError(t, client.Health(context.Background()))
}

func TestServerRegisterAndGet(t *testing.T) {
	ctx := context.Background()
	_, client := newTestServer(t)

	rec, err := client.Register(ctx, RegisterRequest{
		AgentID: "agent-f00dcafe", Host: "127.0.0.1", Port: 7100,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, rec.Status)

	got, err := client.Get(ctx, "agent-f00dcafe")
	require.NoError(t, err)
	assert.Equal(t, 7100, got.Port)

	_, err = client.Get(ctx, "agent-deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServerHeartbeat(t *testing.T) {
	ctx := context.Background()
	_, client := newTestServer(t)

	_, err := client.Register(ctx, RegisterRequest{AgentID: "agent-12abcdef", Host: "h", Port: 1})
	require.NoError(t, err)

	rec, err := client.Heartbeat(ctx, "agent-12abcdef", HeartbeatRequest{Status: StatusHealthy})
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, rec.Status)

	_, err = client.Heartbeat(ctx, "agent-00000000", HeartbeatRequest{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServerHotpathLifecycle(t *testing.T) {
	ctx := context.Background()
	_, client := newTestServer(t)

	_, err := client.Register(ctx, RegisterRequest{AgentID: "agent-0000a1fa", Host: "h", Port: 1, Hotpath: true})
	require.NoError(t, err)

	err = client.Remove(ctx, "agent-0000a1fa", false)
	assert.ErrorIs(t, err, ErrHotpathAgent)

	require.NoError(t, client.Remove(ctx, "agent-0000a1fa", true))

	_, err = client.Register(ctx, RegisterRequest{AgentID: "agent-0000a1fa", Host: "h", Port: 1})
	require.NoError(t, err)
	_, err = client.Register(ctx, RegisterRequest{AgentID: "agent-0000b2fb", Host: "h", Port: 2, Hotpath: true})
	require.NoError(t, err)

	hotpath, err := client.List(ctx, ListOptions{HotpathOnly: true})
	require.NoError(t, err)
	require.Len(t, hotpath, 1)
	assert.Equal(t, "agent-0000b2fb", hotpath[0].AgentID)
}

func TestServerStats(t *testing.T) {
	ctx := context.Background()
	_, client := newTestServer(t)

	_, err := client.Register(ctx, RegisterRequest{AgentID: "agent-aaaa1111", Host: "h", Port: 1})
	require.NoError(t, err)

	st, err := client.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalAgents)
	assert.Equal(t, 1, st.HealthyAgents)
}

func TestClientRegisterWithRetryGivesUp(t *testing.T) {
	client := NewClient("http://127.0.0.1:1") // nothing listens here
	_, err := client.RegisterWithRetry(context.Background(),
		RegisterRequest{AgentID: "agent-ffff0000", Host: "h", Port: 1},
		300*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startup timeout")
}
