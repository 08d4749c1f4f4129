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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(filepath.Join(t.TempDir(), "registry.db"), 60*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRegisterIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	first, err := r.Register(ctx, "agent-aabbccdd", "10.0.0.1", 7001, false)
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, first.Status)

	second, err := r.Register(ctx, "agent-aabbccdd", "10.0.0.2", 7002, false)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", second.Host)
	assert.Equal(t, 7002, second.Port)

	records, err := r.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestHotpathStickyAcrossReregistration(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	_, err := r.Register(ctx, "agent-11112222", "h", 1, true)
	require.NoError(t, err)

	rec, err := r.Register(ctx, "agent-11112222", "h", 1, false)
	require.NoError(t, err)
	assert.True(t, rec.Hotpath, "re-registration without the flag must not clear hotpath")
}

func TestHeartbeatMonotonic(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	_, err := r.Register(ctx, "agent-33334444", "h", 1, false)
	require.NoError(t, err)

	later := time.Now().Add(10 * time.Second)
	rec, err := r.Heartbeat(ctx, "agent-33334444", StatusHealthy, later)
	require.NoError(t, err)
	require.Equal(t, later.Unix(), rec.LastHeartbeat.Unix())

	// An out-of-order report must not move the heartbeat backward.
	earlier := later.Add(-30 * time.Second)
	rec, err = r.Heartbeat(ctx, "agent-33334444", StatusHealthy, earlier)
	require.NoError(t, err)
	assert.Equal(t, later.Unix(), rec.LastHeartbeat.Unix())
}

func TestHeartbeatUnknownAgent(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Heartbeat(context.Background(), "agent-99999999", StatusHealthy, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEffectiveHealthFromStaleHeartbeat(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	_, err := r.Register(ctx, "agent-55556666", "h", 1, false)
	require.NoError(t, err)
	stale := time.Now().Add(-5 * time.Minute)
	_, err = r.db.ExecContext(ctx, "UPDATE agents SET last_heartbeat = ? WHERE agent_id = ?",
		stale.Unix(), "agent-55556666")
	require.NoError(t, err)

	healthy, err := r.List(ctx, ListOptions{HealthyOnly: true})
	require.NoError(t, err)
	assert.Empty(t, healthy, "stale heartbeat must exclude the agent from healthy listings")

	all, err := r.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestHotpathRemovalGuard(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	// A hotpath worker survives a plain removal attempt and stays
	// hotpath through a later re-registration.
	_, err := r.Register(ctx, "agent-0000a1fa", "h", 1, true)
	require.NoError(t, err)

	err = r.Remove(ctx, "agent-0000a1fa", false)
	assert.ErrorIs(t, err, ErrHotpathAgent)
	_, err = r.Get(ctx, "agent-0000a1fa")
	require.NoError(t, err)

	require.NoError(t, r.Remove(ctx, "agent-0000a1fa", true))
	_, err = r.Get(ctx, "agent-0000a1fa")
	assert.ErrorIs(t, err, ErrNotFound)

	rec, err := r.Register(ctx, "agent-0000a1fa", "h", 1, false)
	require.NoError(t, err)
	assert.False(t, rec.Hotpath, "fresh registration after forced removal starts clean")

	_, err = r.Register(ctx, "agent-0000b2fb", "h", 2, true)
	require.NoError(t, err)

	hotpath, err := r.List(ctx, ListOptions{HotpathOnly: true})
	require.NoError(t, err)
	require.Len(t, hotpath, 1)
	assert.Equal(t, "agent-0000b2fb", hotpath[0].AgentID)
}

func TestSetHotpathOverrideClears(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	_, err := r.Register(ctx, "agent-77778888", "h", 1, true)
	require.NoError(t, err)

	rec, err := r.SetHotpath(ctx, "agent-77778888", false)
	require.NoError(t, err)
	assert.False(t, rec.Hotpath)

	require.NoError(t, r.Remove(ctx, "agent-77778888", false))
}

func TestStatsCountsEffectiveHealth(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	_, err := r.Register(ctx, "agent-aaaa0001", "h", 1, false)
	require.NoError(t, err)
	_, err = r.Register(ctx, "agent-aaaa0002", "h", 2, false)
	require.NoError(t, err)
	_, err = r.db.ExecContext(ctx, "UPDATE agents SET last_heartbeat = ? WHERE agent_id = ?",
		time.Now().Add(-10*time.Minute).Unix(), "agent-aaaa0002")
	require.NoError(t, err)

	st, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalAgents)
	assert.Equal(t, 1, st.HealthyAgents)
	assert.Equal(t, 1, st.UnhealthyAgents)
}

func TestSweepStale(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)

	_, err := r.Register(ctx, "agent-bbbb0001", "h", 1, false)
	require.NoError(t, err)
	_, err = r.db.ExecContext(ctx, "UPDATE agents SET last_heartbeat = ? WHERE agent_id = ?",
		time.Now().Add(-10*time.Minute).Unix(), "agent-bbbb0001")
	require.NoError(t, err)

	n, err := r.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err := r.Get(ctx, "agent-bbbb0001")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, rec.Status)

	// Sweeping again is a no-op.
	n, err = r.SweepStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHotpathMigrationIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.db")

	r1, err := NewRegistry(path, time.Minute)
	require.NoError(t, err)
	_, err = r1.Register(context.Background(), "agent-cccc0001", "h", 1, true)
	require.NoError(t, err)
	require.NoError(t, r1.Close())

	r2, err := NewRegistry(path, time.Minute)
	require.NoError(t, err)
	defer r2.Close()
	rec, err := r2.Get(context.Background(), "agent-cccc0001")
	require.NoError(t, err)
	assert.True(t, rec.Hotpath)
}
