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

// Package registry implements the authoritative agent liveness store.
// Records live in a single-writer sqlite table with row-level UPSERT
// semantics; the hotpath column is sticky up and protects critical
// workers from removal without an explicit force flag.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Agent statuses.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Registry errors.
var (
	// ErrNotFound means no record exists for the agent id.
	ErrNotFound = errors.New("agent not found")

	// ErrHotpathAgent means the record is hotpath-protected and the
	// caller did not pass force.
	ErrHotpathAgent = errors.New("hotpath_agent")
)

// AgentRecord is one row of the agents table.
type AgentRecord struct {
	AgentID       string    `json:"agent_id"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	Status        string    `json:"status"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Hotpath       bool      `json:"hotpath"`
}

// EffectivelyHealthy reports whether the record counts as healthy at
// the given instant: reported healthy and heartbeat within timeout.
func (a *AgentRecord) EffectivelyHealthy(now time.Time, timeout time.Duration) bool {
	return a.Status == StatusHealthy && now.Sub(a.LastHeartbeat) <= timeout
}

// Stats is a point-in-time snapshot of fleet health.
type Stats struct {
	TotalAgents     int       `json:"total_agents"`
	HealthyAgents   int       `json:"healthy_agents"`
	UnhealthyAgents int       `json:"unhealthy_agents"`
	LastUpdated     time.Time `json:"last_updated"`
}

// ListOptions filters List results.
type ListOptions struct {
	HealthyOnly bool
	HotpathOnly bool
}

// Registry is the sqlite-backed agent registry.
type Registry struct {
	db           *sql.DB
	agentTimeout time.Duration
}

// NewRegistry opens (or creates) the registry database and applies the
// schema, including the additive hotpath migration.
func NewRegistry(dbPath string, agentTimeout time.Duration) (*Registry, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	r := &Registry{db: db, agentTimeout: agentTimeout}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init registry schema: %w", err)
	}
	return r, nil
}

func (r *Registry) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		agent_id TEXT PRIMARY KEY,
		host TEXT NOT NULL,
		port INTEGER NOT NULL,
		status TEXT NOT NULL,
		registered_at INTEGER NOT NULL,
		last_heartbeat INTEGER NOT NULL
	);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return err
	}
	return r.migrateHotpath()
}

// migrateHotpath adds the hotpath column to pre-existing tables. The
// migration is additive and idempotent.
func (r *Registry) migrateHotpath() error {
	rows, err := r.db.Query("PRAGMA table_info(agents)")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		if name == "hotpath" {
			return rows.Err()
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = r.db.Exec("ALTER TABLE agents ADD COLUMN hotpath INTEGER NOT NULL DEFAULT 0")
	return err
}

// AgentTimeout returns the configured heartbeat staleness bound.
func (r *Registry) AgentTimeout() time.Duration {
	return r.agentTimeout
}

// Register registers or refreshes an agent. Registration is idempotent
// on agent id: host and port are refreshed, status resets to healthy
// and both timestamps update. The hotpath flag is sticky up: once set,
// re-registration cannot clear it.
func (r *Registry) Register(ctx context.Context, agentID, host string, port int, hotpath bool) (*AgentRecord, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agents (agent_id, host, port, status, registered_at, last_heartbeat, hotpath)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			host = excluded.host,
			port = excluded.port,
			status = excluded.status,
			registered_at = excluded.registered_at,
			last_heartbeat = excluded.last_heartbeat,
			hotpath = MAX(agents.hotpath, excluded.hotpath)`,
		agentID, host, port, StatusHealthy, now.Unix(), now.Unix(), boolToInt(hotpath))
	if err != nil {
		return nil, fmt.Errorf("register agent %s: %w", agentID, err)
	}
	return r.Get(ctx, agentID)
}

// Heartbeat refreshes an agent's liveness. The stored heartbeat never
// moves backward.
func (r *Registry) Heartbeat(ctx context.Context, agentID, status string, reportedAt time.Time) (*AgentRecord, error) {
	if status == "" {
		status = StatusHealthy
	}
	if reportedAt.IsZero() {
		reportedAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE agents SET status = ?, last_heartbeat = MAX(last_heartbeat, ?) WHERE agent_id = ?`,
		status, reportedAt.Unix(), agentID)
	if err != nil {
		return nil, fmt.Errorf("heartbeat %s: %w", agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, agentID)
}

// Get returns the record for an agent id.
func (r *Registry) Get(ctx context.Context, agentID string) (*AgentRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT agent_id, host, port, status, registered_at, last_heartbeat, hotpath
		FROM agents WHERE agent_id = ?`, agentID)
	rec, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// List returns records matching the options. Effective health is
// recomputed at request time from the stored heartbeat.
func (r *Registry) List(ctx context.Context, opts ListOptions) ([]*AgentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT agent_id, host, port, status, registered_at, last_heartbeat, hotpath
		FROM agents ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	out := make([]*AgentRecord, 0)
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		if opts.HealthyOnly && !rec.EffectivelyHealthy(now, r.agentTimeout) {
			continue
		}
		if opts.HotpathOnly && !rec.Hotpath {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Remove deletes an agent record. Hotpath records require force.
func (r *Registry) Remove(ctx context.Context, agentID string, force bool) error {
	rec, err := r.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if rec.Hotpath && !force {
		return ErrHotpathAgent
	}
	_, err = r.db.ExecContext(ctx, "DELETE FROM agents WHERE agent_id = ?", agentID)
	if err != nil {
		return fmt.Errorf("remove agent %s: %w", agentID, err)
	}
	return nil
}

// SetHotpath updates the hotpath flag directly. Unlike registration
// this path may clear the flag: it is the explicit admin override.
func (r *Registry) SetHotpath(ctx context.Context, agentID string, hotpath bool) (*AgentRecord, error) {
	res, err := r.db.ExecContext(ctx, "UPDATE agents SET hotpath = ? WHERE agent_id = ?", boolToInt(hotpath), agentID)
	if err != nil {
		return nil, fmt.Errorf("set hotpath %s: %w", agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, agentID)
}

// Stats returns a snapshot of fleet health using effective health.
func (r *Registry) Stats(ctx context.Context) (*Stats, error) {
	records, err := r.List(ctx, ListOptions{})
	if err != nil {
		return nil, err
	}
	now := time.Now()
	st := &Stats{TotalAgents: len(records), LastUpdated: now}
	for _, rec := range records {
		if rec.EffectivelyHealthy(now, r.agentTimeout) {
			st.HealthyAgents++
		} else {
			st.UnhealthyAgents++
		}
	}
	return st, nil
}

// SweepStale flips records whose heartbeat exceeded the agent timeout
// to unhealthy and returns the number of rows changed. Listing already
// recomputes effective health; the sweep keeps stored status and stats
// honest for dashboards.
func (r *Registry) SweepStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-r.agentTimeout).Unix()
	res, err := r.db.ExecContext(ctx, `
		UPDATE agents SET status = ? WHERE status = ? AND last_heartbeat < ?`,
		StatusUnhealthy, StatusHealthy, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep stale agents: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*AgentRecord, error) {
	var rec AgentRecord
	var registeredAt, lastHeartbeat int64
	var hotpath int
	if err := row.Scan(&rec.AgentID, &rec.Host, &rec.Port, &rec.Status, &registeredAt, &lastHeartbeat, &hotpath); err != nil {
		return nil, err
	}
	rec.RegisteredAt = time.Unix(registeredAt, 0)
	rec.LastHeartbeat = time.Unix(lastHeartbeat, 0)
	rec.Hotpath = hotpath != 0
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
