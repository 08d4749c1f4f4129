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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
)

// Client is the HTTP client used by runtime processes to talk to the
// registry. Transient transport failures retry with exponential
// backoff and never kill the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a registry client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     log.With(zap.String("component", "registry_client")),
	}
}

// RegisterWithRetry registers the agent, retrying with exponential
// backoff until success or the startup timeout elapses.
func (c *Client) RegisterWithRetry(ctx context.Context, req RegisterRequest, startupTimeout time.Duration) (*AgentRecord, error) {
	deadline := time.Now().Add(startupTimeout)
	backoff := 250 * time.Millisecond
	for {
		rec, err := c.Register(ctx, req)
		if err == nil {
			return rec, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("registry unreachable past startup timeout: %w", err)
		}
		c.logger.Warn("registration failed, retrying",
			zap.String("agent_id", req.AgentID),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 5*time.Second {
			backoff = 5 * time.Second
		}
	}
}

// Register performs a single registration call.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AgentRecord, error) {
	var rec AgentRecord
	if err := c.do(ctx, http.MethodPost, "/agents/register", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Heartbeat reports liveness for an agent.
func (c *Client) Heartbeat(ctx context.Context, agentID string, req HeartbeatRequest) (*AgentRecord, error) {
	var rec AgentRecord
	path := fmt.Sprintf("/agents/%s/heartbeat", url.PathEscape(agentID))
	if err := c.do(ctx, http.MethodPost, path, req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListResponse is the GET /agents body.
type ListResponse struct {
	Agents      []*AgentRecord `json:"agents"`
	HealthyOnly bool           `json:"healthy_only"`
	HotpathOnly bool           `json:"hotpath_only"`
}

// List fetches agent records.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]*AgentRecord, error) {
	q := url.Values{}
	if opts.HealthyOnly {
		q.Set("healthy_only", "true")
	}
	if opts.HotpathOnly {
		q.Set("hotpath_only", "true")
	}
	path := "/agents"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var resp ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// Get fetches one agent record.
func (c *Client) Get(ctx context.Context, agentID string) (*AgentRecord, error) {
	var rec AgentRecord
	if err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(agentID), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Remove deletes an agent record.
func (c *Client) Remove(ctx context.Context, agentID string, force bool) error {
	path := "/agents/" + url.PathEscape(agentID)
	if force {
		path += "?force=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// GetStats fetches the fleet snapshot.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Health checks the registry endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// apiError is the error body shape produced by the server.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var ae apiError
		_ = json.NewDecoder(resp.Body).Decode(&ae)
		switch ae.Error {
		case "not_found":
			return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
		case "hotpath_agent":
			return fmt.Errorf("%s %s: %w", method, path, ErrHotpathAgent)
		}
		return fmt.Errorf("%s %s: status %d (%s)", method, path, resp.StatusCode, ae.Message)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
