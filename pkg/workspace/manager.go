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

// Package workspace manages Docker-backed agent workspaces. Each
// workspace is a named volume mounted into a long-running container;
// lifecycle and execution events are published to the per-workspace
// integrity stream.
package workspace

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
	"github.com/teradata-labs/quench/pkg/config"
	"github.com/teradata-labs/quench/pkg/fabric"
)

const (
	// DefaultImage is the container image used when none is configured.
	DefaultImage = "python:3.12-slim"
	// DefaultMountPath is where the workspace volume is mounted.
	DefaultMountPath = "/workspace"

	resourcePrefix = "qc-ws-"
	stopTimeout    = 10 // seconds
)

// ErrNotFound reports an unknown workspace id.
var ErrNotFound = fmt.Errorf("workspace not found")

// DockerAPI is the slice of the Docker engine client the manager uses.
type DockerAPI interface {
	Ping(ctx context.Context) (dockertypes.Ping, error)
	VolumeCreate(ctx context.Context, options volume.CreateOptions) (volume.Volume, error)
	VolumeRemove(ctx context.Context, volumeID string, force bool) error
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (dockertypes.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (dockertypes.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error)
	Close() error
}

// Manager owns workspace lifecycle. All methods are safe for
// concurrent use.
type Manager struct {
	api    DockerAPI
	stream fabric.Stream
	cfg    config.WorkspaceConfig
	logger *zap.Logger

	mu         sync.Mutex
	workspaces map[string]*fabric.WorkspaceDescriptor
}

// NewManager creates a manager over an existing Docker API client.
// stream may be nil to disable integrity events.
func NewManager(api DockerAPI, stream fabric.Stream, cfg config.WorkspaceConfig) *Manager {
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.MountPath == "" {
		cfg.MountPath = DefaultMountPath
	}
	return &Manager{
		api:        api,
		stream:     stream,
		cfg:        cfg,
		logger:     log.With(zap.String("component", "workspace")),
		workspaces: make(map[string]*fabric.WorkspaceDescriptor),
	}
}

// Connect creates a manager against the local Docker daemon and
// verifies it is reachable.
func Connect(ctx context.Context, stream fabric.Stream, cfg config.WorkspaceConfig) (*Manager, error) {
	api, err := client.NewClientWithOpts(
		client.WithHost(detectDockerHost()),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if _, err := api.Ping(ctx); err != nil {
		_ = api.Close()
		return nil, fmt.Errorf("ping docker daemon: %w", err)
	}
	return NewManager(api, stream, cfg), nil
}

// detectDockerHost resolves the daemon endpoint: DOCKER_HOST first,
// then well-known socket paths.
func detectDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	for _, sock := range []string{
		"/var/run/docker.sock",
		os.Getenv("HOME") + "/.docker/run/docker.sock",
	} {
		if _, err := os.Stat(sock); err == nil {
			return "unix://" + sock
		}
	}
	return "unix:///var/run/docker.sock"
}

// Create provisions a workspace: a named volume mounted into a
// long-running container. Creating an id that already exists returns
// the existing descriptor, so replayed create tickets are harmless.
func (m *Manager) Create(ctx context.Context, workspaceID string) (*fabric.WorkspaceDescriptor, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspace_id is required")
	}

	m.mu.Lock()
	if desc, ok := m.workspaces[workspaceID]; ok {
		m.mu.Unlock()
		return desc, nil
	}
	m.mu.Unlock()

	name := resourcePrefix + workspaceID

	vol, err := m.api.VolumeCreate(ctx, volume.CreateOptions{Name: name})
	if err != nil {
		return nil, fmt.Errorf("create volume: %w", err)
	}

	resp, err := m.api.ContainerCreate(ctx,
		&container.Config{
			Image: m.cfg.Image,
			Cmd:   []string{"sleep", "infinity"},
			Labels: map[string]string{
				"quench.workspace_id": workspaceID,
			},
		},
		&container.HostConfig{
			Mounts: []mount.Mount{{
				Type:   mount.TypeVolume,
				Source: vol.Name,
				Target: m.cfg.MountPath,
			}},
		},
		nil, nil, name)
	if err != nil {
		_ = m.api.VolumeRemove(ctx, vol.Name, true)
		return nil, fmt.Errorf("create container: %w", err)
	}
	if err := m.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = m.api.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		_ = m.api.VolumeRemove(ctx, vol.Name, true)
		return nil, fmt.Errorf("start container: %w", err)
	}

	desc := &fabric.WorkspaceDescriptor{
		WorkspaceID: workspaceID,
		Volume:      vol.Name,
		Container:   resp.ID,
		MountPath:   m.cfg.MountPath,
		Image:       m.cfg.Image,
		CreatedAt:   time.Now().UTC(),
	}
	m.mu.Lock()
	m.workspaces[workspaceID] = desc
	m.mu.Unlock()

	m.logger.Info("workspace created",
		zap.String("workspace_id", workspaceID),
		zap.String("container", resp.ID),
		zap.String("image", m.cfg.Image))
	m.emitEvent(ctx, workspaceID, "workspace_created", map[string]string{
		"container": resp.ID,
		"volume":    vol.Name,
	})
	return desc, nil
}

// Get returns the descriptor for a tracked workspace.
func (m *Manager) Get(workspaceID string) (*fabric.WorkspaceDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	desc, ok := m.workspaces[workspaceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, workspaceID)
	}
	return desc, nil
}

// Destroy stops and removes the workspace container, optionally
// deleting the volume. Destroying an unknown id is an error; a
// container that already disappeared underneath us is not.
func (m *Manager) Destroy(ctx context.Context, workspaceID string, deleteVolume bool) error {
	desc, err := m.Get(workspaceID)
	if err != nil {
		return err
	}

	timeout := stopTimeout
	if err := m.api.ContainerStop(ctx, desc.Container, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
		m.logger.Warn("stop container failed, removing anyway",
			zap.String("workspace_id", workspaceID), zap.Error(err))
	}
	if err := m.api.ContainerRemove(ctx, desc.Container, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove container: %w", err)
	}
	if deleteVolume {
		if err := m.api.VolumeRemove(ctx, desc.Volume, true); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("remove volume: %w", err)
		}
	}

	m.mu.Lock()
	delete(m.workspaces, workspaceID)
	m.mu.Unlock()

	m.logger.Info("workspace destroyed",
		zap.String("workspace_id", workspaceID),
		zap.Bool("volume_deleted", deleteVolume))
	m.emitEvent(ctx, workspaceID, "workspace_destroyed", map[string]string{
		"volume_deleted": strconv.FormatBool(deleteVolume),
	})
	return nil
}

// Close releases the Docker client. Workspaces are left running.
func (m *Manager) Close() error {
	if m.api == nil {
		return nil
	}
	return m.api.Close()
}

func (m *Manager) emitEvent(ctx context.Context, workspaceID, event string, detail map[string]string) {
	if m.stream == nil {
		return
	}
	fields := map[string]string{
		"event":        event,
		"workspace_id": workspaceID,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range detail {
		fields[k] = v
	}
	if _, err := m.stream.Append(ctx, fabric.WorkspaceEventsStream(workspaceID), fields); err != nil {
		m.logger.Warn("workspace event append failed",
			zap.String("workspace_id", workspaceID),
			zap.String("event", event),
			zap.Error(err))
	}
}
