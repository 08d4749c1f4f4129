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
package workspace

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// ExecRequest describes one command execution inside a workspace.
type ExecRequest struct {
	WorkspaceID string
	Command     string
	WorkingDir  string
	Env         map[string]string
}

// CommandResult is the structured outcome of an execution.
type CommandResult struct {
	Stdout          string    `json:"stdout"`
	Stderr          string    `json:"stderr"`
	ReturnCode      int       `json:"returncode"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// CopyResult reports a completed copy operation.
type CopyResult struct {
	BytesTransferred int64 `json:"bytes_transferred"`
}

// Exec runs a shell command in the workspace container and captures
// its demultiplexed output. A non-zero exit code is not an error; it
// is reported in the result.
func (m *Manager) Exec(ctx context.Context, req ExecRequest) (*CommandResult, error) {
	desc, err := m.Get(req.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Command) == "" {
		return nil, fmt.Errorf("command is empty")
	}

	workingDir := req.WorkingDir
	if workingDir == "" {
		workingDir = desc.MountPath
	}
	var envVars []string
	for key, value := range req.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", key, value))
	}

	startedAt := time.Now().UTC()
	execID, err := m.api.ContainerExecCreate(ctx, desc.Container, container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", req.Command},
		Env:          envVars,
		WorkingDir:   workingDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create exec: %w", err)
	}

	attachResp, err := m.api.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("attach exec: %w", err)
	}
	defer attachResp.Close()

	var stdoutBuf, stderrBuf strings.Builder
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, attachResp.Reader); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read exec output: %w", err)
	}

	inspect, err := m.api.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect exec: %w", err)
	}
	finishedAt := time.Now().UTC()

	result := &CommandResult{
		Stdout:          stdoutBuf.String(),
		Stderr:          stderrBuf.String(),
		ReturnCode:      inspect.ExitCode,
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
		DurationSeconds: finishedAt.Sub(startedAt).Seconds(),
	}

	m.logger.Debug("workspace exec completed",
		zap.String("workspace_id", req.WorkspaceID),
		zap.Int("returncode", result.ReturnCode),
		zap.Float64("duration_seconds", result.DurationSeconds))
	m.emitEvent(ctx, req.WorkspaceID, "workspace_exec", map[string]string{
		"returncode": strconv.Itoa(result.ReturnCode),
		"command":    req.Command,
	})
	return result, nil
}

// CopyTo copies a host file or directory into the workspace.
func (m *Manager) CopyTo(ctx context.Context, workspaceID, source, destination string) (*CopyResult, error) {
	desc, err := m.Get(workspaceID)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	counted := &countingWriter{w: pw}
	go func() {
		pw.CloseWithError(tarPath(source, counted))
	}()

	if err := m.api.CopyToContainer(ctx, desc.Container, destination, pr, container.CopyToContainerOptions{}); err != nil {
		return nil, fmt.Errorf("copy to container: %w", err)
	}

	m.emitEvent(ctx, workspaceID, "workspace_copy_to", map[string]string{
		"source":      source,
		"destination": destination,
	})
	return &CopyResult{BytesTransferred: counted.n}, nil
}

// CopyFrom copies a file or directory out of the workspace to a host
// path.
func (m *Manager) CopyFrom(ctx context.Context, workspaceID, source, destination string) (*CopyResult, error) {
	desc, err := m.Get(workspaceID)
	if err != nil {
		return nil, err
	}

	reader, _, err := m.api.CopyFromContainer(ctx, desc.Container, source)
	if err != nil {
		return nil, fmt.Errorf("copy from container: %w", err)
	}
	defer reader.Close()

	n, err := untar(reader, destination)
	if err != nil {
		return nil, fmt.Errorf("unpack archive: %w", err)
	}

	m.emitEvent(ctx, workspaceID, "workspace_copy_from", map[string]string{
		"source":      source,
		"destination": destination,
	})
	return &CopyResult{BytesTransferred: n}, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// tarPath writes path (file or directory) as a tar stream. Entry names
// are relative to the parent of path, matching the archive shape the
// Docker copy API expects.
func tarPath(path string, w io.Writer) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(w)
	base := filepath.Dir(path)

	addFile := func(p string, fi os.FileInfo) error {
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	}

	if info.IsDir() {
		err = filepath.Walk(path, func(p string, fi os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if !fi.Mode().IsRegular() && !fi.IsDir() {
				return nil
			}
			return addFile(p, fi)
		})
	} else {
		err = addFile(path, info)
	}
	if err != nil {
		return err
	}
	return tw.Close()
}

// untar extracts a tar stream under destination and returns the total
// file bytes written. Entries escaping the destination are rejected.
func untar(r io.Reader, destination string) (int64, error) {
	tr := tar.NewReader(r)
	var total int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}

		target := filepath.Join(destination, hdr.Name)
		if !strings.HasPrefix(target, filepath.Clean(destination)+string(os.PathSeparator)) &&
			target != filepath.Clean(destination) {
			return total, fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return total, err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return total, err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return total, err
			}
			n, err := io.Copy(f, tr)
			_ = f.Close()
			total += n
			if err != nil {
				return total, err
			}
		}
	}
}
