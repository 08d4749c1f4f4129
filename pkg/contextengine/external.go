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
package contextengine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// ExternalStore persists evicted segment content to durable storage.
// Payloads are gzip-compressed on disk; references are opaque ids the
// chat state carries in its external memory index.
type ExternalStore struct {
	root    string
	enabled bool
}

// NewExternalStore creates a store rooted at path. When write is
// disabled, Write returns references without touching disk so callers
// keep a uniform flow.
func NewExternalStore(root string, writeEnabled bool) *ExternalStore {
	return &ExternalStore{root: root, enabled: writeEnabled}
}

// Write persists content and returns a reference id and the on-disk
// path the id resolves to.
func (e *ExternalStore) Write(chatID, content string) (refID, path string, err error) {
	refID = "ext-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	path = filepath.Join(e.root, chatID, refID+".gz")
	if !e.enabled {
		return refID, path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", "", fmt.Errorf("create external memory dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("create external memory file: %w", err)
	}
	defer f.Close()
	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte(content)); err != nil {
		return "", "", fmt.Errorf("write external memory %s: %w", refID, err)
	}
	if err := zw.Close(); err != nil {
		return "", "", fmt.Errorf("flush external memory %s: %w", refID, err)
	}
	return refID, path, nil
}

// Read restores previously externalized content by path.
func (e *ExternalStore) Read(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open external memory %s: %w", path, err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("decompress external memory %s: %w", path, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("read external memory %s: %w", path, err)
	}
	return string(raw), nil
}
