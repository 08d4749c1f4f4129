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
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/teradata-labs/quench/pkg/state"
)

// MemoryStore implements Store with in-memory storage. State still
// round-trips through JSON so tests exercise the same serialization as
// the SQLite store.
type MemoryStore struct {
	mu      sync.RWMutex
	chats   map[string][]byte
	cursors map[string]string
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:   make(map[string][]byte),
		cursors: make(map[string]string),
	}
}

// SaveChat implements Store.SaveChat.
func (m *MemoryStore) SaveChat(ctx context.Context, st *state.ChatState) error {
	if st == nil || st.ChatID == "" {
		return fmt.Errorf("chat state requires a chat id")
	}
	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode chat state %s: %w", st.ChatID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[st.ChatID] = blob
	return nil
}

// LoadChat implements Store.LoadChat.
func (m *MemoryStore) LoadChat(ctx context.Context, chatID string) (*state.ChatState, error) {
	m.mu.RLock()
	blob, ok := m.chats[chatID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var st state.ChatState
	if err := json.Unmarshal(blob, &st); err != nil {
		return nil, fmt.Errorf("decode chat state %s: %w", chatID, err)
	}
	if st.ExternalMemoryIndex == nil {
		st.ExternalMemoryIndex = make(map[string]string)
	}
	if st.ProcessedTickets == nil {
		st.ProcessedTickets = make(map[string]bool)
	}
	return &st, nil
}

// SaveCursor implements Store.SaveCursor.
func (m *MemoryStore) SaveCursor(ctx context.Context, processID, mailbox, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[processID+"\x00"+mailbox] = entryID
	return nil
}

// LoadCursor implements Store.LoadCursor.
func (m *MemoryStore) LoadCursor(ctx context.Context, processID, mailbox string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursors[processID+"\x00"+mailbox], nil
}

// Close implements Store.Close.
func (m *MemoryStore) Close() error {
	return nil
}
