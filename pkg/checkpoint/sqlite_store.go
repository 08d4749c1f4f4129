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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teradata-labs/quench/pkg/state"
)

// SQLiteStore implements Store with SQLite persistence.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the checkpoint database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}

	// WAL mode for better concurrency between the chat workers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init checkpoint schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_states (
		chat_id TEXT PRIMARY KEY,
		state BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mailbox_cursors (
		process_id TEXT NOT NULL,
		mailbox TEXT NOT NULL,
		entry_id TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (process_id, mailbox)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveChat implements Store.SaveChat.
func (s *SQLiteStore) SaveChat(ctx context.Context, st *state.ChatState) error {
	if st == nil || st.ChatID == "" {
		return fmt.Errorf("chat state requires a chat id")
	}
	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode chat state %s: %w", st.ChatID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_states (chat_id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		st.ChatID, blob, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save chat state %s: %w", st.ChatID, err)
	}
	return nil
}

// LoadChat implements Store.LoadChat.
func (s *SQLiteStore) LoadChat(ctx context.Context, chatID string) (*state.ChatState, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, "SELECT state FROM chat_states WHERE chat_id = ?", chatID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load chat state %s: %w", chatID, err)
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
func (s *SQLiteStore) SaveCursor(ctx context.Context, processID, mailbox, entryID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mailbox_cursors (process_id, mailbox, entry_id, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(process_id, mailbox) DO UPDATE SET entry_id = excluded.entry_id, updated_at = excluded.updated_at`,
		processID, mailbox, entryID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save cursor %s/%s: %w", processID, mailbox, err)
	}
	return nil
}

// LoadCursor implements Store.LoadCursor.
func (s *SQLiteStore) LoadCursor(ctx context.Context, processID, mailbox string) (string, error) {
	var entryID string
	err := s.db.QueryRowContext(ctx, "SELECT entry_id FROM mailbox_cursors WHERE process_id = ? AND mailbox = ?", processID, mailbox).Scan(&entryID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load cursor %s/%s: %w", processID, mailbox, err)
	}
	return entryID, nil
}

// Close implements Store.Close.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
