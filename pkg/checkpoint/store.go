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

// Package checkpoint persists chat state between graph invocations and
// across process restarts. State is written as a full JSON blob keyed
// by chat id with last-writer-wins semantics; the single-writer
// convention (one process per chat id) makes that safe. Mailbox read
// cursors are stored alongside so a restarted process re-tails from
// its last acknowledged entry.
package checkpoint

import (
	"context"

	"github.com/teradata-labs/quench/pkg/state"
)

// Store is the checkpoint contract. Implementations must be safe for
// concurrent use by multiple goroutines.
type Store interface {
	// SaveChat writes the full chat state blob.
	SaveChat(ctx context.Context, st *state.ChatState) error

	// LoadChat returns the chat state for a chat id, or nil if the
	// chat has never been checkpointed.
	LoadChat(ctx context.Context, chatID string) (*state.ChatState, error)

	// SaveCursor records the last acknowledged entry id for a
	// process's mailbox.
	SaveCursor(ctx context.Context, processID, mailbox, entryID string) error

	// LoadCursor returns the stored cursor, or the empty string.
	LoadCursor(ctx context.Context, processID, mailbox string) (string, error)

	// Close releases store resources.
	Close() error
}
