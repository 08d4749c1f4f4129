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

// Package fabric implements the durable message-stream fabric that
// connects the orchestrator, worker agents, the supervisor and the
// human. Each recipient owns an append-only, totally-ordered mailbox
// stream; readers track a cursor id and tail with blocking reads.
package fabric

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known recipients.
const (
	RecipientOrchestrator = "orchestrator"
	RecipientHuman        = "human"
	RecipientSupervisor   = "supervisor"
)

// MailboxPrefix namespaces all mailbox streams.
const MailboxPrefix = "qc:mailbox/"

// Dedicated event streams.
const (
	ContextMetricsStream   = "qc:context:metrics"
	AutonomousEventsStream = "qc:autonomous:events"
)

var agentIDPattern = regexp.MustCompile(`^agent-[0-9a-f]{8}$`)

// Mailbox returns the stream name for a recipient's mailbox.
func Mailbox(recipient string) string {
	return MailboxPrefix + recipient
}

// RecipientFromMailbox is the inverse of Mailbox. It returns the empty
// string for names outside the mailbox namespace.
func RecipientFromMailbox(name string) string {
	return strings.TrimPrefix(name, MailboxPrefix)
}

// WorkspaceEventsStream returns the integrity event stream for a workspace.
func WorkspaceEventsStream(workspaceID string) string {
	return fmt.Sprintf("qc:workspace:%s:events", workspaceID)
}

// NewAgentID generates a fresh agent identifier of the form
// agent-<8 hex> (lowercase).
func NewAgentID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "agent-" + strings.ToLower(raw[:8])
}

// ValidAgentID reports whether id matches the agent identifier pattern.
func ValidAgentID(id string) bool {
	return agentIDPattern.MatchString(id)
}

// Entry is one record of a stream. IDs are monotonic per stream and
// follow the <ms>-<seq> shape used by Redis streams.
type Entry struct {
	ID     string
	Fields map[string]string
}

// MailboxEntries groups the entries read from one mailbox.
type MailboxEntries struct {
	Mailbox string
	Entries []Entry
}

// CursorStart reads a stream from its beginning.
const CursorStart = "0"

// Stream is the append-only, totally-ordered, per-mailbox stream
// contract. Implementations must be safe for concurrent use.
type Stream interface {
	// Append writes fields as a new entry and returns its id.
	Append(ctx context.Context, mailbox string, fields map[string]string) (string, error)

	// TailRead blocks until an entry newer than each cursor arrives on
	// any of the given mailboxes, or the block timeout elapses. A zero
	// block returns immediately with whatever is pending.
	TailRead(ctx context.Context, cursors map[string]string, maxCount int, block time.Duration) ([]MailboxEntries, error)

	// Range returns up to count entries with from <= id <= to.
	// Empty bounds mean the stream extremes.
	Range(ctx context.Context, mailbox, from, to string, count int) ([]Entry, error)

	// RevRange returns the newest count entries, newest first.
	RevRange(ctx context.Context, mailbox string, count int) ([]Entry, error)

	// Scan lists stream names matching the given prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// parseEntryID splits an entry id into its numeric parts. Unparsable
// ids sort first.
func parseEntryID(id string) (ms, seq int64) {
	if id == "" {
		return 0, 0
	}
	part := id
	if i := strings.IndexByte(id, '-'); i >= 0 {
		part = id[:i]
		seq, _ = strconv.ParseInt(id[i+1:], 10, 64)
	}
	ms, _ = strconv.ParseInt(part, 10, 64)
	return ms, seq
}

// EntryIDLess reports whether a sorts strictly before b.
func EntryIDLess(a, b string) bool {
	ams, aseq := parseEntryID(a)
	bms, bseq := parseEntryID(b)
	if ams != bms {
		return ams < bms
	}
	return aseq < bseq
}
