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
package fabric

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStream implements Stream with in-process storage. It backs
// single-process deployments and tests; production fans out through
// the Redis backend.
type MemoryStream struct {
	mu      sync.Mutex
	streams map[string][]Entry
	seq     map[string]int64

	// wake is closed and replaced on every append so blocked tail
	// readers re-check their cursors.
	wake chan struct{}

	closed bool
}

// NewMemoryStream creates an empty in-memory stream fabric.
func NewMemoryStream() *MemoryStream {
	return &MemoryStream{
		streams: make(map[string][]Entry),
		seq:     make(map[string]int64),
		wake:    make(chan struct{}),
	}
}

// Append implements Stream.Append.
func (m *MemoryStream) Append(ctx context.Context, mailbox string, fields map[string]string) (string, error) {
	if mailbox == "" {
		return "", fmt.Errorf("empty mailbox name")
	}
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", fmt.Errorf("stream closed")
	}
	m.seq[mailbox]++
	id := fmt.Sprintf("%d-0", m.seq[mailbox])
	m.streams[mailbox] = append(m.streams[mailbox], Entry{ID: id, Fields: copied})

	close(m.wake)
	m.wake = make(chan struct{})
	return id, nil
}

// TailRead implements Stream.TailRead.
func (m *MemoryStream) TailRead(ctx context.Context, cursors map[string]string, maxCount int, block time.Duration) ([]MailboxEntries, error) {
	deadline := time.Now().Add(block)
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, fmt.Errorf("stream closed")
		}
		out := m.collectLocked(cursors, maxCount)
		wake := m.wake
		m.mu.Unlock()

		if len(out) > 0 {
			return out, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-wake:
			timer.Stop()
		}
	}
}

func (m *MemoryStream) collectLocked(cursors map[string]string, maxCount int) []MailboxEntries {
	var out []MailboxEntries
	for mailbox, cursor := range cursors {
		entries := m.streams[mailbox]
		var fresh []Entry
		for _, e := range entries {
			if cursor == "" || cursor == CursorStart || EntryIDLess(cursor, e.ID) {
				fresh = append(fresh, e)
				if maxCount > 0 && len(fresh) >= maxCount {
					break
				}
			}
		}
		if len(fresh) > 0 {
			out = append(out, MailboxEntries{Mailbox: mailbox, Entries: fresh})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mailbox < out[j].Mailbox })
	return out
}

// Range implements Stream.Range.
func (m *MemoryStream) Range(ctx context.Context, mailbox, from, to string, count int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.streams[mailbox] {
		if from != "" && from != "-" && EntryIDLess(e.ID, from) {
			continue
		}
		if to != "" && to != "+" && EntryIDLess(to, e.ID) {
			continue
		}
		out = append(out, e)
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

// RevRange implements Stream.RevRange.
func (m *MemoryStream) RevRange(ctx context.Context, mailbox string, count int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.streams[mailbox]
	var out []Entry
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
		if count > 0 && len(out) >= count {
			break
		}
	}
	return out, nil
}

// Scan implements Stream.Scan.
func (m *MemoryStream) Scan(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.streams {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close implements Stream.Close.
func (m *MemoryStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.wake)
	}
	return nil
}
