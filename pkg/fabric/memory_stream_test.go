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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStreamAppendOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStream()
	defer s.Close()

	mailbox := Mailbox("orchestrator")
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.Append(ctx, mailbox, map[string]string{"n": fmt.Sprint(i)})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		assert.True(t, EntryIDLess(ids[i-1], ids[i]), "ids must be monotonic")
	}

	entries, err := s.Range(ctx, mailbox, "", "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, fmt.Sprint(i), e.Fields["n"])
	}
}

func TestMemoryStreamTailReadCursor(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStream()
	defer s.Close()

	mailbox := Mailbox("agent-00000001")
	first, err := s.Append(ctx, mailbox, map[string]string{"v": "1"})
	require.NoError(t, err)
	_, err = s.Append(ctx, mailbox, map[string]string{"v": "2"})
	require.NoError(t, err)

	out, err := s.TailRead(ctx, map[string]string{mailbox: first}, 10, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Entries, 1)
	assert.Equal(t, "2", out[0].Entries[0].Fields["v"])
}

func TestMemoryStreamTailReadBlocksUntilAppend(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStream()
	defer s.Close()

	mailbox := Mailbox("human")
	done := make(chan []MailboxEntries, 1)
	go func() {
		out, _ := s.TailRead(ctx, map[string]string{mailbox: CursorStart}, 10, 2*time.Second)
		done <- out
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := s.Append(ctx, mailbox, map[string]string{"v": "late"})
	require.NoError(t, err)

	select {
	case out := <-done:
		require.Len(t, out, 1)
		assert.Equal(t, "late", out[0].Entries[0].Fields["v"])
	case <-time.After(3 * time.Second):
		t.Fatal("tail read did not wake on append")
	}
}

func TestMemoryStreamTailReadTimeout(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStream()
	defer s.Close()

	start := time.Now()
	out, err := s.TailRead(ctx, map[string]string{Mailbox("nobody"): CursorStart}, 10, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestMemoryStreamRevRange(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStream()
	defer s.Close()

	mailbox := Mailbox("supervisor")
	for i := 0; i < 4; i++ {
		_, err := s.Append(ctx, mailbox, map[string]string{"n": fmt.Sprint(i)})
		require.NoError(t, err)
	}
	out, err := s.RevRange(ctx, mailbox, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "3", out[0].Fields["n"])
	assert.Equal(t, "2", out[1].Fields["n"])
}

func TestMemoryStreamScan(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStream()
	defer s.Close()

	_, err := s.Append(ctx, Mailbox("human"), map[string]string{"v": "1"})
	require.NoError(t, err)
	_, err = s.Append(ctx, Mailbox("orchestrator"), map[string]string{"v": "1"})
	require.NoError(t, err)
	_, err = s.Append(ctx, ContextMetricsStream, map[string]string{"v": "1"})
	require.NoError(t, err)

	names, err := s.Scan(ctx, MailboxPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{Mailbox("human"), Mailbox("orchestrator")}, names)
}
