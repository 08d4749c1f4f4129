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
package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/quench/pkg/state"
)

func TestTranslateCritique(t *testing.T) {
	items := TranslateCritique("t-1", "cycle-1",
		[]string{"pytest_report", "coverage_html"}, "No tests.")

	require.Len(t, items, 3)
	assert.Equal(t, state.CritiqueTest, items[0].Kind)
	assert.Contains(t, items[0].Description, "pytest_report")
	assert.Equal(t, state.CritiqueTest, items[1].Kind)
	assert.Equal(t, state.CritiqueImprovement, items[2].Kind)
	assert.Contains(t, items[2].Description, "No tests.")
}

func TestTranslateCritiqueNoRationale(t *testing.T) {
	items := TranslateCritique("t-1", "cycle-1", []string{"report"}, "  ")
	require.Len(t, items, 1)
	assert.Equal(t, state.CritiqueTest, items[0].Kind)
}

func TestAppendCritiquesWritesBacklogAndLedgerMetadata(t *testing.T) {
	l := New(0.25)
	st := state.NewChatState("c1")
	require.True(t, l.Propose(st, ProposeRequest{Hypothesis: "missing test coverage"}).Accepted)

	items := TranslateCritique("t-1", "cycle-1", []string{"report"}, "needs evidence")
	n := AppendCritiques(st, items)
	assert.Equal(t, 2, n)
	assert.Len(t, st.CritiqueBacklog, 2)

	entry := st.CurrentLedgerEntry()
	critiques, ok := entry.Metadata["critiques"].([]interface{})
	require.True(t, ok)
	assert.Len(t, critiques, 2)
}

func TestAppendCritiquesDedupsByTicketAndCycle(t *testing.T) {
	l := New(0.25)
	st := state.NewChatState("c1")
	require.True(t, l.Propose(st, ProposeRequest{Hypothesis: "missing test coverage"}).Accepted)

	items := TranslateCritique("t-1", "cycle-1", []string{"report"}, "needs evidence")
	require.Equal(t, 2, AppendCritiques(st, items))

	// A replayed rejection with the same ticket and cycle is a no-op.
	replay := TranslateCritique("t-1", "cycle-1", []string{"report"}, "needs evidence")
	assert.Zero(t, AppendCritiques(st, replay))
	assert.Len(t, st.CritiqueBacklog, 2)

	// A genuinely new ticket still lands.
	fresh := TranslateCritique("t-2", "cycle-1", []string{"trace"}, "")
	assert.Equal(t, 1, AppendCritiques(st, fresh))
	assert.Len(t, st.CritiqueBacklog, 3)
}
