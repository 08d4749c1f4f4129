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
	"fmt"
	"strings"
	"time"

	"github.com/teradata-labs/quench/pkg/state"
)

// TranslateCritique turns a supervisor rejection into actionable
// items: one concrete test plan per required artifact plus an
// improvement item carrying the rationale.
func TranslateCritique(ticketID, cycleID string, requiredArtifacts []string, rationale string) []state.CritiqueItem {
	now := time.Now()
	var items []state.CritiqueItem
	for _, artifact := range requiredArtifacts {
		items = append(items, state.CritiqueItem{
			TicketID:    ticketID,
			CycleID:     cycleID,
			Kind:        state.CritiqueTest,
			Description: fmt.Sprintf("produce artifact %q and attach it to the next review", artifact),
			CreatedAt:   now,
		})
	}
	if strings.TrimSpace(rationale) != "" {
		items = append(items, state.CritiqueItem{
			TicketID:    ticketID,
			CycleID:     cycleID,
			Kind:        state.CritiqueImprovement,
			Description: "address supervisor rationale: " + rationale,
			CreatedAt:   now,
		})
	}
	return items
}

// AppendCritiques adds items to the critique backlog and the current
// ledger row. A rejection replayed with the same ticket and cycle ids
// is a no-op, so duplicate deliveries leave exactly one set of
// entries.
func AppendCritiques(st *state.ChatState, items []state.CritiqueItem) int {
	if len(items) == 0 {
		return 0
	}
	if backlogContains(st.CritiqueBacklog, items[0].TicketID, items[0].CycleID) {
		return 0
	}
	st.CritiqueBacklog = append(st.CritiqueBacklog, items...)

	if entry := st.CurrentLedgerEntry(); entry != nil {
		if entry.Metadata == nil {
			entry.Metadata = make(map[string]interface{})
		}
		var critiques []interface{}
		if prior, ok := entry.Metadata["critiques"].([]interface{}); ok {
			critiques = prior
		}
		for _, item := range items {
			critiques = append(critiques, map[string]interface{}{
				"ticket_id":   item.TicketID,
				"kind":        item.Kind,
				"description": item.Description,
			})
		}
		entry.Metadata["critiques"] = critiques
	}
	return len(items)
}

func backlogContains(backlog []state.CritiqueItem, ticketID, cycleID string) bool {
	if ticketID == "" && cycleID == "" {
		return false
	}
	for _, item := range backlog {
		if item.TicketID == ticketID && item.CycleID == cycleID {
			return true
		}
	}
	return false
}
