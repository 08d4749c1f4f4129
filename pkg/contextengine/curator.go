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
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
	"github.com/teradata-labs/quench/pkg/state"
)

// Curation action kinds recorded in telemetry.
const (
	ActionCompress    = "compress"
	ActionExternalize = "externalize"
	ActionDiscard     = "discard"
)

// CurationAction records one curator decision for telemetry.
type CurationAction struct {
	SegmentID    string `json:"segment_id"`
	Action       string `json:"action"`
	Stage        string `json:"stage"`
	Reason       string `json:"reason"`
	TokensBefore int    `json:"tokens_before"`
	TokensAfter  int    `json:"tokens_after"`
}

// Curator evicts context pressure in three escalating stages:
// compress eligible segments, externalize what remains over budget,
// discard old low-priority segments as a last resort.
type Curator struct {
	scorer   *Scorer
	reducer  *Reducer
	external *ExternalStore
	counter  *TokenCounter
	target   int
	logger   *zap.Logger
}

// NewCurator wires a curator against the optimal context size target.
func NewCurator(scorer *Scorer, reducer *Reducer, external *ExternalStore, counter *TokenCounter, optimalContextSize int) *Curator {
	return &Curator{
		scorer:   scorer,
		reducer:  reducer,
		external: external,
		counter:  counter,
		target:   optimalContextSize,
		logger:   log.With(zap.String("component", "context_curator")),
	}
}

// Curate reduces the window until it fits the target. Only windows
// strictly over the target are touched; a window exactly at the
// target is left alone.
func (c *Curator) Curate(st *state.ChatState, now time.Time) []CurationAction {
	st.RecomputeContextWindow()
	var actions []CurationAction
	if st.ContextWindowUsed <= c.target {
		return actions
	}

	order := c.evictionOrder(st, now)

	// Stage 1: compress bottom-scoring eligible segments.
	for _, idx := range order {
		if st.ContextWindowUsed <= c.target {
			break
		}
		seg := &st.ContextSegments[idx]
		if !seg.CompressionEligible || seg.IsPointer() {
			continue
		}
		before := seg.TokenCount
		reduced := c.reducer.Reduce(seg.Content, before/2)
		if reduced == seg.Content {
			continue
		}
		seg.Content = reduced
		seg.TokenCount = c.counter.CountTokens(reduced)
		seg.CompressionEligible = false
		st.RecomputeContextWindow()
		actions = append(actions, c.record(st, seg.ID, ActionCompress, "compress", "over optimal context size", before, seg.TokenCount))
	}

	// Stage 2: externalize what is still over budget.
	for _, idx := range order {
		if st.ContextWindowUsed <= c.target {
			break
		}
		seg := &st.ContextSegments[idx]
		if seg.IsPointer() {
			continue
		}
		before := seg.TokenCount
		if err := c.Externalize(st, seg, "window over optimal context size"); err != nil {
			c.logger.Warn("externalize failed, leaving segment inline",
				zap.String("segment_id", seg.ID), zap.Error(err))
			continue
		}
		st.RecomputeContextWindow()
		actions = append(actions, c.record(st, seg.ID, ActionExternalize, "externalize", "over optimal context size", before, seg.TokenCount))
	}

	// Stage 3: discard oldest low-priority segments.
	for st.ContextWindowUsed > c.target {
		idx := oldestLowPriority(st.ContextSegments)
		if idx < 0 {
			break
		}
		seg := st.ContextSegments[idx]
		st.ContextSegments = append(st.ContextSegments[:idx], st.ContextSegments[idx+1:]...)
		st.RecomputeContextWindow()
		actions = append(actions, c.record(st, seg.ID, ActionDiscard, "discard", "window still over target after externalization", seg.TokenCount, 0))
	}

	return actions
}

// Externalize moves a segment's full content to durable storage and
// replaces it with a short pointer placeholder.
func (c *Curator) Externalize(st *state.ChatState, seg *state.Segment, reason string) error {
	refID, path, err := c.external.Write(st.ChatID, seg.Content)
	if err != nil {
		return err
	}
	if st.ExternalMemoryIndex == nil {
		st.ExternalMemoryIndex = make(map[string]string)
	}
	st.ExternalMemoryIndex[refID] = path

	origType := seg.Type
	seg.Type = state.PointerTypePrefix + origType
	seg.RestorableReference = refID
	seg.Content = fmt.Sprintf("[externalized %s, restore via %s]", origType, refID)
	seg.TokenCount = c.counter.CountTokens(seg.Content)
	seg.CompressionEligible = false

	st.AppendTelemetry("segment_externalized", map[string]interface{}{
		"segment_id": seg.ID,
		"ref":        refID,
		"reason":     reason,
	})
	c.logger.Info("segment externalized",
		zap.String("chat_id", st.ChatID),
		zap.String("segment_id", seg.ID),
		zap.String("ref", refID),
		zap.String("reason", reason))
	return nil
}

// evictionOrder returns segment indices sorted by curation score
// ascending, so the least valuable segments are evicted first.
func (c *Curator) evictionOrder(st *state.ChatState, now time.Time) []int {
	type scored struct {
		idx   int
		score float64
	}
	items := make([]scored, 0, len(st.ContextSegments))
	for i := range st.ContextSegments {
		seg := &st.ContextSegments[i]
		score := float64(seg.Priority) *
			c.scorer.SegmentRelevance(st, seg) *
			segmentFreshness(seg, now)
		items = append(items, scored{idx: i, score: score})
	}
	sort.SliceStable(items, func(a, b int) bool { return items[a].score < items[b].score })
	order := make([]int, len(items))
	for i, it := range items {
		order[i] = it.idx
	}
	return order
}

func oldestLowPriority(segments []state.Segment) int {
	best := -1
	for i, seg := range segments {
		if seg.Priority >= 8 {
			continue
		}
		if best < 0 || seg.Timestamp.Before(segments[best].Timestamp) {
			best = i
		}
	}
	return best
}

func (c *Curator) record(st *state.ChatState, segmentID, action, stage, reason string, before, after int) CurationAction {
	a := CurationAction{
		SegmentID:    segmentID,
		Action:       action,
		Stage:        stage,
		Reason:       reason,
		TokensBefore: before,
		TokensAfter:  after,
	}
	st.AppendTelemetry("context_curation", map[string]interface{}{
		"segment_id":    a.SegmentID,
		"action":        a.Action,
		"stage":         a.Stage,
		"reason":        a.Reason,
		"tokens_before": a.TokensBefore,
		"tokens_after":  a.TokensAfter,
	})
	return a
}
