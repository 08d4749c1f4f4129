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

// Package contextengine implements segment-based working memory: a
// scorer, curator, progressive loader, governor and reset pipeline
// that wraps every model call. The pipeline is straight-line; each
// stage mutates the chat state in place and the ordering is fixed:
// ingest, load, score, curate, govern, reset.
package contextengine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
	"github.com/teradata-labs/quench/pkg/config"
	"github.com/teradata-labs/quench/pkg/fabric"
	"github.com/teradata-labs/quench/pkg/state"
	"github.com/teradata-labs/quench/pkg/types"
)

// saturationRatio is the window fill fraction that flips the
// exhaustion mode to context saturation.
const saturationRatio = 0.90

// staleAfter prunes segments older than this during post-process.
const staleAfter = 2 * time.Hour

// Engine wraps every LLM call with pre-process, tool-response
// handling and post-process stages.
type Engine struct {
	cfg      config.ContextConfig
	counter  *TokenCounter
	external *ExternalStore
	scorer   *Scorer
	reducer  *Reducer
	curator  *Curator
	loader   *Loader
	governor *Governor
	resetter *Resetter
	metrics  fabric.Stream
	logger   *zap.Logger
}

// NewEngine assembles the full pipeline. provider may be nil (the
// governor and resetter then use their deterministic fallbacks);
// metrics may be nil to disable event emission.
func NewEngine(cfg config.ContextConfig, provider types.LLMProvider, catalog *SkillCatalog, metrics fabric.Stream) *Engine {
	counter := GetTokenCounter()
	external := NewExternalStore(cfg.ExternalMemoryPath, cfg.ExternalizeWriteEnabled)
	scorer := NewScorer(cfg.ContextWindowMax)
	reducer := NewReducer(counter)
	curator := NewCurator(scorer, reducer, external, counter, cfg.OptimalContextSize)
	return &Engine{
		cfg:      cfg,
		counter:  counter,
		external: external,
		scorer:   scorer,
		reducer:  reducer,
		curator:  curator,
		loader:   NewLoader(counter, catalog, cfg.ContextWindowMax),
		governor: NewGovernor(provider, reducer, curator, counter),
		resetter: NewResetter(cfg.Reset, counter, provider),
		metrics:  metrics,
		logger:   log.With(zap.String("component", "context_engine")),
	}
}

// Loader exposes the progressive loader for source registration.
func (e *Engine) Loader() *Loader {
	return e.loader
}

// External exposes the external memory store.
func (e *Engine) External() *ExternalStore {
	return e.external
}

// PreProcess runs the full pre-call pipeline over the chat state and
// returns the resulting window quality.
func (e *Engine) PreProcess(ctx context.Context, st *state.ChatState, inbound []types.Message) (Quality, error) {
	now := time.Now()

	// 1. Ingest new inbound messages as conversation segments.
	for _, msg := range inbound {
		st.Messages = append(st.Messages, msg)
		e.ingestConversation(st, msg, now)
	}

	// 2. Progressive loading from recent user intent.
	e.loader.Load(ctx, st)

	// 3. Window recompute.
	st.RecomputeContextWindow()

	// 4. Score.
	quality := e.scorer.Score(st, now)

	// 5. Curate when over budget or below the quality bar.
	if st.ContextWindowUsed > e.cfg.OptimalContextSize || quality.Composite < e.cfg.QualityThreshold {
		actions := e.curator.Curate(st, now)
		if len(actions) > 0 {
			quality = e.scorer.Score(st, now)
		}
	}

	// 6. Govern: reorder and annotate for the driver.
	e.governor.Govern(ctx, st, e.cfg.ReducerTargetTokens)

	// 7. Reset the transcript when it has outgrown the trigger.
	if e.resetter.ShouldReset(st) {
		if err := e.resetter.Reset(ctx, st); err != nil {
			return quality, fmt.Errorf("context reset: %w", err)
		}
		quality = e.scorer.Score(st, now)
	}

	// 8. Saturation check.
	e.updateSaturation(st)

	st.Invariants.ContextUpdatedInCycle = true
	e.emitMetrics(ctx, st, "pre_process", quality)
	return quality, nil
}

// HandleToolResponse ingests a tool result: oversized payloads are
// truncated inline and kept whole in external memory.
func (e *Engine) HandleToolResponse(ctx context.Context, st *state.ChatState, toolName, toolCallID, payload string) error {
	content := payload
	var refID string
	if len(payload) > e.cfg.MaxToolPayloadChars {
		id, path, err := e.external.Write(st.ChatID, payload)
		if err != nil {
			e.logger.Warn("tool payload externalization failed", zap.String("tool", toolName), zap.Error(err))
		} else {
			refID = id
			if st.ExternalMemoryIndex == nil {
				st.ExternalMemoryIndex = make(map[string]string)
			}
			st.ExternalMemoryIndex[id] = path
		}
		content = payload[:e.cfg.MaxToolPayloadChars] +
			fmt.Sprintf("\n[truncated %d chars, full payload at %s]", len(payload)-e.cfg.MaxToolPayloadChars, refID)
	}

	st.Messages = append(st.Messages, types.NewToolMessage(toolName, toolCallID, content))
	st.ContextSegments = append(st.ContextSegments, state.Segment{
		ID:                  "seg-" + uuid.New().String()[:8],
		Content:             content,
		Type:                "tool_output:" + toolName,
		Priority:            6,
		TokenCount:          e.counter.CountTokens(content),
		Timestamp:           time.Now(),
		CompressionEligible: true,
		RestorableReference: refID,
	})
	st.RecomputeContextWindow()
	e.updateSaturation(st)

	e.emitMetrics(ctx, st, "tool_response", e.scorer.Score(st, time.Now()))
	return nil
}

// PostProcess runs after the model reply: reflect, update playbook
// and curation rules, prune stale segments.
func (e *Engine) PostProcess(ctx context.Context, st *state.ChatState, reply *types.LLMResponse) {
	now := time.Now()
	quality := e.scorer.Score(st, now)

	entry := e.reflect(st, quality, reply)
	if len(entry.Issues) > 0 || len(entry.Recommendations) > 0 {
		if !duplicateReflection(st.ReflectionLog, entry) {
			st.ReflectionLog = append(st.ReflectionLog, entry)
		}
	}

	st.ContextPlaybook.Iterations++
	st.ContextPlaybook.LastFocus = lowestQualityAxis(quality)

	for _, rec := range entry.Recommendations {
		st.CurationRules = appendUnique(st.CurationRules, rec)
	}

	// Prune segments stale beyond the freshness threshold.
	kept := st.ContextSegments[:0]
	for _, seg := range st.ContextSegments {
		if seg.Priority < 8 && now.Sub(seg.Timestamp) > staleAfter {
			continue
		}
		kept = append(kept, seg)
	}
	st.ContextSegments = kept
	st.RecomputeContextWindow()

	e.emitMetrics(ctx, st, "post_process", quality)
}

func (e *Engine) ingestConversation(st *state.ChatState, msg types.Message, now time.Time) {
	if msg.Content == "" {
		return
	}
	st.ContextSegments = append(st.ContextSegments, state.Segment{
		ID:                  "seg-" + uuid.New().String()[:8],
		Content:             msg.Content,
		Type:                "conversation",
		Priority:            5,
		TokenCount:          e.counter.CountTokens(msg.Content),
		Timestamp:           now,
		CompressionEligible: true,
	})
}

func (e *Engine) updateSaturation(st *state.ChatState) {
	if e.cfg.ContextWindowMax <= 0 {
		return
	}
	ratio := float64(st.ContextWindowUsed) / float64(e.cfg.ContextWindowMax)
	if ratio >= saturationRatio {
		st.ExhaustionMode = state.ContextSaturation
	} else if st.ExhaustionMode == state.ContextSaturation {
		st.ExhaustionMode = state.ExhaustionNone
	}
}

func (e *Engine) reflect(st *state.ChatState, q Quality, reply *types.LLMResponse) state.ReflectionEntry {
	entry := state.ReflectionEntry{Timestamp: time.Now()}
	if q.Relevance < 0.3 {
		entry.Issues = append(entry.Issues, "low relevance: window drifted from task goal")
		entry.Recommendations = append(entry.Recommendations, "prefer segments overlapping the task goal")
	}
	if q.Freshness < 0.3 {
		entry.Issues = append(entry.Issues, "stale window: most segments have decayed")
		entry.Recommendations = append(entry.Recommendations, "discard segments older than the freshness threshold")
	}
	if q.Efficiency < 0.2 {
		entry.Issues = append(entry.Issues, "window near capacity")
		entry.Recommendations = append(entry.Recommendations, "externalize large low-priority segments earlier")
	}
	if reply != nil && reply.Empty() {
		entry.Issues = append(entry.Issues, "model produced an empty reply")
	}
	return entry
}

func duplicateReflection(logEntries []state.ReflectionEntry, entry state.ReflectionEntry) bool {
	if len(logEntries) == 0 {
		return false
	}
	last := logEntries[len(logEntries)-1]
	if len(last.Issues) != len(entry.Issues) {
		return false
	}
	for i := range last.Issues {
		if last.Issues[i] != entry.Issues[i] {
			return false
		}
	}
	return true
}

func lowestQualityAxis(q Quality) string {
	axes := []struct {
		name  string
		value float64
	}{
		{"relevance", q.Relevance},
		{"coherence", q.Coherence},
		{"completeness", q.Completeness},
		{"freshness", q.Freshness},
		{"diversity", q.Diversity},
		{"efficiency", q.Efficiency},
	}
	lowest := axes[0]
	for _, a := range axes[1:] {
		if a.value < lowest.value {
			lowest = a
		}
	}
	return lowest.name
}

func (e *Engine) emitMetrics(ctx context.Context, st *state.ChatState, stage string, q Quality) {
	if e.metrics == nil {
		return
	}
	fields := map[string]string{
		"chat_id":       st.ChatID,
		"stage":         stage,
		"window_used":   strconv.Itoa(st.ContextWindowUsed),
		"segment_count": strconv.Itoa(len(st.ContextSegments)),
		"quality":       strconv.FormatFloat(q.Composite, 'f', 4, 64),
		"reset_count":   strconv.Itoa(st.ContextResetCount),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := e.metrics.Append(ctx, fabric.ContextMetricsStream, fields); err != nil {
		e.logger.Warn("context metrics emission failed", zap.Error(err))
	}
}
