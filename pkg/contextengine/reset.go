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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
	"github.com/teradata-labs/quench/pkg/config"
	"github.com/teradata-labs/quench/pkg/state"
	"github.com/teradata-labs/quench/pkg/types"
)

// Synthetic segment types introduced by a reset.
const (
	SegmentTypeResetSummary = "context_reset_summary"
	SegmentTypeResetHistory = "context_reset_history"
)

// Resetter archives an overgrown transcript and restarts the window
// from a summary plus the most recent turns.
type Resetter struct {
	cfg        config.ContextResetConfig
	counter    *TokenCounter
	summarizer types.LLMProvider
	logger     *zap.Logger
}

// NewResetter creates a resetter. summarizer may be nil; the
// heuristic fallback then produces the summary.
func NewResetter(cfg config.ContextResetConfig, counter *TokenCounter, summarizer types.LLMProvider) *Resetter {
	return &Resetter{
		cfg:        cfg,
		counter:    counter,
		summarizer: summarizer,
		logger:     log.With(zap.String("component", "context_reset")),
	}
}

// ShouldReset reports whether the trigger conditions hold.
func (r *Resetter) ShouldReset(st *state.ChatState) bool {
	if !r.cfg.Enabled {
		return false
	}
	if st.ContextWindowUsed <= r.cfg.TriggerTokens {
		return false
	}
	return countUserTurns(st.Messages) >= r.cfg.MinUserTurns
}

// Reset archives the full transcript, summarizes it, and rebuilds the
// window from the last keep_turns user/assistant pairs plus two
// synthetic segments. Up to 2 x keep_turns messages remain after a
// reset.
func (r *Resetter) Reset(ctx context.Context, st *state.ChatState) error {
	archiveDir := filepath.Join(r.cfg.Root, st.ChatID,
		fmt.Sprintf("%d-%s", time.Now().Unix(), uuid.New().String()[:8]))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("create reset archive dir: %w", err)
	}

	historyPath := filepath.Join(archiveDir, "history.json")
	raw, err := json.MarshalIndent(st.Messages, "", "  ")
	if err != nil {
		return fmt.Errorf("encode reset history: %w", err)
	}
	if err := os.WriteFile(historyPath, raw, 0o644); err != nil {
		return fmt.Errorf("persist reset history: %w", err)
	}

	summary := r.summarize(ctx, st.Messages)
	summaryPath := filepath.Join(archiveDir, "summary.md")
	if err := os.WriteFile(summaryPath, []byte(summary), 0o644); err != nil {
		return fmt.Errorf("persist reset summary: %w", err)
	}

	st.Messages = lastTurnPairs(st.Messages, r.cfg.KeepTurns)

	// Conversation segments follow the transcript they mirror.
	kept := st.ContextSegments[:0]
	for _, seg := range st.ContextSegments {
		if seg.Type == "conversation" {
			continue
		}
		kept = append(kept, seg)
	}
	st.ContextSegments = kept

	now := time.Now()
	st.ContextSegments = append(st.ContextSegments,
		state.Segment{
			ID:         "seg-" + uuid.New().String()[:8],
			Content:    summary,
			Type:       SegmentTypeResetSummary,
			Priority:   8,
			TokenCount: r.counter.CountTokens(summary),
			Timestamp:  now,
		},
		state.Segment{
			ID:                  "seg-" + uuid.New().String()[:8],
			Content:             fmt.Sprintf("[archived transcript at %s]", historyPath),
			Type:                SegmentTypeResetHistory,
			Priority:            6,
			TokenCount:          r.counter.CountTokens(historyPath) + 8,
			Timestamp:           now,
			RestorableReference: historyPath,
		},
	)
	st.RecomputeContextWindow()

	st.SystemPromptAddendum = fmt.Sprintf(
		"Earlier conversation history was archived to %s. A summary segment is in context; consult the archive before re-deriving past conclusions.",
		historyPath)
	st.ContextResetCount++
	st.AppendTelemetry("context_reset", map[string]interface{}{
		"archive":      archiveDir,
		"kept_turns":   r.cfg.KeepTurns,
		"window_after": st.ContextWindowUsed,
	})
	r.logger.Info("context reset",
		zap.String("chat_id", st.ChatID),
		zap.String("archive", archiveDir),
		zap.Int("window_after", st.ContextWindowUsed))
	return nil
}

func (r *Resetter) summarize(ctx context.Context, messages []types.Message) string {
	if r.summarizer != nil {
		var b strings.Builder
		for _, m := range messages {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		resp, err := r.summarizer.Chat(ctx,
			"Summarize the conversation below in under 300 words. Preserve decisions, open questions and constraints.",
			[]types.Message{types.NewHumanMessage(b.String())}, nil)
		if err == nil && !resp.Empty() {
			return resp.Content
		}
		r.logger.Warn("summarizer failed, using heuristic summary", zap.Error(err))
	}
	return heuristicSummary(messages)
}

// heuristicSummary keeps the opening user request, turn counts, and
// the most recent exchange.
func heuristicSummary(messages []types.Message) string {
	var b strings.Builder
	b.WriteString("Conversation summary (heuristic):\n")
	fmt.Fprintf(&b, "- %d total messages, %d user turns\n", len(messages), countUserTurns(messages))
	for _, m := range messages {
		if m.Role == types.RoleHuman {
			fmt.Fprintf(&b, "- opening request: %s\n", truncate(m.Content, 400))
			break
		}
	}
	if len(messages) > 0 {
		last := messages[len(messages)-1]
		fmt.Fprintf(&b, "- latest turn (%s): %s\n", last.Role, truncate(last.Content, 400))
	}
	return b.String()
}

// lastTurnPairs returns the trailing keepTurns turns, each as the user
// message plus the turn's final assistant reply. Tool traffic inside a
// turn is dropped; an unanswered user message does not form a pair.
func lastTurnPairs(messages []types.Message, keepTurns int) []types.Message {
	var pairs [][2]types.Message
	for i := len(messages) - 1; i >= 0 && len(pairs) < keepTurns; i-- {
		if messages[i].Role != types.RoleHuman {
			continue
		}
		var reply *types.Message
		for j := i + 1; j < len(messages) && messages[j].Role != types.RoleHuman; j++ {
			if messages[j].Role == types.RoleAI {
				reply = &messages[j]
			}
		}
		if reply == nil {
			continue
		}
		pairs = append(pairs, [2]types.Message{messages[i], *reply})
	}
	out := make([]types.Message, 0, 2*len(pairs))
	for i := len(pairs) - 1; i >= 0; i-- {
		out = append(out, pairs[i][0], pairs[i][1])
	}
	return out
}

func countUserTurns(messages []types.Message) int {
	n := 0
	for _, m := range messages {
		if m.Role == types.RoleHuman {
			n++
		}
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
