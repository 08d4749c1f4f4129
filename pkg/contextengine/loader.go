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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
	"github.com/teradata-labs/quench/pkg/state"
	"github.com/teradata-labs/quench/pkg/types"
)

// SourceFunc synthesizes content for one context type from the
// environment.
type SourceFunc func(ctx context.Context, st *state.ChatState) (string, error)

// intentRules maps trigger keywords in recent user text to the
// context types the loader should materialize.
var intentRules = []struct {
	keywords []string
	needs    []string
}{
	{keywords: []string{"implement", "write", "build"}, needs: []string{"code_context", "file_structure", "test_suite"}},
	{keywords: []string{"error", "stack", "traceback", "panic"}, needs: []string{"stack_traces", "error_history"}},
	{keywords: []string{"debug", "investigate", "diagnose"}, needs: []string{"skill_catalog"}},
	{keywords: []string{"test", "verify", "assert"}, needs: []string{"test_suite"}},
}

// Loader is the progressive context loader. It infers which context
// types the next turn needs and synthesizes segments for those that
// fit the remaining budget; the rest queue for prefetch.
type Loader struct {
	counter          *TokenCounter
	catalog          *SkillCatalog
	sources          map[string]SourceFunc
	contextWindowMax int
	logger           *zap.Logger
}

// NewLoader creates a loader. catalog may be nil when no skill
// directory is configured.
func NewLoader(counter *TokenCounter, catalog *SkillCatalog, contextWindowMax int) *Loader {
	l := &Loader{
		counter:          counter,
		catalog:          catalog,
		sources:          make(map[string]SourceFunc),
		contextWindowMax: contextWindowMax,
		logger:           log.With(zap.String("component", "context_loader")),
	}
	if catalog != nil {
		l.sources["skill_catalog"] = l.skillSource
	}
	return l
}

// RegisterSource binds a synthesizer for a context type. Later
// registrations replace earlier ones.
func (l *Loader) RegisterSource(contextType string, fn SourceFunc) {
	l.sources[contextType] = fn
}

// Load infers needed context types from recent user text and
// materializes segments for the ones that fit the remaining window.
// Needs without budget land in the prefetch queue.
func (l *Loader) Load(ctx context.Context, st *state.ChatState) {
	needs := l.inferNeeds(st)
	if len(needs) == 0 {
		return
	}

	loaded := make(map[string]bool)
	for _, seg := range st.ContextSegments {
		loaded[strings.TrimPrefix(seg.Type, state.PointerTypePrefix)] = true
	}

	for _, need := range needs {
		if loaded[need] {
			continue
		}
		fn, ok := l.sources[need]
		if !ok {
			continue
		}
		content, err := fn(ctx, st)
		if err != nil {
			l.logger.Warn("context source failed",
				zap.String("context_type", need), zap.Error(err))
			continue
		}
		if content == "" {
			continue
		}
		tokens := l.counter.CountTokens(content)
		if st.ContextWindowUsed+tokens > l.contextWindowMax {
			st.PrefetchQueue = appendUnique(st.PrefetchQueue, need)
			continue
		}
		st.ContextSegments = append(st.ContextSegments, state.Segment{
			ID:                  "seg-" + uuid.New().String()[:8],
			Content:             content,
			Type:                need,
			Priority:            4,
			TokenCount:          tokens,
			Timestamp:           time.Now(),
			CompressionEligible: true,
		})
		st.RecomputeContextWindow()
		loaded[need] = true
	}
}

func (l *Loader) inferNeeds(st *state.ChatState) []string {
	var recent strings.Builder
	seen := 0
	for i := len(st.Messages) - 1; i >= 0 && seen < 3; i-- {
		if st.Messages[i].Role == types.RoleHuman {
			recent.WriteString(strings.ToLower(st.Messages[i].Content))
			recent.WriteString(" ")
			seen++
		}
	}
	text := recent.String()

	var needs []string
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				for _, n := range rule.needs {
					needs = appendUnique(needs, n)
				}
				break
			}
		}
	}
	return needs
}

func (l *Loader) skillSource(ctx context.Context, st *state.ChatState) (string, error) {
	skills := l.catalog.Match(st.TaskGoal)
	if len(skills) == 0 {
		skills = l.catalog.All()
	}
	if len(skills) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, s := range skills {
		fmt.Fprintf(&b, "## %s\n%s\n", s.Name, s.Content)
	}
	return b.String(), nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// Skill is one on-disk skill document.
type Skill struct {
	Name    string
	Content string
}

// SkillCatalog loads markdown skill files from a directory and keeps
// them current via a filesystem watcher.
type SkillCatalog struct {
	dir     string
	mu      sync.RWMutex
	skills  map[string]Skill
	watcher *fsnotify.Watcher
	logger  *zap.Logger
}

// NewSkillCatalog loads the catalog from dir. A missing directory
// yields an empty catalog, not an error.
func NewSkillCatalog(dir string) *SkillCatalog {
	c := &SkillCatalog{
		dir:    dir,
		skills: make(map[string]Skill),
		logger: log.With(zap.String("component", "skill_catalog")),
	}
	c.reload()
	return c
}

// Watch starts reloading the catalog on filesystem changes until the
// context is cancelled.
func (c *SkillCatalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create skill watcher: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch skill dir %s: %w", c.dir, err)
	}
	c.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("skill watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (c *SkillCatalog) reload() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return
	}
	skills := make(map[string]Skill)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(c.dir, e.Name()))
		if err != nil {
			c.logger.Warn("skill file unreadable", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".md")
		skills[name] = Skill{Name: name, Content: string(raw)}
	}
	c.mu.Lock()
	c.skills = skills
	c.mu.Unlock()
}

// Match returns skills whose name appears in the query text.
func (c *SkillCatalog) Match(query string) []Skill {
	query = strings.ToLower(query)
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Skill
	for name, skill := range c.skills {
		if strings.Contains(query, strings.ToLower(strings.ReplaceAll(name, "-", " "))) ||
			strings.Contains(query, strings.ToLower(name)) {
			out = append(out, skill)
		}
	}
	sortSkills(out)
	return out
}

// All returns every loaded skill.
func (c *SkillCatalog) All() []Skill {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Skill, 0, len(c.skills))
	for _, s := range c.skills {
		out = append(out, s)
	}
	sortSkills(out)
	return out
}

func sortSkills(skills []Skill) {
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
}
