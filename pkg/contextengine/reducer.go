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
	"sort"
	"strings"
)

// Reducer summarizes segment content heuristically: it retains the
// first and last lines and a bulleted list of dominant keywords. The
// output targets at most half the original token count.
type Reducer struct {
	counter *TokenCounter
}

// NewReducer creates a reducer backed by the given counter.
func NewReducer(counter *TokenCounter) *Reducer {
	return &Reducer{counter: counter}
}

// stopwords excluded from keyword extraction.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "from": true, "are": true, "was": true, "were": true,
	"has": true, "have": true, "not": true, "but": true, "its": true,
	"will": true, "can": true, "all": true, "any": true, "into": true,
}

// Reduce compresses content to at most half its tokens, bounded below
// by targetTokens. Content already under the bound is returned as is.
func (r *Reducer) Reduce(content string, targetTokens int) string {
	original := r.counter.CountTokens(content)
	bound := original / 2
	if targetTokens > 0 && targetTokens < bound {
		bound = targetTokens
	}
	if original <= bound || original < 8 {
		return content
	}

	lines := nonEmptyLines(content)
	var b strings.Builder
	if len(lines) > 0 {
		b.WriteString(lines[0])
		b.WriteString("\n")
	}
	for _, kw := range topKeywords(content, 8) {
		b.WriteString("- ")
		b.WriteString(kw)
		b.WriteString("\n")
	}
	if len(lines) > 1 {
		b.WriteString(lines[len(lines)-1])
	}

	reduced := strings.TrimRight(b.String(), "\n")
	if r.counter.CountTokens(reduced) >= original {
		return content
	}
	return reduced
}

func nonEmptyLines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// topKeywords returns the n most frequent non-stopword tokens of at
// least four characters, most frequent first.
func topKeywords(content string, n int) []string {
	counts := make(map[string]int)
	for _, w := range strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '_'
	}) {
		if len(w) < 4 || stopwords[w] {
			continue
		}
		counts[w]++
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}
