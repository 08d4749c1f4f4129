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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduceShortContentUnchanged(t *testing.T) {
	r := NewReducer(GetTokenCounter())
	assert.Equal(t, "tiny", r.Reduce("tiny", 100))
}

func TestReduceHalvesTokens(t *testing.T) {
	counter := GetTokenCounter()
	r := NewReducer(counter)

	var b strings.Builder
	b.WriteString("HEADER: scheduler retry investigation\n")
	for i := 0; i < 60; i++ {
		b.WriteString("the scheduler dropped a retry queue entry during partition rebalance\n")
	}
	b.WriteString("FOOTER: conclusion pending verification\n")
	content := b.String()

	reduced := r.Reduce(content, 0)
	require.NotEqual(t, content, reduced)
	assert.LessOrEqual(t, counter.CountTokens(reduced), counter.CountTokens(content)/2)
}

func TestReduceKeepsFirstAndLastLines(t *testing.T) {
	r := NewReducer(GetTokenCounter())
	var b strings.Builder
	b.WriteString("first line marker\n")
	for i := 0; i < 50; i++ {
		b.WriteString("repeated filler content about database connection pooling behavior\n")
	}
	b.WriteString("last line marker\n")

	reduced := r.Reduce(b.String(), 0)
	assert.True(t, strings.HasPrefix(reduced, "first line marker"))
	assert.True(t, strings.HasSuffix(reduced, "last line marker"))
}

func TestReduceEmitsKeywordBullets(t *testing.T) {
	r := NewReducer(GetTokenCounter())
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("partition rebalance dropped scheduler entries unexpectedly\n")
	}
	reduced := r.Reduce(b.String(), 0)
	assert.Contains(t, reduced, "- partition")
}

func TestTopKeywordsSkipsStopwords(t *testing.T) {
	kws := topKeywords("the the the database database connection", 5)
	require.NotEmpty(t, kws)
	assert.Equal(t, "database", kws[0])
	assert.NotContains(t, kws, "the")
}
