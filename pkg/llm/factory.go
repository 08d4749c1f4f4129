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
package llm

import (
	"fmt"
	"os"

	"github.com/teradata-labs/quench/pkg/config"
	"github.com/teradata-labs/quench/pkg/llm/anthropic"
	"github.com/teradata-labs/quench/pkg/types"
)

// New constructs the provider named by the configuration. The API key
// falls back to ANTHROPIC_API_KEY when not set in config.
func New(cfg config.LLMConfig) (types.LLMProvider, error) {
	switch cfg.Provider {
	case "", "anthropic":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key (llm.api_key or ANTHROPIC_API_KEY)")
		}
		return anthropic.NewClient(anthropic.Config{
			APIKey:      apiKey,
			Model:       cfg.Model,
			Endpoint:    cfg.Endpoint,
			Timeout:     cfg.Timeout,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}), nil

	case "fake":
		return NewFake(), nil

	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
