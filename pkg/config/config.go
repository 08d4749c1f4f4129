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

// Package config loads runtime configuration from YAML files and
// QUENCH_-prefixed environment variables via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for a quench process.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Fabric     FabricConfig     `mapstructure:"fabric"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Context    ContextConfig    `mapstructure:"context"`
	Autonomy   AutonomyConfig   `mapstructure:"autonomous"`
	PRP        PRPConfig        `mapstructure:"prp"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Workspace  WorkspaceConfig  `mapstructure:"workspace"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FabricConfig selects and configures the messaging fabric backend.
type FabricConfig struct {
	// Backend is "memory" or "redis".
	Backend string `mapstructure:"backend"`

	// RedisAddr is the Redis endpoint for the redis backend.
	RedisAddr string `mapstructure:"redis_addr"`

	// RedisDB selects the Redis logical database.
	RedisDB int `mapstructure:"redis_db"`
}

// RegistryConfig configures the agent registry server and client.
type RegistryConfig struct {
	// BaseURL is the registry endpoint used by runtime processes.
	BaseURL string `mapstructure:"base_url"`

	// ListenAddr is the bind address for the registry server.
	ListenAddr string `mapstructure:"listen_addr"`

	// DBPath is the sqlite database path for the registry table.
	DBPath string `mapstructure:"db_path"`

	// AgentTimeout bounds heartbeat staleness for effective health.
	AgentTimeout time.Duration `mapstructure:"agent_timeout"`

	// StartupTimeout bounds registration retries at process start.
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`

	// HeartbeatInterval is the background heartbeat period.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// JanitorSchedule is the cron spec for the stale-agent sweep.
	JanitorSchedule string `mapstructure:"janitor_schedule"`
}

// ContextConfig configures the context engine.
type ContextConfig struct {
	TargetContextSize  int     `mapstructure:"target_context_size"`
	OptimalContextSize int     `mapstructure:"optimal_context_size"`
	ContextWindowMax   int     `mapstructure:"context_window_max"`
	QualityThreshold   float64 `mapstructure:"quality_threshold"`

	MaxToolPayloadChars int `mapstructure:"max_tool_payload_chars"`
	ReducerTargetTokens int `mapstructure:"reducer_target_tokens"`

	ExternalizeWriteEnabled bool   `mapstructure:"externalize_write_enabled"`
	ExternalMemoryPath      string `mapstructure:"external_memory_path"`

	// SkillsPath is the on-disk skill catalog consulted by the
	// progressive loader.
	SkillsPath string `mapstructure:"skills_path"`

	Reset ContextResetConfig `mapstructure:"reset"`
}

// ContextResetConfig configures transcript resets.
type ContextResetConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Root          string `mapstructure:"root"`
	TriggerTokens int    `mapstructure:"trigger_tokens"`
	KeepTurns     int    `mapstructure:"keep_turns"`
	MinUserTurns  int    `mapstructure:"min_user_turns"`
}

// AutonomyConfig bounds autonomous runs.
type AutonomyConfig struct {
	MaxIterations int           `mapstructure:"max_iterations"`
	MaxHours      time.Duration `mapstructure:"max_hours"`
	MaxAgents     int           `mapstructure:"max_agents"`
}

// PRPConfig configures the refinement protocol.
type PRPConfig struct {
	// ExhaustionThreshold is the predictor probability above which the
	// next transition is forced through HYPOTHESIZE.
	ExhaustionThreshold float64 `mapstructure:"exhaustion_threshold"`

	// NoveltyThreshold rejects near-duplicate hypotheses without a
	// strategy change.
	NoveltyThreshold float64 `mapstructure:"novelty_threshold"`
}

// LLMConfig configures the LLM provider.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	Endpoint    string        `mapstructure:"endpoint"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// WorkspaceConfig configures the Docker workspace manager.
type WorkspaceConfig struct {
	Image     string `mapstructure:"image"`
	MountPath string `mapstructure:"mount_path"`
}

// CheckpointConfig selects the chat-state checkpoint backend.
type CheckpointConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `mapstructure:"backend"`

	// DBPath is the sqlite database path for the sqlite backend.
	DBPath string `mapstructure:"db_path"`
}

// Load reads configuration from the given file (optional) and the
// environment, applying defaults for every tunable.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("QUENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	cfg, _ := Load("")
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("fabric.backend", "memory")
	v.SetDefault("fabric.redis_addr", "localhost:6379")
	v.SetDefault("fabric.redis_db", 0)

	v.SetDefault("registry.base_url", "http://localhost:8500")
	v.SetDefault("registry.listen_addr", ":8500")
	v.SetDefault("registry.db_path", "quench-registry.db")
	v.SetDefault("registry.agent_timeout", 90*time.Second)
	v.SetDefault("registry.startup_timeout", 60*time.Second)
	v.SetDefault("registry.heartbeat_interval", 30*time.Second)
	v.SetDefault("registry.janitor_schedule", "@every 1m")

	v.SetDefault("context.target_context_size", 120000)
	v.SetDefault("context.optimal_context_size", 80000)
	v.SetDefault("context.context_window_max", 200000)
	v.SetDefault("context.quality_threshold", 0.55)
	v.SetDefault("context.max_tool_payload_chars", 16000)
	v.SetDefault("context.reducer_target_tokens", 400)
	v.SetDefault("context.externalize_write_enabled", true)
	v.SetDefault("context.external_memory_path", "quench-external")
	v.SetDefault("context.skills_path", "skills")
	v.SetDefault("context.reset.enabled", true)
	v.SetDefault("context.reset.root", "quench-resets")
	v.SetDefault("context.reset.trigger_tokens", 160000)
	v.SetDefault("context.reset.keep_turns", 3)
	v.SetDefault("context.reset.min_user_turns", 4)

	v.SetDefault("autonomous.max_iterations", 50)
	v.SetDefault("autonomous.max_hours", 8*time.Hour)
	v.SetDefault("autonomous.max_agents", 8)

	v.SetDefault("prp.exhaustion_threshold", 0.6)
	v.SetDefault("prp.novelty_threshold", 0.25)

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("llm.endpoint", "https://api.anthropic.com/v1/messages")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.temperature", 1.0)
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("workspace.image", "quench-workspace:latest")
	v.SetDefault("workspace.mount_path", "/workspace")

	v.SetDefault("checkpoint.backend", "sqlite")
	v.SetDefault("checkpoint.db_path", "quench-checkpoints.db")
}
