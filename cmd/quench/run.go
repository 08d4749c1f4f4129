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
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
	"github.com/teradata-labs/quench/pkg/checkpoint"
	"github.com/teradata-labs/quench/pkg/contextengine"
	"github.com/teradata-labs/quench/pkg/fabric"
	"github.com/teradata-labs/quench/pkg/graph"
	"github.com/teradata-labs/quench/pkg/ledger"
	"github.com/teradata-labs/quench/pkg/llm"
	"github.com/teradata-labs/quench/pkg/prp"
	"github.com/teradata-labs/quench/pkg/registry"
	"github.com/teradata-labs/quench/pkg/runtime"
	"github.com/teradata-labs/quench/pkg/supervisor"
	"github.com/teradata-labs/quench/pkg/tools"
	"github.com/teradata-labs/quench/pkg/workspace"
)

var (
	runHost string
	runPort int
)

var orchestratorCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Run the orchestrator process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProcess(cmd.Context(), runtime.OrchestratorProfile())
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent [agent-id]",
	Short: "Run a worker agent process",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID := fabric.NewAgentID()
		if len(args) == 1 {
			agentID = args[0]
			if !fabric.ValidAgentID(agentID) {
				return fmt.Errorf("invalid agent id %q (want agent-<8 hex>)", agentID)
			}
		}
		return runProcess(cmd.Context(), runtime.AgentProfile(agentID))
	},
}

func init() {
	for _, c := range []*cobra.Command{orchestratorCmd, agentCmd} {
		c.Flags().StringVar(&runHost, "host", "localhost", "Advertised host for registry records")
		c.Flags().IntVar(&runPort, "port", 0, "Advertised port for registry records")
	}
}

// runProcess wires one runtime process from configuration and blocks
// until a termination signal or a fatal error.
func runProcess(ctx context.Context, profile runtime.Profile) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream, err := buildStream(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	store, err := buildCheckpoints()
	if err != nil {
		return err
	}
	defer store.Close()

	provider, err := llm.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm binding: %w", err)
	}

	machine := prp.NewMachine()
	gate, err := supervisor.NewGate(machine, stream, profile.Identity)
	if err != nil {
		return err
	}

	reg := tools.NewRegistry()
	tools.RegisterLedgerTools(reg, ledger.New(cfg.PRP.NoveltyThreshold))
	tools.RegisterTestTools(reg)
	tools.RegisterFinalReviewTool(reg, gate)
	if mgr, err := workspace.Connect(ctx, stream, cfg.Workspace); err != nil {
		log.Warn("docker unavailable, workspace tools disabled", zap.Error(err))
	} else {
		defer mgr.Close()
		tools.RegisterWorkspaceTools(reg, mgr)
	}

	catalog := contextengine.NewSkillCatalog(cfg.Context.SkillsPath)
	engine := contextengine.NewEngine(cfg.Context, provider, catalog, stream)

	executor := graph.NewExecutor(graph.Config{
		Engine:       engine,
		Provider:     provider,
		Tools:        reg,
		Machine:      machine,
		Predictor:    prp.NewPredictor(cfg.PRP.ExhaustionThreshold),
		SystemPrompt: profile.SystemPrompt,
	})

	rt := runtime.New(runtime.Config{
		Profile:           profile,
		Stream:            stream,
		Checkpoints:       store,
		Executor:          executor,
		Gate:              gate,
		Registry:          registry.NewClient(cfg.Registry.BaseURL),
		Host:              runHost,
		Port:              runPort,
		Autonomy:          cfg.Autonomy,
		StartupTimeout:    cfg.Registry.StartupTimeout,
		HeartbeatInterval: cfg.Registry.HeartbeatInterval,
	})

	log.Info("process starting",
		zap.String("identity", profile.Identity),
		zap.String("model", provider.Model()))
	return rt.Run(ctx)
}

func buildStream(ctx context.Context) (fabric.Stream, error) {
	switch cfg.Fabric.Backend {
	case "", "memory":
		return fabric.NewMemoryStream(), nil
	case "redis":
		return fabric.NewRedisStream(ctx, cfg.Fabric.RedisAddr, cfg.Fabric.RedisDB)
	default:
		return nil, fmt.Errorf("unknown fabric backend %q", cfg.Fabric.Backend)
	}
}

func buildCheckpoints() (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "memory":
		return checkpoint.NewMemoryStore(), nil
	case "", "sqlite":
		return checkpoint.NewSQLiteStore(cfg.Checkpoint.DBPath)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}
