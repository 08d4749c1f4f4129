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
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
	"github.com/teradata-labs/quench/pkg/registry"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Run the agent registry server",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := registry.NewRegistry(cfg.Registry.DBPath, cfg.Registry.AgentTimeout)
		if err != nil {
			return err
		}
		defer reg.Close()

		janitor, err := registry.NewJanitor(reg, cfg.Registry.JanitorSchedule)
		if err != nil {
			return err
		}
		janitor.Start()
		defer janitor.Stop()

		log.Info("registry listening",
			zap.String("addr", cfg.Registry.ListenAddr),
			zap.String("db", cfg.Registry.DBPath))
		return registry.NewServer(reg).ListenAndServe(cfg.Registry.ListenAddr)
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List registered agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		healthyOnly, _ := cmd.Flags().GetBool("healthy")
		hotpathOnly, _ := cmd.Flags().GetBool("hotpath")

		client := registry.NewClient(cfg.Registry.BaseURL)
		agents, err := client.List(cmd.Context(), registry.ListOptions{
			HealthyOnly: healthyOnly,
			HotpathOnly: hotpathOnly,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tHOST\tPORT\tSTATUS\tHOTPATH\tLAST HEARTBEAT")
		for _, a := range agents {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%v\t%s\n",
				a.AgentID, a.Host, a.Port, a.Status, a.Hotpath,
				a.LastHeartbeat.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	agentsCmd.Flags().Bool("healthy", false, "Only effectively healthy agents")
	agentsCmd.Flags().Bool("hotpath", false, "Only hotpath agents")
}
