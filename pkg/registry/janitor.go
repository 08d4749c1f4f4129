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
package registry

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
)

// Janitor periodically sweeps stale agent records on a cron schedule.
type Janitor struct {
	registry *Registry
	cron     *cron.Cron
	logger   *zap.Logger
}

// NewJanitor creates a janitor with the given cron schedule spec, e.g.
// "@every 1m".
func NewJanitor(registry *Registry, schedule string) (*Janitor, error) {
	j := &Janitor{
		registry: registry,
		cron:     cron.New(),
		logger:   log.With(zap.String("component", "registry_janitor")),
	}
	if _, err := j.cron.AddFunc(schedule, j.sweep); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins the sweep schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) sweep() {
	n, err := j.registry.SweepStale(context.Background())
	if err != nil {
		j.logger.Error("stale sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		j.logger.Info("marked stale agents unhealthy", zap.Int64("count", n))
	}
}
