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
package graph

import (
	"context"

	"github.com/teradata-labs/quench/pkg/checkpoint"
	"github.com/teradata-labs/quench/pkg/fabric"
	"github.com/teradata-labs/quench/pkg/registry"
)

// Deps carries the shared runtime dependencies through node
// invocations. They travel in the context instead of process-wide
// globals so tests can swap them per invocation.
type Deps struct {
	Checkpoints checkpoint.Store
	Registry    *registry.Client
	Stream      fabric.Stream
}

type depsKey struct{}

// WithDeps attaches the dependencies to the context.
func WithDeps(ctx context.Context, deps *Deps) context.Context {
	return context.WithValue(ctx, depsKey{}, deps)
}

// DepsFrom returns the attached dependencies, or nil.
func DepsFrom(ctx context.Context) *Deps {
	deps, _ := ctx.Value(depsKey{}).(*Deps)
	return deps
}
