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
package runtime

import (
	"github.com/teradata-labs/quench/pkg/fabric"
)

// Profile fixes the identity, prompt, and routing policy of one
// runtime process.
type Profile struct {
	// Identity is the mailbox recipient this process tails.
	Identity string

	// SystemPrompt is the base prompt handed to the graph driver.
	SystemPrompt string

	// Autonomous selects the autonomous routing policy: replies avoid
	// the human unless the envelope or routing directives ask for it.
	Autonomous bool
}

const orchestratorPrompt = `You are the orchestrator of a multi-agent platform.
You decompose tasks, delegate work to spawned agents, and iterate on
hypotheses until the supervisor approves. Use the registered tools to
record hypotheses, test results, and workspace operations. Never claim
completion without a recorded passing test suite.`

const agentPrompt = `You are a worker agent. Execute the delegated task using the
registered tools and report the result back to your caller. Be concise
and factual.`

// OrchestratorProfile is the central coordinating process.
func OrchestratorProfile() Profile {
	return Profile{
		Identity:     fabric.RecipientOrchestrator,
		SystemPrompt: orchestratorPrompt,
		Autonomous:   true,
	}
}

// AgentProfile is a spawned worker process.
func AgentProfile(agentID string) Profile {
	return Profile{
		Identity:     agentID,
		SystemPrompt: agentPrompt,
	}
}

// ResolveRecipients computes the reply fan-out for one processed
// envelope. reply_to wins when present. An agent reply completing a
// delegation routes back to the chat's originator; anything else goes
// back to the sender. Under the autonomous policy the human is
// excluded unless the routing directives deliver or escalate, or the
// envelope is a direct response to a human-originated ticket.
func (p Profile) ResolveRecipients(env *fabric.Envelope, routing *fabric.AutonomousRouting, originator string) []string {
	base := env.Payload.ReplyTo
	if len(base) == 0 {
		switch {
		case fabric.ValidAgentID(env.Sender) && originator != "" && originator != p.Identity:
			base = []string{originator}
		case env.Sender != "" && env.Sender != p.Identity:
			base = []string{env.Sender}
		}
	}

	if !p.Autonomous {
		return base
	}

	humanOK := env.Sender == fabric.RecipientHuman ||
		(originator == fabric.RecipientHuman && fabric.ValidAgentID(env.Sender)) ||
		(routing != nil && (routing.DeliverToHuman || routing.Escalate))

	var out []string
	for _, r := range base {
		if r == fabric.RecipientHuman && !humanOK {
			continue
		}
		out = append(out, r)
	}
	return out
}
