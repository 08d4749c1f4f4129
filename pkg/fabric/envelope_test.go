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
package fabric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := NewEnvelope("orchestrator", "agent-a1b2c3d4", "run the tests", Payload{
		ChatID:     "c1",
		TicketID:   "t-42",
		ReplyTo:    []string{"human"},
		Supervisor: "supervisor",
		AutonomousRouting: &AutonomousRouting{
			DeliverToHuman: true,
			Reason:         "direct response",
		},
		ExhaustionMode:        "NONE",
		ExhaustionProbability: 0.25,
	})

	fields, err := env.ToFields()
	require.NoError(t, err)
	assert.Equal(t, "orchestrator", fields["sender"])
	assert.Equal(t, "agent-a1b2c3d4", fields["recipient"])

	decoded, err := EnvelopeFromFields(fields)
	require.NoError(t, err)
	assert.Equal(t, env.Sender, decoded.Sender)
	assert.Equal(t, env.Recipient, decoded.Recipient)
	assert.Equal(t, env.Message, decoded.Message)
	assert.True(t, env.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, env.Payload.ChatID, decoded.Payload.ChatID)
	assert.Equal(t, env.Payload.TicketID, decoded.Payload.TicketID)
	assert.Equal(t, env.Payload.ReplyTo, decoded.Payload.ReplyTo)
	require.NotNil(t, decoded.Payload.AutonomousRouting)
	assert.True(t, decoded.Payload.AutonomousRouting.DeliverToHuman)
	assert.InDelta(t, 0.25, decoded.Payload.ExhaustionProbability, 1e-9)
}

func TestEnvelopeTimestampSecondsPrecision(t *testing.T) {
	env := NewEnvelope("a", "b", "m", Payload{})
	env.Timestamp = time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)

	fields, err := env.ToFields()
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14T15:09:26Z", fields["timestamp"])
}

func TestEnvelopeMalformedPayloadBecomesRaw(t *testing.T) {
	decoded, err := EnvelopeFromFields(map[string]string{
		"timestamp": "2026-01-02T03:04:05Z",
		"sender":    "human",
		"recipient": "orchestrator",
		"message":   "hello",
		"payload":   `{"chat_id": "c1", broken`,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"chat_id": "c1", broken`, decoded.Payload.Extra[RawPayloadKey])
	assert.Empty(t, decoded.Payload.ChatID)
}

func TestEnvelopeUnknownFieldsPreserved(t *testing.T) {
	decoded, err := EnvelopeFromFields(map[string]string{
		"sender":    "human",
		"recipient": "orchestrator",
		"message":   "hi",
		"payload":   `{}`,
		"trace_id":  "abc123",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", decoded.Extra["trace_id"])

	fields, err := decoded.ToFields()
	require.NoError(t, err)
	assert.Equal(t, "abc123", fields["trace_id"])
}

func TestPayloadUnknownKeysRoundTrip(t *testing.T) {
	raw := `{"chat_id":"c9","custom_hint":{"depth":3},"another":"x"}`
	var p Payload
	require.NoError(t, p.UnmarshalJSON([]byte(raw)))
	assert.Equal(t, "c9", p.ChatID)
	assert.Contains(t, p.Extra, "custom_hint")
	assert.Equal(t, "x", p.Extra["another"])

	out, err := p.MarshalJSON()
	require.NoError(t, err)
	var back Payload
	require.NoError(t, back.UnmarshalJSON(out))
	assert.Equal(t, "c9", back.ChatID)
	assert.Equal(t, "x", back.Extra["another"])
}

func TestMailboxNaming(t *testing.T) {
	assert.Equal(t, "qc:mailbox/orchestrator", Mailbox(RecipientOrchestrator))
	assert.Equal(t, "human", RecipientFromMailbox("qc:mailbox/human"))
	assert.Equal(t, "qc:workspace:ws-1:events", WorkspaceEventsStream("ws-1"))
}

func TestNewAgentID(t *testing.T) {
	for i := 0; i < 32; i++ {
		id := NewAgentID()
		assert.True(t, ValidAgentID(id), "generated id %q must match pattern", id)
	}
	assert.False(t, ValidAgentID("agent-XYZ"))
	assert.False(t, ValidAgentID("agent-a1b2c3d45"))
	assert.False(t, ValidAgentID("worker-a1b2c3d4"))
}
