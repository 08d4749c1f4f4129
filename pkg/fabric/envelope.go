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
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teradata-labs/quench/pkg/types"
)

// RawPayloadKey holds the original payload text when JSON decoding
// fails on read. Malformed payloads degrade instead of failing so old
// producers stay readable.
const RawPayloadKey = "_raw"

// AutonomousSettings bounds an autonomous run.
type AutonomousSettings struct {
	MaxIterations int     `json:"max_iterations"`
	MaxHours      float64 `json:"max_hours"`
	MaxAgents     int     `json:"max_agents"`
}

// AutonomousRouting carries routing directives for autonomous replies.
type AutonomousRouting struct {
	DeliverToHuman   bool   `json:"deliver_to_human,omitempty"`
	Escalate         bool   `json:"escalate,omitempty"`
	Reason           string `json:"reason,omitempty"`
	RecoveryAttempts int    `json:"recovery_attempts,omitempty"`
}

// AutonomousControl carries imperative control actions from the human.
type AutonomousControl struct {
	Action string `json:"action"`
}

// EmergencyStopAction forces the runtime to halt an autonomous run.
const EmergencyStopAction = "emergency_stop"

// WorkspaceDescriptor identifies a shell/container workspace.
type WorkspaceDescriptor struct {
	WorkspaceID string    `json:"workspace_id"`
	Volume      string    `json:"volume,omitempty"`
	Container   string    `json:"container,omitempty"`
	MountPath   string    `json:"mount_path,omitempty"`
	Image       string    `json:"image,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Payload is the structured part of an envelope. A core set of keys is
// strongly typed; unknown keys round-trip through Extra.
type Payload struct {
	ChatID                string                 `json:"chat_id,omitempty"`
	TicketID              string                 `json:"ticket_id,omitempty"`
	ReplyTo               []string               `json:"reply_to,omitempty"`
	Supervisor            string                 `json:"supervisor,omitempty"`
	AutonomousSettings    *AutonomousSettings    `json:"autonomous_settings,omitempty"`
	Workspace             *WorkspaceDescriptor   `json:"workspace,omitempty"`
	Messages              []types.Message        `json:"messages,omitempty"`
	AutonomousRouting     *AutonomousRouting     `json:"autonomous_routing,omitempty"`
	AutonomousControl     *AutonomousControl     `json:"autonomous_control,omitempty"`
	State                 map[string]interface{} `json:"state,omitempty"`
	ExhaustionMode        string                 `json:"exhaustion_mode,omitempty"`
	ExhaustionProbability float64                `json:"exhaustion_probability,omitempty"`

	// Extra preserves unrecognized payload keys.
	Extra map[string]interface{} `json:"-"`
}

// payloadAlias avoids recursion in the custom JSON codec.
type payloadAlias Payload

var payloadKnownKeys = []string{
	"chat_id", "ticket_id", "reply_to", "supervisor",
	"autonomous_settings", "workspace", "messages",
	"autonomous_routing", "autonomous_control", "state",
	"exhaustion_mode", "exhaustion_probability",
}

// MarshalJSON renders known keys and merges Extra without clobbering
// typed fields.
func (p Payload) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(payloadAlias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range p.Extra {
		if _, ok := merged[k]; ok {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes known keys into typed fields and keeps the
// rest in Extra.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var alias payloadAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*p = Payload(alias)

	var all map[string]interface{}
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range payloadKnownKeys {
		delete(all, k)
	}
	if len(all) > 0 {
		p.Extra = all
	}
	return nil
}

// IsEmpty reports whether the payload carries nothing.
func (p Payload) IsEmpty() bool {
	raw, err := json.Marshal(p)
	return err == nil && string(raw) == "{}"
}

// Envelope is the atomic unit of inter-process communication.
type Envelope struct {
	Timestamp time.Time
	Sender    string
	Recipient string
	Message   string
	Payload   Payload

	// Extra preserves unrecognized stream fields on read.
	Extra map[string]string
}

// envelopeTimeFormat is ISO-8601 with seconds precision.
const envelopeTimeFormat = "2006-01-02T15:04:05Z07:00"

// NewEnvelope constructs an envelope stamped with the current time.
func NewEnvelope(sender, recipient, message string, payload Payload) *Envelope {
	return &Envelope{
		Timestamp: time.Now().Truncate(time.Second),
		Sender:    sender,
		Recipient: recipient,
		Message:   message,
		Payload:   payload,
	}
}

// ToFields renders the envelope to flat stream fields. The payload is
// serialized as a JSON string.
func (e *Envelope) ToFields() (map[string]string, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	fields := map[string]string{
		"timestamp": e.Timestamp.Truncate(time.Second).Format(envelopeTimeFormat),
		"sender":    e.Sender,
		"recipient": e.Recipient,
		"message":   e.Message,
		"payload":   string(payload),
	}
	for k, v := range e.Extra {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	return fields, nil
}

// EnvelopeFromFields decodes stream fields back into an envelope.
// Malformed payload JSON becomes {"_raw": <original>} rather than an
// error; unknown fields are preserved in Extra.
func EnvelopeFromFields(fields map[string]string) (*Envelope, error) {
	e := &Envelope{
		Sender:    fields["sender"],
		Recipient: fields["recipient"],
		Message:   fields["message"],
	}
	if ts := fields["timestamp"]; ts != "" {
		parsed, err := time.Parse(envelopeTimeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		e.Timestamp = parsed
	}
	if raw, ok := fields["payload"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Payload); err != nil {
			e.Payload = Payload{Extra: map[string]interface{}{RawPayloadKey: raw}}
		}
	}
	for k, v := range fields {
		switch k {
		case "timestamp", "sender", "recipient", "message", "payload":
		default:
			if e.Extra == nil {
				e.Extra = make(map[string]string)
			}
			e.Extra[k] = v
		}
	}
	return e, nil
}

// Send appends the envelope to its recipient's mailbox and returns the
// entry id.
func Send(ctx context.Context, s Stream, e *Envelope) (string, error) {
	fields, err := e.ToFields()
	if err != nil {
		return "", err
	}
	return s.Append(ctx, Mailbox(e.Recipient), fields)
}
