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

// Package runtime drives one agent or orchestrator process: mailbox
// intake, per-chat serialized graph invocations, checkpointing, and
// response fan-out.
package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/quench/internal/log"
	"github.com/teradata-labs/quench/pkg/checkpoint"
	"github.com/teradata-labs/quench/pkg/config"
	"github.com/teradata-labs/quench/pkg/fabric"
	"github.com/teradata-labs/quench/pkg/graph"
	"github.com/teradata-labs/quench/pkg/registry"
	"github.com/teradata-labs/quench/pkg/state"
	"github.com/teradata-labs/quench/pkg/supervisor"
	"github.com/teradata-labs/quench/pkg/types"
)

// Intake and transport tuning.
const (
	DefaultBlockTimeout      = 2 * time.Second
	DefaultBatchSize         = 32
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultDrainGrace        = 30 * time.Second

	sendRetries     = 3
	sendBackoff     = 200 * time.Millisecond
	tailReadBackoff = time.Second
	workerQueueSize = 16
)

// PhaseHaltedByHuman marks a chat stopped by an emergency-stop action.
const PhaseHaltedByHuman = "halted_by_human"

// Config assembles a Runtime.
type Config struct {
	Profile     Profile
	Stream      fabric.Stream
	Checkpoints checkpoint.Store
	Executor    *graph.Executor
	Gate        *supervisor.Gate

	// Registry is optional; when nil the process skips registration
	// and heartbeats.
	Registry *registry.Client
	Host     string
	Port     int

	Autonomy          config.AutonomyConfig
	StartupTimeout    time.Duration
	HeartbeatInterval time.Duration
	BlockTimeout      time.Duration
	BatchSize         int
	DrainGrace        time.Duration
}

// Runtime is one long-lived process attached to a mailbox.
type Runtime struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	workers  map[string]chan job
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup

	// pending holds dispatched mailbox entries in stream order until
	// their workers acknowledge them; the durable cursor only advances
	// over a contiguous processed prefix.
	ackMu   sync.Mutex
	pending []*entryAck

	fatalMu  sync.Mutex
	fatalErr error
	abort    context.CancelFunc
}

// job pairs an envelope with its mailbox entry id so the cursor can be
// acknowledged after processing rather than at dispatch.
type job struct {
	env     *fabric.Envelope
	entryID string
}

type entryAck struct {
	id   string
	done bool
}

// New creates a runtime for the given profile.
func New(cfg Config) *Runtime {
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = DefaultBlockTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = DefaultDrainGrace
	}
	return &Runtime{
		cfg: cfg,
		logger: log.With(
			zap.String("component", "runtime"),
			zap.String("identity", cfg.Profile.Identity)),
		workers:  make(map[string]chan job),
		inflight: make(map[string]context.CancelFunc),
	}
}

// Run registers the process, starts the heartbeat, and tails the
// mailbox until the context is cancelled or a fatal error occurs.
// Registration failure past the startup timeout is fatal.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.fatalMu.Lock()
	r.abort = cancel
	r.fatalMu.Unlock()

	if r.cfg.Registry != nil {
		_, err := r.cfg.Registry.RegisterWithRetry(ctx, registry.RegisterRequest{
			AgentID: r.cfg.Profile.Identity,
			Host:    r.cfg.Host,
			Port:    r.cfg.Port,
		}, r.cfg.StartupTimeout)
		if err != nil {
			return err
		}
		r.wg.Add(1)
		go r.heartbeatLoop(ctx)
	}

	r.intakeLoop(ctx)
	r.drain()

	r.fatalMu.Lock()
	defer r.fatalMu.Unlock()
	return r.fatalErr
}

// fail records the first fatal error and aborts the run.
func (r *Runtime) fail(err error) {
	r.fatalMu.Lock()
	defer r.fatalMu.Unlock()
	if r.fatalErr == nil {
		r.fatalErr = err
		r.logger.Error("fatal runtime error", zap.Error(err))
	}
	if r.abort != nil {
		r.abort()
	}
}

func (r *Runtime) heartbeatLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := r.cfg.Registry.Heartbeat(ctx, r.cfg.Profile.Identity,
				registry.HeartbeatRequest{Status: "healthy"})
			if err != nil && ctx.Err() == nil {
				r.logger.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}

// intakeLoop tails the mailbox and dispatches envelopes to per-chat
// workers. The durable cursor is acknowledged only after a worker
// finishes an entry, so a crash replays unprocessed envelopes and
// ticket dedup absorbs the rest. Transport errors back off and retry;
// they never kill the process.
func (r *Runtime) intakeLoop(ctx context.Context) {
	mailbox := fabric.Mailbox(r.cfg.Profile.Identity)
	cursor, err := r.cfg.Checkpoints.LoadCursor(ctx, r.cfg.Profile.Identity, mailbox)
	if err != nil {
		r.fail(err)
		return
	}
	if cursor == "" {
		cursor = fabric.CursorStart
	}

	for ctx.Err() == nil {
		batches, err := r.cfg.Stream.TailRead(ctx,
			map[string]string{mailbox: cursor}, r.cfg.BatchSize, r.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("mailbox read failed, backing off", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(tailReadBackoff):
			}
			continue
		}
		for _, batch := range batches {
			for _, entry := range batch.Entries {
				cursor = entry.ID
				r.trackEntry(entry.ID)
				env, err := fabric.EnvelopeFromFields(entry.Fields)
				if err != nil {
					r.logger.Warn("malformed envelope skipped",
						zap.String("entry_id", entry.ID), zap.Error(err))
					r.ackEntry(ctx, entry.ID)
					continue
				}
				r.dispatch(ctx, job{env: env, entryID: entry.ID})
			}
		}
	}
}

// dispatch hands the job to the chat's serial worker. An emergency
// stop additionally cancels the chat's in-flight graph invocation so
// the stop is not queued behind a long LLM call.
func (r *Runtime) dispatch(ctx context.Context, j job) {
	chatID := j.env.Payload.ChatID
	if chatID == "" {
		chatID = "-"
	}

	r.mu.Lock()
	if isEmergencyStop(j.env) {
		if cancel, ok := r.inflight[chatID]; ok {
			cancel()
		}
	}
	ch, ok := r.workers[chatID]
	if !ok {
		ch = make(chan job, workerQueueSize)
		r.workers[chatID] = ch
		r.wg.Add(1)
		go r.chatWorker(ctx, chatID, ch)
	}
	r.mu.Unlock()

	select {
	case ch <- j:
	case <-ctx.Done():
	}
}

// chatWorker processes one chat's envelopes strictly in order. An
// entry is acknowledged only after its processing completes; a
// cancelled job stays unacknowledged so it replays after a restart.
func (r *Runtime) chatWorker(ctx context.Context, chatID string, ch chan job) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-ch:
			jobCtx, cancel := context.WithCancel(ctx)
			r.mu.Lock()
			r.inflight[chatID] = cancel
			r.mu.Unlock()

			if err := r.process(jobCtx, chatID, j.env); err != nil {
				r.logger.Warn("envelope processing failed",
					zap.String("chat_id", chatID),
					zap.String("sender", j.env.Sender),
					zap.Error(err))
			}
			aborted := jobCtx.Err() != nil

			r.mu.Lock()
			delete(r.inflight, chatID)
			r.mu.Unlock()
			cancel()

			if !aborted {
				r.ackEntry(ctx, j.entryID)
			}
		}
	}
}

// trackEntry records a dispatched entry awaiting acknowledgment.
func (r *Runtime) trackEntry(id string) {
	r.ackMu.Lock()
	r.pending = append(r.pending, &entryAck{id: id})
	r.ackMu.Unlock()
}

// ackEntry marks the entry processed and persists the cursor at the
// highest contiguous processed entry. Workers finish out of order
// across chats; the cursor never moves past an unprocessed entry.
func (r *Runtime) ackEntry(ctx context.Context, id string) {
	r.ackMu.Lock()
	defer r.ackMu.Unlock()
	for _, p := range r.pending {
		if p.id == id {
			p.done = true
			break
		}
	}
	var cursor string
	for len(r.pending) > 0 && r.pending[0].done {
		cursor = r.pending[0].id
		r.pending = r.pending[1:]
	}
	if cursor == "" {
		return
	}
	mailbox := fabric.Mailbox(r.cfg.Profile.Identity)
	if err := r.cfg.Checkpoints.SaveCursor(ctx,
		r.cfg.Profile.Identity, mailbox, cursor); err != nil && ctx.Err() == nil {
		r.fail(err)
	}
}

// drain waits for in-flight envelopes up to the grace deadline.
func (r *Runtime) drain() {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.cfg.DrainGrace):
		r.logger.Warn("drain grace expired, abandoning in-flight work")
	}
}

func isEmergencyStop(env *fabric.Envelope) bool {
	return env.Payload.AutonomousControl != nil &&
		env.Payload.AutonomousControl.Action == fabric.EmergencyStopAction
}

// dedupKey identifies one logical envelope for replay suppression.
func dedupKey(env *fabric.Envelope) string {
	if env.Payload.TicketID == "" {
		return ""
	}
	return env.Sender + "/" + env.Payload.TicketID
}

// emitAutonomousEvent publishes a control event on the shared
// autonomous events stream. Best effort; intake must not stall on
// observability.
func (r *Runtime) emitAutonomousEvent(ctx context.Context, event, chatID string, detail map[string]string) {
	fields := map[string]string{
		"event":     event,
		"chat_id":   chatID,
		"identity":  r.cfg.Profile.Identity,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range detail {
		fields[k] = v
	}
	if _, err := r.cfg.Stream.Append(ctx, fabric.AutonomousEventsStream, fields); err != nil {
		r.logger.Warn("autonomous event append failed",
			zap.String("event", event), zap.Error(err))
	}
}

// process runs the full per-envelope pipeline: state restoration,
// dedup, guards, graph invocation, checkpoint, fan-out.
func (r *Runtime) process(ctx context.Context, chatID string, env *fabric.Envelope) error {
	st, err := r.cfg.Checkpoints.LoadChat(ctx, chatID)
	if err != nil {
		r.fail(err)
		return err
	}
	if st == nil {
		st = state.NewChatState(chatID)
	}
	if st.Originator == "" && env.Sender != "" &&
		env.Sender != r.cfg.Profile.Identity &&
		env.Sender != fabric.RecipientSupervisor &&
		!fabric.ValidAgentID(env.Sender) {
		st.Originator = env.Sender
	}

	// Replayed tickets must not produce duplicate visible side
	// effects. The key includes the sender because a delegated reply
	// legitimately carries the same correlation ticket.
	ticket := dedupKey(env)
	if ticket != "" && st.ProcessedTickets[ticket] {
		r.logger.Info("duplicate ticket suppressed",
			zap.String("chat_id", chatID), zap.String("ticket_id", env.Payload.TicketID))
		return nil
	}

	if isEmergencyStop(env) {
		return r.handleEmergencyStop(ctx, st, env)
	}

	if env.Sender == fabric.RecipientSupervisor && r.cfg.Gate != nil {
		return r.handleSupervisor(ctx, st, env)
	}

	if env.Payload.AutonomousSettings != nil {
		st.AutonomousSettings = env.Payload.AutonomousSettings
		if st.AutonomousStartedAt.IsZero() {
			st.AutonomousStartedAt = time.Now()
		}
	}
	if tripped, reason := r.guardrailTripped(st); tripped {
		return r.handleGuardrail(ctx, st, env, reason)
	}
	if st.AutonomousSettings != nil {
		st.AutonomyCounters.IterationCount++
	}

	var inbound []types.Message
	if env.Message != "" {
		inbound = append(inbound, types.NewHumanMessage(env.Message))
	}

	baseline := len(st.Messages)
	ctx = graph.WithDeps(ctx, &graph.Deps{
		Checkpoints: r.cfg.Checkpoints,
		Registry:    r.cfg.Registry,
		Stream:      r.cfg.Stream,
	})
	res, err := r.cfg.Executor.Invoke(ctx, st, inbound)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Aborted between nodes; the checkpoint is not written
			// and the entry stays unacknowledged so the envelope
			// replays after a restart.
			r.logger.Info("graph invocation aborted",
				zap.String("chat_id", chatID))
			return nil
		}
		return err
	}

	if ticket != "" {
		st.ProcessedTickets[ticket] = true
	}
	if err := r.cfg.Checkpoints.SaveChat(ctx, st); err != nil {
		r.fail(err)
		return err
	}

	return r.fanOut(ctx, st, env, res.Reply.Content, st.Messages[baseline:])
}

// handleSupervisor runs the gate. Schema violations already produced
// feedback to the supervisor and must not advance or persist state.
func (r *Runtime) handleSupervisor(ctx context.Context, st *state.ChatState, env *fabric.Envelope) error {
	res, err := r.cfg.Gate.HandleRejection(ctx, st, env)
	if err != nil {
		return err
	}
	if res.SchemaError {
		return nil
	}
	if key := dedupKey(env); key != "" {
		st.ProcessedTickets[key] = true
	}
	if err := r.cfg.Checkpoints.SaveChat(ctx, st); err != nil {
		r.fail(err)
		return err
	}
	return nil
}

// guardrailTripped applies the autonomous iteration and wall-clock
// limits. Settings from the envelope fall back to the configured
// defaults.
func (r *Runtime) guardrailTripped(st *state.ChatState) (bool, string) {
	if st.AutonomousSettings == nil {
		return false, ""
	}
	maxIter := st.AutonomousSettings.MaxIterations
	if maxIter <= 0 {
		maxIter = r.cfg.Autonomy.MaxIterations
	}
	if maxIter > 0 && st.AutonomyCounters.IterationCount >= maxIter {
		return true, "max_iterations"
	}

	maxHours := st.AutonomousSettings.MaxHours
	if maxHours <= 0 && r.cfg.Autonomy.MaxHours > 0 {
		maxHours = r.cfg.Autonomy.MaxHours.Hours()
	}
	if maxHours > 0 && !st.AutonomousStartedAt.IsZero() &&
		time.Since(st.AutonomousStartedAt).Hours() >= maxHours {
		return true, "max_hours"
	}
	return false, ""
}

// handleGuardrail escalates to the human and stops the protocol
// without invoking the graph.
func (r *Runtime) handleGuardrail(ctx context.Context, st *state.ChatState, env *fabric.Envelope, reason string) error {
	st.AppendTelemetry("guardrail_trigger", map[string]interface{}{
		"reason":          reason,
		"iteration_count": st.AutonomyCounters.IterationCount,
	})
	r.logger.Warn("autonomous guardrail tripped",
		zap.String("chat_id", st.ChatID), zap.String("reason", reason))
	r.emitAutonomousEvent(ctx, "guardrail_trigger", st.ChatID,
		map[string]string{"reason": reason})

	routing := &fabric.AutonomousRouting{Escalate: true, Reason: reason}
	if err := r.cfg.Checkpoints.SaveChat(ctx, st); err != nil {
		r.fail(err)
		return err
	}
	out := fabric.NewEnvelope(r.cfg.Profile.Identity, fabric.RecipientHuman,
		"Autonomous run stopped: "+reason+" limit reached.", fabric.Payload{
			ChatID:            st.ChatID,
			TicketID:          env.Payload.TicketID,
			AutonomousRouting: routing,
			ExhaustionMode:    string(st.ExhaustionMode),
		})
	return r.send(ctx, out)
}

// handleEmergencyStop halts the chat, bypasses the graph, and routes
// exactly one envelope to the human.
func (r *Runtime) handleEmergencyStop(ctx context.Context, st *state.ChatState, env *fabric.Envelope) error {
	st.CurrentPhase = PhaseHaltedByHuman
	st.AppendTelemetry("emergency_stop", map[string]interface{}{
		"sender": env.Sender,
	})
	r.emitAutonomousEvent(ctx, "emergency_stop", st.ChatID,
		map[string]string{"sender": env.Sender})
	if key := dedupKey(env); key != "" {
		st.ProcessedTickets[key] = true
	}
	if err := r.cfg.Checkpoints.SaveChat(ctx, st); err != nil {
		r.fail(err)
		return err
	}

	out := fabric.NewEnvelope(r.cfg.Profile.Identity, fabric.RecipientHuman,
		"Autonomous run halted by human.", fabric.Payload{
			ChatID:            st.ChatID,
			TicketID:          env.Payload.TicketID,
			AutonomousRouting: &fabric.AutonomousRouting{Escalate: true, Reason: "emergency_stop"},
			State:             map[string]interface{}{"current_phase": PhaseHaltedByHuman},
		})
	return r.send(ctx, out)
}

// fanOut routes the assistant reply to the profile's recipients.
func (r *Runtime) fanOut(ctx context.Context, st *state.ChatState, env *fabric.Envelope, reply string, trace []types.Message) error {
	routing := env.Payload.AutonomousRouting
	recipients := r.cfg.Profile.ResolveRecipients(env, routing, st.Originator)

	var firstErr error
	for _, recipient := range recipients {
		out := fabric.NewEnvelope(r.cfg.Profile.Identity, recipient, reply, fabric.Payload{
			ChatID:                st.ChatID,
			TicketID:              env.Payload.TicketID,
			Messages:              trace,
			AutonomousRouting:     routing,
			ExhaustionMode:        string(st.ExhaustionMode),
			ExhaustionProbability: st.ExhaustionProbability,
		})
		if err := r.send(ctx, out); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// send appends with a small retry; mailbox writes are transient
// transport and never fatal.
func (r *Runtime) send(ctx context.Context, env *fabric.Envelope) error {
	var err error
	backoff := sendBackoff
	for attempt := 0; attempt < sendRetries; attempt++ {
		if _, err = fabric.Send(ctx, r.cfg.Stream, env); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		r.logger.Warn("mailbox append failed, retrying",
			zap.String("recipient", env.Recipient), zap.Error(err))
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
