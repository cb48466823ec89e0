// Package orchestrator implements the Run Orchestrator (spec.md §4.1): the
// single entry point that resolves an agent config, opens a Run Context,
// drives either the local or hosted-assistant step loop to completion, and
// guarantees exactly one terminal frame per run.
//
// Grounded on agents/runtime's top-level Runtime.Execute shape (resolve
// config → persist run → open context → drive loop → emit terminal →
// release context) generalized from the teacher's single hosted-assistant
// flavor into spec.md's two interchangeable flavors sharing one contract.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/advantch/agentrun/connmanager"
	"github.com/advantch/agentrun/core"
	"github.com/advantch/agentrun/dispatcher"
	"github.com/advantch/agentrun/memory"
	"github.com/advantch/agentrun/model"
	"github.com/advantch/agentrun/model/openai"
	"github.com/advantch/agentrun/runctx"
	"github.com/advantch/agentrun/store"
	"github.com/advantch/agentrun/telemetry"
	"github.com/advantch/agentrun/tools"
	"github.com/advantch/agentrun/tools/toolrunner"
)

// genericFailureMessage is the user-facing text emitted on any run-fatal
// failure, per spec.md §7.
const genericFailureMessage = "Something went wrong, please try again later."

// genericCancelMessage is the user-facing text emitted when a run is
// cancelled, either by an explicit stop signal or by exhausting its step
// budget (spec.md §7 "Cancellation"/"Budget exhaustion").
const genericCancelMessage = "This run was cancelled."

// Trigger is the caller-supplied input that starts a run (spec.md §4.1's
// `execute(trigger, stores, sink)`).
type Trigger struct {
	// ThreadID selects an existing thread to continue, or "" to start a
	// new one.
	ThreadID string
	TenantID string
	AgentID  string
	// ChannelID identifies the Connection Manager channel the Dispatcher
	// broadcasts frames on for this run.
	ChannelID string
	// UserText is the triggering user message content.
	UserText string
	// Attachments lists file/image references accompanying the trigger
	// message.
	Attachments []core.Attachment
	Tags        []string
}

// ErrUnknownAgent is returned at entry dispatch when trigger.AgentID does
// not resolve to a configured agent; no Run is persisted (spec.md §7
// "Configuration errors").
var ErrUnknownAgent = errors.New("orchestrator: unknown agent")

// AssistantRunner is the subset of *openai.Runner the hosted flavor drives,
// narrowed to an interface so tests can substitute a fake run stream
// without constructing a real Assistants-API SSE decoder.
type AssistantRunner interface {
	CreateThread(ctx context.Context) (string, error)
	Start(ctx context.Context, threadID, userText, instructions string, tools []model.ToolDefinition, attachments []core.Attachment) (openai.RunStreamer, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []openai.ToolOutput) (openai.RunStreamer, error)
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Orchestrator wires together every collaborator the Run Orchestrator
// needs: stores, the tool registry/runner, a model client for the local
// flavor, an Assistants-API runner for the hosted flavor, the Connection
// Manager backing the Dispatcher, the ambient-context registry, and
// telemetry.
type Orchestrator struct {
	Stores       store.Stores
	Tools        *tools.Registry
	ToolRunner   *toolrunner.Runner
	Model        model.Client
	Assistant    AssistantRunner
	Manager      connmanager.Manager
	Registry     *runctx.Registry
	Telemetry    telemetry.Bundle
	// TimeSource reports the current time, overridable in tests; defaults
	// to time.Now when unset.
	TimeSource func() time.Time
}

// now reports the current time via TimeSource, defaulting to time.Now.
func (o *Orchestrator) now() time.Time {
	if o.TimeSource != nil {
		return o.TimeSource()
	}
	return time.Now()
}

// Execute drives one run to completion and returns the final Run. It never
// returns a Go error once a Run has been persisted in status=started — from
// that point failures are captured into the Run itself and an error
// terminal frame, per spec.md §7. A non-nil error return means entry
// dispatch rejected the trigger before any Run was created.
func (o *Orchestrator) Execute(ctx context.Context, trigger Trigger) (*core.Run, error) {
	agent, ok, err := o.Stores.Agents.Get(ctx, trigger.AgentID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: resolve agent %s: %w", trigger.AgentID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, trigger.AgentID)
	}

	threadID := trigger.ThreadID
	if threadID == "" {
		threadID = core.NewID()
	}
	thread, err := o.Stores.Threads.GetOrCreate(ctx, threadID, trigger.TenantID, trigger.Tags)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: get or create thread: %w", err)
	}

	runID := core.NewID()
	run, err := o.Stores.Runs.Init(ctx, runID, thread.ID, trigger.TenantID, trigger.AgentID, trigger.Tags)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: init run: %w", err)
	}

	rc := core.NewRunContext(trigger.ChannelID, runID, thread.ID, trigger.TenantID, agent)
	ctx = runctx.With(ctx, rc)
	ctx = runctx.WithTenant(ctx, trigger.TenantID)
	o.Registry.Put(rc)
	defer o.Registry.Release(runID)

	buf, err := memory.Load(ctx, o.Stores.Messages, thread.ID)
	if err != nil {
		return o.failBeforeLoop(ctx, &run, trigger, err)
	}

	userMsg := core.Message{
		ID:       core.NewID(),
		ThreadID: thread.ID,
		RunID:    runID,
		Role:     core.RoleUser,
		Content:  []core.ContentBlock{{Kind: core.ContentText, Text: trigger.UserText}},
		Meta:     core.MessageMeta{Type: core.MessageTypeMessage, CreatedAt: o.now(), Attachments: trigger.Attachments},
	}
	if err := buf.Put(ctx, userMsg, true); err != nil {
		return o.failBeforeLoop(ctx, &run, trigger, err)
	}

	run.Status = core.RunInProgress
	disp := dispatcher.New(o.Manager, trigger.ChannelID)

	switch agent.Mode {
	case core.ModeLocal:
		o.runLocal(ctx, rc, &run, buf, disp, agent)
	case core.ModeAssistant:
		o.runHosted(ctx, rc, &run, buf, disp, agent, &thread)
	default:
		run.Status = core.RunFailed
		run.Metadata.Error = fmt.Sprintf("unsupported agent mode %q", agent.Mode)
		rc.Scratch.AddError(run.Metadata.Error)
	}

	o.finish(ctx, &run, disp)
	return &run, nil
}

// failBeforeLoop handles a validation/transport error discovered after the
// Run has already been persisted in status=started but before the step
// loop begins (spec.md §7 "Validation errors").
func (o *Orchestrator) failBeforeLoop(ctx context.Context, run *core.Run, trigger Trigger, cause error) (*core.Run, error) {
	run.Status = core.RunFailed
	run.Metadata.Error = cause.Error()
	disp := dispatcher.New(o.Manager, trigger.ChannelID)
	o.finish(ctx, run, disp)
	return run, nil
}

// finish implements the orchestrator's exit contract (spec.md §4.1): emit
// exactly one terminal frame, persist the final Run with aggregated usage,
// and count the outcome in the orchestrator.run.finished metric (logging
// only when a frame or the Run cannot be written). The ambient context's
// release is the caller's
// deferred responsibility (registered in Execute).
func (o *Orchestrator) finish(ctx context.Context, run *core.Run, disp *dispatcher.Dispatcher) {
	run.RecomputeUsage()
	run.ModifiedAt = o.now()

	switch run.Status {
	case core.RunCompleted:
		run.Metadata.Credits = creditsFor(run.Usage)
		if err := disp.Close(ctx, run.ID, run.ThreadID); err != nil {
			o.Telemetry.Log.Warn(ctx, "orchestrator: close frame", "run_id", run.ID, "error", err.Error())
		}
	case core.RunCancelled:
		if err := disp.Error(ctx, run.ID, run.ThreadID, genericCancelMessage, run.Metadata.Error); err != nil {
			o.Telemetry.Log.Warn(ctx, "orchestrator: error frame", "run_id", run.ID, "error", err.Error())
		}
	default:
		run.Status = core.RunFailed
		if err := disp.Error(ctx, run.ID, run.ThreadID, genericFailureMessage, run.Metadata.Error); err != nil {
			o.Telemetry.Log.Warn(ctx, "orchestrator: error frame", "run_id", run.ID, "error", err.Error())
		}
	}

	if err := o.Stores.Runs.Save(ctx, *run); err != nil {
		o.Telemetry.Log.Error(ctx, "orchestrator: persist final run", "run_id", run.ID, "error", err.Error())
	}
	o.Telemetry.Metrics.IncCounter("orchestrator.run.finished", 1, "status", string(run.Status))
}

// creditsFor computes the consumed-credit entry for a successful run.
// Grounded on a flat per-1000-tokens rate, a placeholder billing policy the
// orchestrator owns independent of any particular provider's pricing.
func creditsFor(u core.Usage) float64 {
	return float64(u.TotalTokens) / 1000.0
}

// toolDefsFor resolves the model-facing tool schema for the agent's
// enabled toolkits (spec.md §4.1 local flavor, step 1: "tool schemas from
// the agent config").
func (o *Orchestrator) toolDefsFor(toolkitIDs []string) []model.ToolDefinition {
	specs := o.Tools.ForToolkits(toolkitIDs)
	defs := make([]model.ToolDefinition, 0, len(specs))
	for _, spec := range specs {
		defs = append(defs, model.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.SchemaJSON,
		})
	}
	return defs
}
