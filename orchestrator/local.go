package orchestrator

import (
	"context"
	"io"

	"github.com/advantch/agentrun/core"
	"github.com/advantch/agentrun/dispatcher"
	"github.com/advantch/agentrun/memory"
	"github.com/advantch/agentrun/model"
	"github.com/advantch/agentrun/runctx"
)

// runLocal drives the local-flavor step loop (spec.md §4.1 "Local
// flavor"): build a completion request from Runtime Memory, stream the
// response, and alternate between tool_phase and message_phase until the
// model stops requesting tools, a sentinel ends the run, or max_steps is
// exhausted. It never returns a Go error; every failure is captured into
// run.Status/run.Metadata.Error for the caller's finish step to persist
// and report.
func (o *Orchestrator) runLocal(ctx context.Context, rc *core.RunContext, run *core.Run, buf *memory.Buffer, disp *dispatcher.Dispatcher, agent core.AgentConfig) {
	toolDefs := o.toolDefsFor(agent.Toolkits)
	maxSteps := agent.EffectiveMaxSteps()

	for i := 0; i < maxSteps; i++ {
		if runctx.StopRequested(rc) {
			run.Status = core.RunCancelled
			run.Metadata.Error = "cancelled before model request"
			return
		}

		req := &model.Request{
			RunID:       run.ID,
			Model:       agent.Model,
			Temperature: float32(agent.Temperature),
			Messages:    buildRequestMessages(agent.Instructions, buf.List("")),
			Tools:       toolDefs,
		}

		toolCalls, text, usage, stopReason, err := o.streamStep(ctx, run, disp, req)
		if err != nil {
			run.Status = core.RunFailed
			run.Metadata.Error = err.Error()
			rc.Scratch.AddError(err.Error())
			return
		}

		step := core.RunStep{
			ID:        core.NewID(),
			RunID:     run.ID,
			ThreadID:  run.ThreadID,
			Status:    core.StepCompleted,
			Usage:     core.Usage{PromptTokens: usage.InputTokens, CompletionTokens: usage.OutputTokens, TotalTokens: usage.TotalTokens},
			CreatedAt: o.now(),
		}

		if len(toolCalls) == 0 {
			o.finishMessagePhase(ctx, run, buf, disp, &step, text)
			run.Status = core.RunCompleted
			return
		}

		if o.runToolPhase(ctx, rc, run, buf, disp, &step, toolCalls, text) {
			// runToolPhase already set run.Status (completed via sentinel,
			// cancelled via stop signal, or failed via tool-runner error).
			return
		}

		_ = stopReason
	}

	run.Status = core.RunCancelled
	run.Metadata.Error = "max_steps exhausted"
}

// streamStep submits req and drains the resulting stream, emitting partial
// frames through the Dispatcher as chunks arrive (spec.md §4.1 local
// flavor, steps 2-3) and returning the accumulated tool calls, text, usage,
// and stop reason once the stream ends.
func (o *Orchestrator) streamStep(ctx context.Context, run *core.Run, disp *dispatcher.Dispatcher, req *model.Request) ([]model.ToolCall, string, model.TokenUsage, string, error) {
	stream, err := o.Model.Stream(ctx, req)
	if err != nil {
		return nil, "", model.TokenUsage{}, "", err
	}
	defer stream.Close()

	var (
		text       string
		toolCalls  []model.ToolCall
		usage      model.TokenUsage
		stopReason string
	)
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", model.TokenUsage{}, "", err
		}
		switch chunk.Type {
		case model.ChunkText:
			text += chunk.TextDelta
			_ = disp.Stream(ctx, run.ID, run.ThreadID, dispatcher.MessageTypeMessage, map[string]string{"delta": chunk.TextDelta}, true, true)
		case model.ChunkToolCallDelta:
			_ = disp.Stream(ctx, run.ID, run.ThreadID, dispatcher.MessageTypeToolCall, chunk.ToolCallDelta, true, true)
		case model.ChunkToolCall:
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
		case model.ChunkUsage:
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
		case model.ChunkStop:
			stopReason = chunk.StopReason
		}
	}
	return toolCalls, text, usage, stopReason, nil
}

// runToolPhase executes every tool call in order (spec.md §4.1 local
// flavor, step 5), patching each with its result, emitting step_done, and
// appending the patched assistant message to Runtime Memory. It returns
// done=true when the run loop must stop: a sentinel ended the run
// (status=completed), a stop signal was observed (status=cancelled), or the
// Tool Runner returned an invocation error or the message could not be
// persisted (status=failed). done=false means the
// caller should continue to the next loop iteration.
func (o *Orchestrator) runToolPhase(ctx context.Context, rc *core.RunContext, run *core.Run, buf *memory.Buffer, disp *dispatcher.Dispatcher, step *core.RunStep, toolCalls []model.ToolCall, assistantText string) (done bool) {
	step.Type = core.StepToolCalls
	coreCalls := make([]core.ToolCall, len(toolCalls))
	for i, tc := range toolCalls {
		coreCalls[i] = core.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments, Type: core.ToolCallFunction}
	}

	for i := range coreCalls {
		if runctx.StopRequested(rc) {
			run.Status = core.RunCancelled
			run.Metadata.Error = "cancelled before tool invocation"
			return true
		}

		result, err := o.ToolRunner.Run(ctx, rc, coreCalls[i])
		if err != nil {
			coreCalls[i].Patch("", nil)
			run.Metadata.Error = err.Error()
			rc.Scratch.AddError(err.Error())
			step.Status = core.StepFailed
			step.Details.ToolCalls = coreCalls
			step.CompletedAt = o.now()
			run.AppendStep(*step)
			run.Status = core.RunFailed
			return true
		}

		coreCalls[i].Patch(result.OutputString, result.StructuredOutput)
		rc.Scratch.AddToolCall(coreCalls[i])

		if result.EndRun {
			step.Details.ToolCalls = coreCalls[:i+1]
			step.CompletedAt = o.now()
			run.AppendStep(*step)
			_ = disp.Stream(ctx, run.ID, run.ThreadID, dispatcher.MessageTypeToolCall, step, false, false)
			run.Status = core.RunCompleted
			return true
		}
	}

	step.Details.ToolCalls = coreCalls
	step.CompletedAt = o.now()
	run.AppendStep(*step)
	_ = disp.Stream(ctx, run.ID, run.ThreadID, dispatcher.MessageTypeToolCall, step, false, false)

	content := []core.ContentBlock{}
	if assistantText != "" {
		content = append(content, core.ContentBlock{Kind: core.ContentText, Text: assistantText})
	}
	msg := core.Message{
		ID:       core.NewID(),
		ThreadID: run.ThreadID,
		RunID:    run.ID,
		Role:     core.RoleAssistant,
		Content:  content,
		Meta:     core.MessageMeta{Type: core.MessageTypeToolCall, ToolCalls: coreCalls, CreatedAt: o.now()},
	}
	if err := buf.Put(ctx, msg, true); err != nil {
		run.Status = core.RunFailed
		run.Metadata.Error = err.Error()
		rc.Scratch.AddError(err.Error())
		return true
	}
	return false
}

// finishMessagePhase appends the final assistant message to Runtime
// Memory and emits message_done (spec.md §4.1 local flavor, step 6).
func (o *Orchestrator) finishMessagePhase(ctx context.Context, run *core.Run, buf *memory.Buffer, disp *dispatcher.Dispatcher, step *core.RunStep, text string) {
	step.Type = core.StepMessageCreation
	msgID := core.NewID()
	step.Details.MessageID = msgID
	step.CompletedAt = o.now()
	run.AppendStep(*step)

	msg := core.Message{
		ID:       msgID,
		ThreadID: run.ThreadID,
		RunID:    run.ID,
		Role:     core.RoleAssistant,
		Content:  []core.ContentBlock{{Kind: core.ContentText, Text: text}},
		Meta:     core.MessageMeta{Type: core.MessageTypeMessage, CreatedAt: o.now()},
	}
	_ = buf.Put(ctx, msg, true)
	_ = disp.Stream(ctx, run.ID, run.ThreadID, dispatcher.MessageTypeMessage, msg, false, false)
}

// buildRequestMessages renders instructions as a leading system message
// followed by every message currently in Runtime Memory, translated to
// the provider-agnostic model.Message shape (spec.md §4.1 local flavor,
// step 1).
func buildRequestMessages(instructions string, history []core.Message) []model.Message {
	out := make([]model.Message, 0, len(history)+1)
	if instructions != "" {
		out = append(out, model.Message{Role: model.RoleSystem, Parts: []model.Part{model.TextPart{Text: instructions}}})
	}
	for _, m := range history {
		out = append(out, toModelMessages(m)...)
	}
	return out
}

// toModelMessages translates one Runtime Memory message into one or two
// model.Messages. An assistant message carrying tool calls splits into an
// assistant message with tool_use parts followed by a user message with
// the corresponding tool_result parts, matching how providers expect a
// tool round trip to be represented on the wire.
func toModelMessages(m core.Message) []model.Message {
	role := model.RoleUser
	switch m.Role {
	case core.RoleAssistant:
		role = model.RoleAssistant
	case core.RoleSystem:
		role = model.RoleSystem
	}

	if role != model.RoleAssistant || len(m.Meta.ToolCalls) == 0 {
		var parts []model.Part
		if text := m.Text(); text != "" {
			parts = append(parts, model.TextPart{Text: text})
		}
		return []model.Message{{Role: role, Parts: parts}}
	}

	var assistantParts []model.Part
	if text := m.Text(); text != "" {
		assistantParts = append(assistantParts, model.TextPart{Text: text})
	}
	var resultParts []model.Part
	for _, tc := range m.Meta.ToolCalls {
		assistantParts = append(assistantParts, model.ToolUsePart{ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
		if tc.Resolved() {
			resultParts = append(resultParts, model.ToolResultPart{ToolUseID: tc.ID, Content: tc.OutputString})
		}
	}

	out := []model.Message{{Role: model.RoleAssistant, Parts: assistantParts}}
	if len(resultParts) > 0 {
		out = append(out, model.Message{Role: model.RoleUser, Parts: resultParts})
	}
	return out
}
