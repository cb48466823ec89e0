package orchestrator

import (
	"context"
	"fmt"
	"io"

	"github.com/advantch/agentrun/core"
	"github.com/advantch/agentrun/dispatcher"
	"github.com/advantch/agentrun/memory"
	"github.com/advantch/agentrun/model"
	"github.com/advantch/agentrun/model/openai"
	"github.com/advantch/agentrun/runctx"
)

// runHosted drives the hosted-assistant delegated loop (spec.md §4.1
// "Hosted-assistant flavor"): mirror the thread remotely, open a streaming
// run, and gather/execute/resubmit tool calls each time the remote service
// pauses in requires_action, until the remote stream reaches a terminal
// event.
func (o *Orchestrator) runHosted(ctx context.Context, rc *core.RunContext, run *core.Run, buf *memory.Buffer, disp *dispatcher.Dispatcher, agent core.AgentConfig, thread *core.Thread) {
	if !thread.HasExternalHandle() {
		externalID, err := o.Assistant.CreateThread(ctx)
		if err != nil {
			run.Status = core.RunFailed
			run.Metadata.Error = err.Error()
			rc.Scratch.AddError(err.Error())
			return
		}
		thread.ExternalID = externalID
		thread.UpdatedAt = o.now()
		if err := o.Stores.Threads.Save(ctx, *thread); err != nil {
			run.Status = core.RunFailed
			run.Metadata.Error = err.Error()
			rc.Scratch.AddError(err.Error())
			return
		}
	}

	if runctx.StopRequested(rc) {
		run.Status = core.RunCancelled
		run.Metadata.Error = "cancelled before model request"
		return
	}

	userText := ""
	var attachments []core.Attachment
	if last, ok := buf.Last(); ok {
		userText = last.Text()
		attachments = last.Meta.Attachments
	}

	toolDefs := o.toolDefsFor(agent.Toolkits)
	streamer, err := o.Assistant.Start(ctx, thread.ExternalID, userText, agent.Instructions, toolDefs, attachments)
	if err != nil {
		run.Status = core.RunFailed
		run.Metadata.Error = err.Error()
		rc.Scratch.AddError(err.Error())
		return
	}
	// Closed via closure rather than a plain `defer streamer.Close()` so
	// that reassigning streamer after SubmitToolOutputs still closes the
	// current stream on every return path, not just the first one.
	defer func() { streamer.Close() }()

	var remoteRunID string
	var textAccum string

	for {
		ev, err := streamer.Recv()
		if err == io.EOF {
			run.Status = core.RunCompleted
			return
		}
		if err != nil {
			run.Status = core.RunFailed
			run.Metadata.Error = err.Error()
			rc.Scratch.AddError(err.Error())
			return
		}
		if ev.RunID != "" {
			remoteRunID = ev.RunID
		}

		switch ev.Type {
		case openai.RunEventText:
			textAccum += ev.TextDelta
			_ = disp.Stream(ctx, run.ID, run.ThreadID, dispatcher.MessageTypeMessage, map[string]string{"delta": ev.TextDelta}, true, true)

		case openai.RunEventRequiresAction:
			if runctx.StopRequested(rc) {
				run.Status = core.RunCancelled
				run.Metadata.Error = "cancelled before tool invocation"
				return
			}

			step := core.RunStep{
				ID:        core.NewID(),
				RunID:     run.ID,
				ThreadID:  run.ThreadID,
				Type:      core.StepToolCalls,
				Status:    core.StepCompleted,
				CreatedAt: o.now(),
			}

			outputs := make([]openai.ToolOutput, 0, len(ev.ToolCalls))
			coreCalls := make([]core.ToolCall, 0, len(ev.ToolCalls))
			ended := false
			for _, tc := range ev.ToolCalls {
				if runctx.StopRequested(rc) {
					run.Status = core.RunCancelled
					run.Metadata.Error = "cancelled before tool invocation"
					return
				}

				call := core.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments, Type: core.ToolCallFunction}
				result, runErr := o.ToolRunner.Run(ctx, rc, call)
				if runErr != nil {
					run.Status = core.RunFailed
					run.Metadata.Error = runErr.Error()
					rc.Scratch.AddError(runErr.Error())
					return
				}

				call.Patch(result.OutputString, result.StructuredOutput)
				rc.Scratch.SetToolOutput(call)
				coreCalls = append(coreCalls, call)
				outputs = append(outputs, openai.ToolOutput{ToolCallID: call.ID, Output: result.OutputString})
				if result.EndRun {
					ended = true
				}
			}

			step.Details.ToolCalls = coreCalls
			step.CompletedAt = o.now()
			run.AppendStep(step)
			_ = disp.Stream(ctx, run.ID, run.ThreadID, dispatcher.MessageTypeToolCall, step, false, false)
			if err := o.persistToolCallMessage(ctx, run, buf, coreCalls); err != nil {
				run.Status = core.RunFailed
				run.Metadata.Error = err.Error()
				rc.Scratch.AddError(err.Error())
				return
			}

			if ended {
				run.Status = core.RunCompleted
				return
			}

			next, err := o.Assistant.SubmitToolOutputs(ctx, thread.ExternalID, remoteRunID, outputs)
			if err != nil {
				run.Status = core.RunFailed
				run.Metadata.Error = err.Error()
				rc.Scratch.AddError(err.Error())
				return
			}
			_ = streamer.Close()
			streamer = next

		case openai.RunEventToolStep:
			coreCalls := make([]core.ToolCall, 0, len(ev.StepToolCalls))
			for _, tc := range ev.StepToolCalls {
				callType := core.ToolCallCodeInterpreter
				if tc.Type == "file_search" {
					callType = core.ToolCallFileSearch
				}
				call := core.ToolCall{ID: tc.ID, Name: tc.Type, Type: callType}
				call.Patch(tc.Output, nil)
				coreCalls = append(coreCalls, call)
			}
			step := core.RunStep{
				ID:          core.NewID(),
				RunID:       run.ID,
				ThreadID:    run.ThreadID,
				Type:        core.StepToolCalls,
				Status:      core.StepCompleted,
				CreatedAt:   o.now(),
				CompletedAt: o.now(),
			}
			step.Details.ToolCalls = coreCalls
			run.AppendStep(step)
			_ = disp.Stream(ctx, run.ID, run.ThreadID, dispatcher.MessageTypeToolCall, step, false, false)
			if err := o.persistToolCallMessage(ctx, run, buf, coreCalls); err != nil {
				run.Status = core.RunFailed
				run.Metadata.Error = err.Error()
				rc.Scratch.AddError(err.Error())
				return
			}

		case openai.RunEventImage:
			if err := o.persistImageMessage(ctx, run, buf, disp, ev.ImageFileID); err != nil {
				run.Status = core.RunFailed
				run.Metadata.Error = err.Error()
				rc.Scratch.AddError(err.Error())
				return
			}

		case openai.RunEventDone:
			o.finishHostedMessage(ctx, run, buf, disp, textAccum, ev.Usage)
			run.Status = core.RunCompleted
			return

		case openai.RunEventFailed:
			run.Status = core.RunFailed
			run.Metadata.Error = "remote run " + ev.StopReason
			rc.Scratch.AddError(run.Metadata.Error)
			return
		}
	}
}

// persistToolCallMessage saves the assistant message carrying a completed
// tool-calls step's calls into Runtime Memory, the same dual-save (step
// then message) the local flavor performs — grounded on
// src/marvin/extensions/utilities/mappers.py's run_step_to_tool_call_message,
// which the original applies uniformly to both flavors.
func (o *Orchestrator) persistToolCallMessage(ctx context.Context, run *core.Run, buf *memory.Buffer, calls []core.ToolCall) error {
	msg := core.Message{
		ID:       core.NewID(),
		ThreadID: run.ThreadID,
		RunID:    run.ID,
		Role:     core.RoleAssistant,
		Meta:     core.MessageMeta{Type: core.MessageTypeToolCall, ToolCalls: calls, CreatedAt: o.now()},
	}
	return buf.Put(ctx, msg, true)
}

// persistImageMessage downloads a remote image file, saves it through the
// DataSourceStore, and emits/persists an image-bearing assistant message —
// grounded on src/marvin/beta/local/handlers.py's on_image_file_done and
// persist_files.py's save_assistant_image_to_storage.
func (o *Orchestrator) persistImageMessage(ctx context.Context, run *core.Run, buf *memory.Buffer, disp *dispatcher.Dispatcher, fileID string) error {
	blob, err := o.Assistant.DownloadFile(ctx, fileID)
	if err != nil {
		return fmt.Errorf("download image file: %w", err)
	}
	ds, err := o.Stores.DataSources.SaveFile(ctx, blob, map[string]string{
		"thread_id": run.ThreadID,
		"run_id":    run.ID,
	})
	if err != nil {
		return fmt.Errorf("save image file: %w", err)
	}

	msg := core.Message{
		ID:       core.NewID(),
		ThreadID: run.ThreadID,
		RunID:    run.ID,
		Role:     core.RoleAssistant,
		Content:  []core.ContentBlock{{Kind: core.ContentImage, Attachment: &core.Attachment{FileID: ds.FileID, Kind: core.AttachmentImage}}},
		Meta:     core.MessageMeta{Type: core.MessageTypeImage, CreatedAt: o.now()},
	}
	if err := buf.Put(ctx, msg, true); err != nil {
		return fmt.Errorf("persist image message: %w", err)
	}
	_ = disp.Stream(ctx, run.ID, run.ThreadID, dispatcher.MessageTypeImage, msg, false, false)
	return nil
}

// finishHostedMessage appends the accumulated assistant text as the final
// message and records usage if the remote service reported it (spec.md
// §4.1 hosted flavor, step 5: "merge the remote run's usage and metadata
// into the local Run aggregate"). A run that ends without accumulating any
// text — e.g. one that finished entirely through a code_interpreter step
// and an image output — still gets its usage recorded but does not
// persist a spurious empty final message.
func (o *Orchestrator) finishHostedMessage(ctx context.Context, run *core.Run, buf *memory.Buffer, disp *dispatcher.Dispatcher, text string, usage *model.TokenUsage) {
	step := core.RunStep{
		ID:          core.NewID(),
		RunID:       run.ID,
		ThreadID:    run.ThreadID,
		Type:        core.StepMessageCreation,
		Status:      core.StepCompleted,
		CreatedAt:   o.now(),
		CompletedAt: o.now(),
	}
	if usage != nil {
		step.Usage = core.Usage{PromptTokens: usage.InputTokens, CompletionTokens: usage.OutputTokens, TotalTokens: usage.TotalTokens}
	}
	if text == "" {
		if usage != nil {
			run.AppendStep(step)
		}
		return
	}

	msgID := core.NewID()
	step.Details.MessageID = msgID
	run.AppendStep(step)

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
