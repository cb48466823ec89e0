package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/advantch/agentrun/core"
	"github.com/advantch/agentrun/model"
)

// RunEventType classifies one event in an Assistants-API run stream.
type RunEventType string

const (
	// RunEventText carries an incremental chunk of assistant text.
	RunEventText RunEventType = "text"
	// RunEventRequiresAction signals the run is paused waiting for tool
	// outputs; ToolCalls lists what the orchestrator must execute and
	// submit back via SubmitToolOutputsStream before the run can proceed.
	RunEventRequiresAction RunEventType = "requires_action"
	// RunEventToolStep reports a run step completing server-executed tool
	// calls (code_interpreter, file_search) that never pause for
	// requires_action — the remote service has already run them.
	RunEventToolStep RunEventType = "tool_step"
	// RunEventImage signals an image content block (typically the code
	// interpreter's plotted output) finished and can be downloaded by
	// ImageFileID.
	RunEventImage RunEventType = "image"
	// RunEventDone signals the run reached a terminal completed state.
	RunEventDone RunEventType = "done"
	// RunEventFailed signals the run reached a terminal failed/cancelled state.
	RunEventFailed RunEventType = "failed"
)

// ToolOutput is one tool's result, submitted back to a paused Assistants run.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// StepToolCall is one server-executed tool call (code_interpreter,
// file_search) surfaced by a completed run step. Unlike the function calls
// in RunEventRequiresAction, these already ran remotely and carry their own
// output; the orchestrator only needs to persist them, never invoke the
// Tool Runner or submit outputs back.
type StepToolCall struct {
	ID     string
	Type   string
	Input  string
	Output string
}

// RunEvent is one event from a RunStreamer.
type RunEvent struct {
	Type RunEventType
	// RunID is the remote Assistants-API run id, needed to resume a
	// requires_action pause via SubmitToolOutputsStream.
	RunID     string
	TextDelta string
	ToolCalls []model.ToolCall
	// StepToolCalls carries the server-executed tool calls for
	// RunEventToolStep.
	StepToolCalls []StepToolCall
	// ImageFileID is the remote file id to download for RunEventImage.
	ImageFileID string
	StopReason  string
	Usage       *model.TokenUsage
}

// RunStreamer delivers incremental events from an Assistants-API run.
// Callers drain Recv until it returns io.EOF, RunEventDone, or
// RunEventFailed, then call Close exactly once.
type RunStreamer interface {
	Recv() (RunEvent, error)
	Close() error
}

// AssistantsClient captures the subset of the openai-go Beta Assistants
// surface the hosted flavor drives, so tests can substitute a fake in place
// of the real SDK's threads/runs services.
type AssistantsClient interface {
	// CreateRunStream starts a run on threadID against assistantID, after
	// the caller has already appended the triggering user message to the
	// thread, and returns a stream of its events.
	CreateRunStream(ctx context.Context, threadID, assistantID string, tools []model.ToolDefinition, instructions string) (*ssestream.Stream[sdk.AssistantStreamEvent], error)
	// SubmitToolOutputsStream resumes a run paused in requires_action,
	// returning a stream of the run's subsequent events.
	SubmitToolOutputsStream(ctx context.Context, threadID, runID string, outputs []ToolOutput) (*ssestream.Stream[sdk.AssistantStreamEvent], error)
	// AddMessage appends a message to a thread before starting a run,
	// mirroring any image/file attachments inline alongside the text
	// (spec.md §4.1 hosted flavor step 2): image attachments become inline
	// image_file content blocks, file attachments become message-level
	// file_ids, matching how the Assistants API's message content
	// distinguishes the two (grounded on
	// thread_run_executor.py's add_message_to_remote_thread).
	AddMessage(ctx context.Context, threadID, role, text string, attachments []core.Attachment) error
	// CreateThread creates a new empty thread and returns its id.
	CreateThread(ctx context.Context) (string, error)
	// DownloadFile retrieves the raw bytes of a file the Assistants API
	// produced (e.g. a code interpreter image output).
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Runner drives the Assistants-API run loop for one configured assistant.
// It translates raw SSE events into the RunEvent taxonomy the orchestrator's
// hosted flavor consumes; it does not itself execute tools or loop past a
// requires_action pause, since spec.md §4.1 assigns that to the
// orchestrator.
type Runner struct {
	client      AssistantsClient
	assistantID string
}

// NewRunner builds a Runner for the given assistant id.
func NewRunner(client AssistantsClient, assistantID string) (*Runner, error) {
	if client == nil {
		return nil, errors.New("openai: assistants client is required")
	}
	if assistantID == "" {
		return nil, errors.New("openai: assistant id is required")
	}
	return &Runner{client: client, assistantID: assistantID}, nil
}

// CreateThread creates a new thread for a fresh run.
func (r *Runner) CreateThread(ctx context.Context) (string, error) {
	return r.client.CreateThread(ctx)
}

// Start mirrors userText and attachments into threadID and opens a
// streaming run.
func (r *Runner) Start(ctx context.Context, threadID, userText, instructions string, tools []model.ToolDefinition, attachments []core.Attachment) (RunStreamer, error) {
	if err := r.client.AddMessage(ctx, threadID, "user", userText, attachments); err != nil {
		return nil, fmt.Errorf("openai: add message: %w", err)
	}
	stream, err := r.client.CreateRunStream(ctx, threadID, r.assistantID, tools, instructions)
	if err != nil {
		return nil, fmt.Errorf("openai: create run: %w", err)
	}
	return newRunStreamer(ctx, stream), nil
}

// DownloadFile retrieves the raw bytes of a remote file, such as a code
// interpreter image output.
func (r *Runner) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	blob, err := r.client.DownloadFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("openai: download file: %w", err)
	}
	return blob, nil
}

// SubmitToolOutputs resumes a paused run with the given tool outputs.
func (r *Runner) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (RunStreamer, error) {
	stream, err := r.client.SubmitToolOutputsStream(ctx, threadID, runID, outputs)
	if err != nil {
		return nil, fmt.Errorf("openai: submit tool outputs: %w", err)
	}
	return newRunStreamer(ctx, stream), nil
}

type runStreamer struct {
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.AssistantStreamEvent]
	events chan RunEvent

	mu       sync.Mutex
	finalErr error
}

func newRunStreamer(ctx context.Context, stream *ssestream.Stream[sdk.AssistantStreamEvent]) RunStreamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &runStreamer{cancel: cancel, stream: stream, events: make(chan RunEvent, 32)}
	go s.run(cctx)
	return s
}

func (s *runStreamer) Recv() (RunEvent, error) {
	ev, ok := <-s.events
	if ok {
		return ev, nil
	}
	if err := s.err(); err != nil {
		return RunEvent{}, err
	}
	return RunEvent{}, io.EOF
}

func (s *runStreamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *runStreamer) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalErr == nil {
		s.finalErr = err
	}
}

func (s *runStreamer) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalErr
}

func (s *runStreamer) run(ctx context.Context) {
	defer close(s.events)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	emit := func(ev RunEvent) bool {
		select {
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return false
		case s.events <- ev:
			return true
		}
	}

	var pendingCalls []model.ToolCall
	for s.stream.Next() {
		select {
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return
		default:
		}
		event := s.stream.Current()
		raw := json.RawMessage(event.RawJSON())
		switch event.Event {
		case "thread.message.delta":
			if text := textDeltaOf(raw); text != "" {
				if !emit(RunEvent{Type: RunEventText, TextDelta: text}) {
					return
				}
			}
			for _, fileID := range imageFileIDsOf(raw) {
				if !emit(RunEvent{Type: RunEventImage, ImageFileID: fileID}) {
					return
				}
			}
		case "thread.run.step.completed":
			if calls := stepToolCallsOf(raw); len(calls) > 0 {
				if !emit(RunEvent{Type: RunEventToolStep, RunID: stepRunIDOf(raw), StepToolCalls: calls}) {
					return
				}
			}
		case "thread.run.requires_action":
			pendingCalls = toolCallsOf(raw)
			if !emit(RunEvent{Type: RunEventRequiresAction, RunID: runIDOf(raw), ToolCalls: pendingCalls}) {
				return
			}
		case "thread.run.completed":
			emit(RunEvent{Type: RunEventDone, RunID: runIDOf(raw), StopReason: "completed"})
			return
		case "thread.run.failed", "thread.run.cancelled", "thread.run.expired":
			emit(RunEvent{Type: RunEventFailed, RunID: runIDOf(raw), StopReason: string(event.Event)})
			return
		}
	}
	if err := s.stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		s.setErr(fmt.Errorf("openai run stream: %w", err))
	}
}

// textDeltaOf extracts the incremental text from a thread.message.delta
// event's raw JSON payload.
func textDeltaOf(raw json.RawMessage) string {
	var payload struct {
		Delta struct {
			Content []struct {
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"delta"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	var out string
	for _, c := range payload.Delta.Content {
		out += c.Text.Value
	}
	return out
}

// imageFileIDsOf extracts the file ids of any image_file content blocks in
// a thread.message.delta event's raw JSON payload (the code interpreter's
// plotted output arrives this way, per
// src/marvin/beta/local/handlers.py's on_image_file_done).
func imageFileIDsOf(raw json.RawMessage) []string {
	var payload struct {
		Delta struct {
			Content []struct {
				Type      string `json:"type"`
				ImageFile struct {
					FileID string `json:"file_id"`
				} `json:"image_file"`
			} `json:"content"`
		} `json:"delta"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	var out []string
	for _, c := range payload.Delta.Content {
		if c.Type == "image_file" && c.ImageFile.FileID != "" {
			out = append(out, c.ImageFile.FileID)
		}
	}
	return out
}

// stepRunIDOf extracts the run id a run-step event's raw JSON payload
// belongs to (a run step carries its parent run id in a dedicated field,
// unlike a run-lifecycle event whose data object IS the run resource).
func stepRunIDOf(raw json.RawMessage) string {
	var payload struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	return payload.RunID
}

// stepToolCallsOf extracts server-executed tool calls (code_interpreter,
// file_search) from a thread.run.step.completed event's raw JSON payload.
// Function calls are excluded: those pause the run for requires_action and
// are handled there instead.
func stepToolCallsOf(raw json.RawMessage) []StepToolCall {
	var payload struct {
		StepDetails struct {
			ToolCalls []struct {
				ID              string `json:"id"`
				Type            string `json:"type"`
				CodeInterpreter struct {
					Input   string `json:"input"`
					Outputs []struct {
						Type string `json:"type"`
						Logs string `json:"logs"`
						Image struct {
							FileID string `json:"file_id"`
						} `json:"image"`
					} `json:"outputs"`
				} `json:"code_interpreter"`
			} `json:"tool_calls"`
		} `json:"step_details"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	out := make([]StepToolCall, 0, len(payload.StepDetails.ToolCalls))
	for _, tc := range payload.StepDetails.ToolCalls {
		if tc.Type != "code_interpreter" && tc.Type != "file_search" {
			continue
		}
		call := StepToolCall{ID: tc.ID, Type: tc.Type, Input: tc.CodeInterpreter.Input}
		var outputParts []string
		for _, o := range tc.CodeInterpreter.Outputs {
			switch o.Type {
			case "logs":
				outputParts = append(outputParts, o.Logs)
			case "image":
				outputParts = append(outputParts, "image:"+o.Image.FileID)
			}
		}
		if len(outputParts) > 0 {
			call.Output = outputParts[0]
			for _, p := range outputParts[1:] {
				call.Output += "\n" + p
			}
		}
		out = append(out, call)
	}
	return out
}

// runIDOf extracts the Assistants-API run id carried by a run-lifecycle
// event's raw JSON payload (the event's data object IS the run resource).
func runIDOf(raw json.RawMessage) string {
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	return payload.ID
}

// toolCallsOf extracts the tool calls OpenAI is requesting from a
// thread.run.requires_action event's raw JSON payload.
func toolCallsOf(raw json.RawMessage) []model.ToolCall {
	var payload struct {
		RequiredAction struct {
			SubmitToolOutputs struct {
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"submit_tool_outputs"`
		} `json:"required_action"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	out := make([]model.ToolCall, 0, len(payload.RequiredAction.SubmitToolOutputs.ToolCalls))
	for _, tc := range payload.RequiredAction.SubmitToolOutputs.ToolCalls {
		out = append(out, model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out
}
