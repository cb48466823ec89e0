package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/advantch/agentrun/connmanager/local"
	"github.com/advantch/agentrun/core"
	"github.com/advantch/agentrun/dispatcher"
	"github.com/advantch/agentrun/model"
	"github.com/advantch/agentrun/model/openai"
	"github.com/advantch/agentrun/runctx"
	"github.com/advantch/agentrun/store/memstore"
	"github.com/advantch/agentrun/telemetry"
	"github.com/advantch/agentrun/tools"
	"github.com/advantch/agentrun/tools/toolrunner"
)

// fakeRunStreamer replays a fixed sequence of openai.RunEvent, then io.EOF.
type fakeRunStreamer struct {
	events []openai.RunEvent
	i      int
	closed bool
}

func (s *fakeRunStreamer) Recv() (openai.RunEvent, error) {
	if s.i >= len(s.events) {
		return openai.RunEvent{}, io.EOF
	}
	ev := s.events[s.i]
	s.i++
	return ev, nil
}

func (s *fakeRunStreamer) Close() error {
	s.closed = true
	return nil
}

// fakeAssistantRunner scripts the hosted flavor's Assistants-API calls: the
// opening stream from Start, and one stream per SubmitToolOutputs call, in
// order.
type fakeAssistantRunner struct {
	startEvents     []openai.RunEvent
	resumeEvents    [][]openai.RunEvent
	resumeCalls     int
	attachmentsSeen []core.Attachment
	downloaded      []string
	fileBytes       []byte
}

func (f *fakeAssistantRunner) CreateThread(ctx context.Context) (string, error) {
	return "ext-thread-1", nil
}

func (f *fakeAssistantRunner) Start(ctx context.Context, threadID, userText, instructions string, toolDefs []model.ToolDefinition, attachments []core.Attachment) (openai.RunStreamer, error) {
	f.attachmentsSeen = attachments
	return &fakeRunStreamer{events: f.startEvents}, nil
}

func (f *fakeAssistantRunner) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []openai.ToolOutput) (openai.RunStreamer, error) {
	events := f.resumeEvents[f.resumeCalls]
	f.resumeCalls++
	return &fakeRunStreamer{events: events}, nil
}

func (f *fakeAssistantRunner) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	f.downloaded = append(f.downloaded, fileID)
	return f.fileBytes, nil
}

func newTestHostedOrchestrator(t *testing.T, ar AssistantRunner) (*Orchestrator, *memstore.Backend, *recording) {
	t.Helper()
	backend := memstore.New()
	reg := tools.NewRegistry()

	manager := local.New()
	sub := &recording{}
	require.NoError(t, manager.Connect(context.Background(), "chan-1", sub))

	o := &Orchestrator{
		Stores:     backend.Bundle(),
		Tools:      reg,
		ToolRunner: toolrunner.New(reg),
		Assistant:  ar,
		Manager:    manager,
		Registry:   runctx.NewRegistry(),
		Telemetry:  telemetry.Noop(),
	}
	return o, backend, sub
}

// TestExecuteHostedRunWithCodeInterpreterImage covers spec.md §8 scenario 3:
// a hosted-assistant run whose code interpreter produces a plotted image,
// with no further assistant commentary after it. It must persist the
// triggering user message, a tool-call message for the code_interpreter
// step, and an image-bearing assistant message with a resolvable file id —
// three messages in all — and close with exactly one terminal frame.
func TestExecuteHostedRunWithCodeInterpreterImage(t *testing.T) {
	ar := &fakeAssistantRunner{
		startEvents: []openai.RunEvent{
			{Type: openai.RunEventToolStep, RunID: "run_remote_1", StepToolCalls: []openai.StepToolCall{
				{ID: "call_ci_1", Type: "code_interpreter", Input: "plot(x, y)", Output: "image:file_plot_1"},
			}},
			{Type: openai.RunEventImage, ImageFileID: "file_plot_1"},
			{Type: openai.RunEventDone, RunID: "run_remote_1", StopReason: "completed"},
		},
		fileBytes: []byte("\x89PNG-fake-bytes"),
	}
	o, backend, sub := newTestHostedOrchestrator(t, ar)
	backend.SeedAgent(core.AgentConfig{ID: "agent-1", Mode: core.ModeAssistant, Model: "gpt-assistant"})

	run, err := o.Execute(context.Background(), Trigger{AgentID: "agent-1", ChannelID: "chan-1", UserText: "plot y=x^2"})
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, run.Status)

	var sawToolStep bool
	for _, step := range run.Steps {
		if step.Type == core.StepToolCalls {
			sawToolStep = true
			require.Len(t, step.Details.ToolCalls, 1)
			require.Equal(t, core.ToolCallCodeInterpreter, step.Details.ToolCalls[0].Type)
			require.True(t, step.Details.ToolCalls[0].Resolved())
		}
	}
	require.True(t, sawToolStep, "expected a tool-calls step for the code_interpreter call")

	msgs, err := backend.Messages().List(context.Background(), run.ThreadID)
	require.NoError(t, err)
	require.Len(t, msgs, 3, "expected the user trigger, the tool-call message, and the image message")

	var imageMsg *core.Message
	for i := range msgs {
		if msgs[i].Meta.Type == core.MessageTypeImage {
			imageMsg = &msgs[i]
		}
	}
	require.NotNil(t, imageMsg, "expected an image-bearing assistant message")
	require.Equal(t, core.RoleAssistant, imageMsg.Role)
	require.Len(t, imageMsg.Content, 1)
	require.Equal(t, core.ContentImage, imageMsg.Content[0].Kind)
	require.NotNil(t, imageMsg.Content[0].Attachment)
	require.NotEmpty(t, imageMsg.Content[0].Attachment.FileID)

	require.Equal(t, []string{"file_plot_1"}, ar.downloaded)

	require.NotEmpty(t, sub.frames)
	var terminalCount int
	for _, f := range sub.frames {
		if f.Event == dispatcher.FrameClose || f.Event == dispatcher.FrameError {
			terminalCount++
		}
	}
	require.Equal(t, 1, terminalCount)
	require.Equal(t, dispatcher.FrameClose, sub.frames[len(sub.frames)-1].Event)
}

// TestExecuteHostedRunMirrorsAttachments covers spec.md §4.1 hosted flavor
// step 2: the triggering message's attachments are mirrored into the
// remote thread via Start, not silently dropped.
func TestExecuteHostedRunMirrorsAttachments(t *testing.T) {
	ar := &fakeAssistantRunner{
		startEvents: []openai.RunEvent{
			{Type: openai.RunEventText, TextDelta: "here you go"},
			{Type: openai.RunEventDone, StopReason: "completed"},
		},
	}
	o, backend, _ := newTestHostedOrchestrator(t, ar)
	backend.SeedAgent(core.AgentConfig{ID: "agent-1", Mode: core.ModeAssistant, Model: "gpt-assistant"})

	attachments := []core.Attachment{{FileID: "file_upload_1", Kind: core.AttachmentImage}}
	run, err := o.Execute(context.Background(), Trigger{
		AgentID:     "agent-1",
		ChannelID:   "chan-1",
		UserText:    "what's in this image?",
		Attachments: attachments,
	})
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, run.Status)
	require.Equal(t, attachments, ar.attachmentsSeen)
}

// TestExecuteHostedRunRequiresActionResubmits covers the ordinary function-
// tool path: a requires_action pause, a tool invocation, and a resumed
// stream that completes with assistant text.
func TestExecuteHostedRunRequiresActionResubmits(t *testing.T) {
	ar := &fakeAssistantRunner{
		startEvents: []openai.RunEvent{
			{Type: openai.RunEventRequiresAction, RunID: "run_remote_2", ToolCalls: []model.ToolCall{
				{ID: "call_1", Name: "lookup", Arguments: json.RawMessage(`{}`)},
			}},
		},
		resumeEvents: [][]openai.RunEvent{
			{
				{Type: openai.RunEventText, TextDelta: "found it"},
				{Type: openai.RunEventDone, StopReason: "completed"},
			},
		},
	}
	o, backend, _ := newTestHostedOrchestrator(t, ar)
	require.NoError(t, o.Tools.Register(tools.ToolSpec{
		Name:      "lookup",
		ToolkitID: "demo",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			return "looked up", nil
		},
	}))
	backend.SeedAgent(core.AgentConfig{ID: "agent-1", Mode: core.ModeAssistant, Model: "gpt-assistant", Toolkits: []string{"demo"}})

	run, err := o.Execute(context.Background(), Trigger{AgentID: "agent-1", ChannelID: "chan-1", UserText: "look it up"})
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, run.Status)
	require.Equal(t, 1, ar.resumeCalls)

	msgs, err := backend.Messages().List(context.Background(), run.ThreadID)
	require.NoError(t, err)
	var sawToolCallMessage bool
	for _, m := range msgs {
		if m.Meta.Type == core.MessageTypeToolCall {
			sawToolCallMessage = true
		}
	}
	require.True(t, sawToolCallMessage)
}
