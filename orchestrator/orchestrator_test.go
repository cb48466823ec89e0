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
	"github.com/advantch/agentrun/memory"
	"github.com/advantch/agentrun/model"
	"github.com/advantch/agentrun/runctx"
	"github.com/advantch/agentrun/store/memstore"
	"github.com/advantch/agentrun/telemetry"
	"github.com/advantch/agentrun/tools"
	"github.com/advantch/agentrun/tools/toolrunner"
)

// fakeStreamer replays a fixed sequence of chunks, then io.EOF.
type fakeStreamer struct {
	chunks []model.Chunk
	i      int
}

func (s *fakeStreamer) Recv() (model.Chunk, error) {
	if s.i >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *fakeStreamer) Close() error { return nil }

// fakeModelClient hands out the next scripted response from responses on
// each Stream call, in order, so a test can script a multi-step local-
// flavor conversation (e.g. a tool-call turn followed by a final message).
type fakeModelClient struct {
	responses [][]model.Chunk
	calls     int
}

func (f *fakeModelClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	panic("not used by the local flavor's streaming path")
}

func (f *fakeModelClient) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	chunks := f.responses[f.calls]
	f.calls++
	return &fakeStreamer{chunks: chunks}, nil
}

// recording is a connmanager.Subscriber that records every frame broadcast
// to it, in order.
type recording struct {
	frames []dispatcher.Frame
}

func (r *recording) Receive(ctx context.Context, frame any) error {
	if f, ok := frame.(dispatcher.Frame); ok {
		r.frames = append(r.frames, f)
	}
	return nil
}

func newTestOrchestrator(t *testing.T, mc model.Client) (*Orchestrator, *memstore.Backend, *recording) {
	t.Helper()
	backend := memstore.New()
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.ToolSpec{
		Name:        "lookup",
		ToolkitID:   "demo",
		Description: "looks something up",
		SchemaJSON:  json.RawMessage(`{"type":"object"}`),
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			return "looked up", nil
		},
	}))

	manager := local.New()
	sub := &recording{}
	require.NoError(t, manager.Connect(context.Background(), "chan-1", sub))

	o := &Orchestrator{
		Stores:     backend.Bundle(),
		Tools:      reg,
		ToolRunner: toolrunner.New(reg),
		Model:      mc,
		Manager:    manager,
		Registry:   runctx.NewRegistry(),
		Telemetry:  telemetry.Noop(),
	}
	return o, backend, sub
}

func TestExecuteSingleTurnLocalRun(t *testing.T) {
	fm := &fakeModelClient{responses: [][]model.Chunk{
		{
			{Type: model.ChunkText, TextDelta: "hello there"},
			{Type: model.ChunkUsage, Usage: &model.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}},
			{Type: model.ChunkStop, StopReason: "end_turn"},
		},
	}}
	o, backend, sub := newTestOrchestrator(t, fm)
	backend.SeedAgent(core.AgentConfig{ID: "agent-1", Mode: core.ModeLocal, Model: "claude-sonnet-4-5", Instructions: "be helpful"})

	run, err := o.Execute(context.Background(), Trigger{AgentID: "agent-1", ChannelID: "chan-1", UserText: "hi"})
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, run.Status)
	require.Len(t, run.Steps, 1)
	require.Equal(t, core.StepMessageCreation, run.Steps[0].Type)
	require.Equal(t, 15, run.Usage.TotalTokens)
	require.Greater(t, run.Metadata.Credits, 0.0)

	msgs, err := backend.Messages().List(context.Background(), run.ThreadID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(msgs), 2)

	require.NotEmpty(t, sub.frames)
	last := sub.frames[len(sub.frames)-1]
	require.Equal(t, dispatcher.FrameClose, last.Event)
}

func TestExecuteLocalRunWithOneTool(t *testing.T) {
	fm := &fakeModelClient{responses: [][]model.Chunk{
		{
			{Type: model.ChunkToolCall, ToolCall: &model.ToolCall{ID: "call_1", Name: "lookup", Arguments: json.RawMessage(`{}`)}},
			{Type: model.ChunkUsage, Usage: &model.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}},
			{Type: model.ChunkStop, StopReason: "tool_use"},
		},
		{
			{Type: model.ChunkText, TextDelta: "done"},
			{Type: model.ChunkUsage, Usage: &model.TokenUsage{InputTokens: 20, OutputTokens: 8, TotalTokens: 28}},
			{Type: model.ChunkStop, StopReason: "end_turn"},
		},
	}}
	o, backend, _ := newTestOrchestrator(t, fm)
	backend.SeedAgent(core.AgentConfig{ID: "agent-1", Mode: core.ModeLocal, Model: "m", Toolkits: []string{"demo"}})

	run, err := o.Execute(context.Background(), Trigger{AgentID: "agent-1", ChannelID: "chan-1", UserText: "look it up"})
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, run.Status)
	require.Len(t, run.Steps, 2)
	require.Equal(t, core.StepToolCalls, run.Steps[0].Type)
	require.Equal(t, core.StepMessageCreation, run.Steps[1].Type)
	require.Len(t, run.Steps[0].Details.ToolCalls, 1)
	require.True(t, run.Steps[0].Details.ToolCalls[0].Resolved())
	require.Equal(t, 43, run.Usage.TotalTokens)

	msgs, err := backend.Messages().List(context.Background(), run.ThreadID)
	require.NoError(t, err)
	var sawToolCallMessage bool
	for _, m := range msgs {
		if m.Meta.Type == core.MessageTypeToolCall {
			sawToolCallMessage = true
			require.Len(t, m.Meta.ToolCalls, 1)
		}
	}
	require.True(t, sawToolCallMessage)
}

func TestExecuteUnknownAgentReturnsErrorWithoutPersistingRun(t *testing.T) {
	fm := &fakeModelClient{}
	o, _, _ := newTestOrchestrator(t, fm)

	_, err := o.Execute(context.Background(), Trigger{AgentID: "missing", ChannelID: "chan-1", UserText: "hi"})
	require.ErrorIs(t, err, ErrUnknownAgent)
}

func TestExecuteMaxStepsExhaustionCancelsRun(t *testing.T) {
	toolStep := []model.Chunk{
		{Type: model.ChunkToolCall, ToolCall: &model.ToolCall{ID: "call_1", Name: "lookup", Arguments: json.RawMessage(`{}`)}},
		{Type: model.ChunkStop, StopReason: "tool_use"},
	}
	fm := &fakeModelClient{responses: [][]model.Chunk{toolStep, toolStep, toolStep}}
	o, backend, sub := newTestOrchestrator(t, fm)
	backend.SeedAgent(core.AgentConfig{ID: "agent-1", Mode: core.ModeLocal, Model: "m", Toolkits: []string{"demo"}, MaxSteps: 3})

	run, err := o.Execute(context.Background(), Trigger{AgentID: "agent-1", ChannelID: "chan-1", UserText: "loop"})
	require.NoError(t, err)
	require.Equal(t, core.RunCancelled, run.Status)
	require.Equal(t, "max_steps exhausted", run.Metadata.Error)
	require.Len(t, run.Steps, 3)

	require.NotEmpty(t, sub.frames)
	last := sub.frames[len(sub.frames)-1]
	require.Equal(t, dispatcher.FrameError, last.Event)
	require.Equal(t, genericCancelMessage, last.Message)
}

func TestExecuteToolErrorContinuesRunToCompletion(t *testing.T) {
	fm := &fakeModelClient{responses: [][]model.Chunk{
		{
			{Type: model.ChunkToolCall, ToolCall: &model.ToolCall{ID: "call_1", Name: "broken", Arguments: json.RawMessage(`{}`)}},
			{Type: model.ChunkStop, StopReason: "tool_use"},
		},
		{
			{Type: model.ChunkText, TextDelta: "recovered"},
			{Type: model.ChunkStop, StopReason: "end_turn"},
		},
	}}
	o, backend, _ := newTestOrchestrator(t, fm)
	require.NoError(t, o.Tools.Register(tools.ToolSpec{
		Name:      "broken",
		ToolkitID: "demo",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			return nil, errBroken
		},
	}))
	backend.SeedAgent(core.AgentConfig{ID: "agent-1", Mode: core.ModeLocal, Model: "m", Toolkits: []string{"demo"}})

	run, err := o.Execute(context.Background(), Trigger{AgentID: "agent-1", ChannelID: "chan-1", UserText: "break it"})
	require.NoError(t, err)
	require.Equal(t, core.RunCompleted, run.Status)
	require.Equal(t, "Error calling tool broken: boom", run.Steps[0].Details.ToolCalls[0].OutputString)
}

type errType string

func (e errType) Error() string { return string(e) }

const errBroken = errType("boom")

// --- direct unit tests of runToolPhase's terminal-path ownership of
// run.Status, covering the cancellation and end-of-run-sentinel paths
// without driving a full Execute call.

func newBufferForTest(t *testing.T, backend *memstore.Backend, threadID string) *memory.Buffer {
	t.Helper()
	buf, err := memory.Load(context.Background(), backend.Messages(), threadID)
	require.NoError(t, err)
	return buf
}

func TestRunToolPhaseSetsCancelledWhenStopRequested(t *testing.T) {
	o, backend, _ := newTestOrchestrator(t, &fakeModelClient{})

	agent := core.AgentConfig{ID: "agent-1", Mode: core.ModeLocal, Model: "m", Toolkits: []string{"demo"}}
	rc := core.NewRunContext("chan-1", "run-1", "thread-1", "tenant-1", agent)
	o.Registry.Put(rc)
	require.True(t, o.Registry.RequestStop("run-1"))

	run := &core.Run{ID: "run-1", ThreadID: "thread-1", Status: core.RunInProgress}
	step := &core.RunStep{ID: "step-1", RunID: "run-1", ThreadID: "thread-1"}
	toolCalls := []model.ToolCall{{ID: "call_1", Name: "lookup", Arguments: json.RawMessage(`{}`)}}

	manager := local.New()
	disp := dispatcher.New(manager, "chan-1")
	buf := newBufferForTest(t, backend, "thread-1")

	done := o.runToolPhase(context.Background(), rc, run, buf, disp, step, toolCalls, "")
	require.True(t, done)
	require.Equal(t, core.RunCancelled, run.Status)
}

func TestRunToolPhaseEndRunSentinelCompletesRun(t *testing.T) {
	o, backend, _ := newTestOrchestrator(t, &fakeModelClient{})

	agent := core.AgentConfig{ID: "agent-1", Mode: core.ModeLocal, Model: "m"}
	rc := core.NewRunContext("chan-1", "run-1", "thread-1", "tenant-1", agent)

	run := &core.Run{ID: "run-1", ThreadID: "thread-1", Status: core.RunInProgress}
	step := &core.RunStep{ID: "step-1", RunID: "run-1", ThreadID: "thread-1"}
	toolCalls := []model.ToolCall{{ID: "call_1", Name: "end_run", Arguments: json.RawMessage(`{}`)}}

	manager := local.New()
	disp := dispatcher.New(manager, "chan-1")
	buf := newBufferForTest(t, backend, "thread-1")

	done := o.runToolPhase(context.Background(), rc, run, buf, disp, step, toolCalls, "")
	require.True(t, done)
	require.Equal(t, core.RunCompleted, run.Status)
	require.Len(t, step.Details.ToolCalls, 1)
	require.True(t, step.Details.ToolCalls[0].Resolved())
}

func TestRunToolPhaseToolRunnerErrorFailsRun(t *testing.T) {
	o, backend, _ := newTestOrchestrator(t, &fakeModelClient{})

	agent := core.AgentConfig{ID: "agent-1", Mode: core.ModeLocal, Model: "m", Toolkits: []string{"demo"}}
	rc := core.NewRunContext("chan-1", "run-1", "thread-1", "tenant-1", agent)

	run := &core.Run{ID: "run-1", ThreadID: "thread-1", Status: core.RunInProgress}
	step := &core.RunStep{ID: "step-1", RunID: "run-1", ThreadID: "thread-1"}
	// "unregistered" names a tool the registry does not know, which
	// toolrunner.Run reports as a Go invocation error rather than an
	// ordinary captured tool failure.
	toolCalls := []model.ToolCall{{ID: "call_1", Name: "unregistered", Arguments: json.RawMessage(`{}`)}}

	manager := local.New()
	disp := dispatcher.New(manager, "chan-1")
	buf := newBufferForTest(t, backend, "thread-1")

	done := o.runToolPhase(context.Background(), rc, run, buf, disp, step, toolCalls, "")
	require.True(t, done)
	require.Equal(t, core.RunFailed, run.Status)
	require.NotEmpty(t, run.Metadata.Error)
}
