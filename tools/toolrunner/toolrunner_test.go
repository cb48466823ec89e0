package toolrunner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/advantch/agentrun/core"
	"github.com/advantch/agentrun/tools"
	"github.com/advantch/agentrun/tools/toolerrors"
)

func newRunContext(override map[string]any) *core.RunContext {
	agent := core.AgentConfig{Toolkits: []string{"demo"}}
	if override != nil {
		agent.ToolConfig = []core.ToolConfigOverride{{ToolkitID: "demo", Config: override}}
	}
	return core.NewRunContext("c1", "r1", "t1", "tenant", agent)
}

func TestRunValidatesArgumentsAgainstSchema(t *testing.T) {
	reg := tools.NewRegistry()
	schema := []byte(`{"type":"object","required":["query"],"properties":{"query":{"type":"string"}}}`)
	if err := reg.Register(tools.ToolSpec{
		Name: "search", ToolkitID: "demo", SchemaJSON: schema,
		Run: func(ctx context.Context, args json.RawMessage) (any, error) { return "ok", nil },
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	runner := New(reg)
	rc := newRunContext(nil)

	_, err := runner.Run(context.Background(), rc, core.ToolCall{ID: "tc1", Name: "search", Arguments: json.RawMessage(`{}`)})
	if err == nil {
		t.Fatal("expected validation error for missing required field")
	}
}

func TestRunMergesToolConfigOverride(t *testing.T) {
	reg := tools.NewRegistry()
	var seen map[string]any
	if err := reg.Register(tools.ToolSpec{
		Name: "search", ToolkitID: "demo",
		StaticConfig: map[string]any{"max_results": float64(5)},
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			return "ok", json.Unmarshal(args, &seen)
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	runner := New(reg)
	rc := newRunContext(map[string]any{"max_results": float64(10)})

	result, err := runner.Run(context.Background(), rc, core.ToolCall{ID: "tc1", Name: "search", Arguments: json.RawMessage(`{"query":"go"}`)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if seen["max_results"] != float64(10) {
		t.Fatalf("expected override to win over static config, got %v", seen["max_results"])
	}
	if seen["query"] != "go" {
		t.Fatalf("expected invocation argument to survive merge, got %+v", seen)
	}
}

func TestRunCapturesToolError(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(tools.ToolSpec{
		Name: "flaky", ToolkitID: "demo",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) { return nil, errors.New("boom") },
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	runner := New(reg)
	result, err := runner.Run(context.Background(), newRunContext(nil), core.ToolCall{ID: "tc1", Name: "flaky"})
	if err != nil {
		t.Fatalf("run should not return a Go error for a tool-body failure: %v", err)
	}
	if !result.IsError || result.OutputString != "Error calling tool flaky: boom" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunEndRunSentinelByName(t *testing.T) {
	runner := New(tools.NewRegistry())
	result, err := runner.Run(context.Background(), newRunContext(nil), core.ToolCall{ID: "tc1", Name: "end_run"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.EndRun {
		t.Fatal("expected end_run tool name to set EndRun")
	}
}

func TestRunEndRunSentinelByMarkerValue(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(tools.ToolSpec{
		Name: "finish", ToolkitID: "demo",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			return tools.EndRunMarker{Reason: "done"}, nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	runner := New(reg)
	result, err := runner.Run(context.Background(), newRunContext(nil), core.ToolCall{ID: "tc1", Name: "finish"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.EndRun || result.EndRunReason != "done" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunEndRunSentinelByRaisedSignal(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(tools.ToolSpec{
		Name: "finish", ToolkitID: "demo",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			return nil, &toolerrors.EndRun{Reason: "all done"}
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	runner := New(reg)
	result, err := runner.Run(context.Background(), newRunContext(nil), core.ToolCall{ID: "tc1", Name: "finish"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.EndRun || result.EndRunReason != "all done" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunUnknownToolReturnsInvocationError(t *testing.T) {
	runner := New(tools.NewRegistry())
	_, err := runner.Run(context.Background(), newRunContext(nil), core.ToolCall{ID: "tc1", Name: "nonexistent"})
	var unknown *ErrUnknownTool
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestCaptureUsesResultsStringer(t *testing.T) {
	reg := tools.NewRegistry()
	if err := reg.Register(tools.ToolSpec{
		Name: "render", ToolkitID: "demo",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) { return stringerResult{}, nil },
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	runner := New(reg)
	result, err := runner.Run(context.Background(), newRunContext(nil), core.ToolCall{ID: "tc1", Name: "render"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.OutputString != "custom rendering" {
		t.Fatalf("expected custom ResultsString rendering, got %q", result.OutputString)
	}
}

type stringerResult struct{}

func (stringerResult) ResultsString() string { return "custom rendering" }
