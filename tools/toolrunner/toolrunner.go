// Package toolrunner implements the Tool Runner (spec.md §4.4): resolves
// {tool_name, arguments_json} against the agent config's active tool set,
// validates arguments, merges config, executes, and captures a ToolResult.
//
// Grounded on the validate-then-execute shape pluginsdk.ValidateConfig
// uses around a compiled jsonschema.Schema, and on how the teacher attaches
// a JSON schema directly to a tool spec (tools.TypeSpec.Schema) and expects
// runtimes to validate invocation payloads against it before execution.
package toolrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/advantch/agentrun/core"
	"github.com/advantch/agentrun/tools"
	"github.com/advantch/agentrun/tools/toolerrors"
)

// ToolResult is the Tool Runner's per-invocation outcome (spec.md §4.4
// step 5's `ToolResult{tool_call_id, structured_output, output_string,
// is_error, is_private, end_turn}`).
type ToolResult struct {
	ToolCallID       string
	StructuredOutput any
	OutputString     string
	IsError          bool
	IsPrivate        bool
	// EndRun reports whether this invocation is an end-of-run sentinel
	// (tool name "end_run", an EndRunMarker return value, or a raised
	// *toolerrors.EndRun) — spec.md §4.4 "Sentinels".
	EndRun bool
	// EndRunReason carries an optional caller-facing reason when EndRun
	// is true.
	EndRunReason string
}

// ErrUnknownTool is returned when a tool call names a tool that is not in
// the resolved tool set.
type ErrUnknownTool struct{ Name string }

func (e *ErrUnknownTool) Error() string { return fmt.Sprintf("toolrunner: unknown tool %q", e.Name) }

// Runner resolves and executes tool calls against a Registry.
type Runner struct {
	registry *tools.Registry
}

// New constructs a Runner backed by registry.
func New(registry *tools.Registry) *Runner {
	return &Runner{registry: registry}
}

// sentinelEndRunName is the reserved tool name that always ends the run
// when invoked, regardless of registration (spec.md §4.4: "a end_run tool
// name... cause[s] the orchestrator to terminate the step loop with
// status=completed").
const sentinelEndRunName = "end_run"

// Run resolves call against the Registry and executes it under rc's
// ambient Run Context (spec.md §4.4 steps 1-5). It never returns a Go
// error for an ordinary tool failure — those are captured into
// ToolResult.IsError/OutputString per spec.md §4.4's "Errors" paragraph —
// only for an invocation error (unknown tool, schema validation failure).
func (r *Runner) Run(ctx context.Context, rc *core.RunContext, call core.ToolCall) (ToolResult, error) {
	if call.Name == sentinelEndRunName {
		return ToolResult{ToolCallID: call.ID, EndRun: true, OutputString: "run ended by end_run tool"}, nil
	}

	spec, ok := r.registry.Get(call.Name)
	if !ok {
		return ToolResult{}, &ErrUnknownTool{Name: call.Name}
	}

	if spec.Schema != nil {
		var decoded any
		if err := json.Unmarshal(call.Arguments, &decoded); err != nil {
			return ToolResult{}, fmt.Errorf("toolrunner: decode arguments for %s: %w", call.Name, err)
		}
		if err := spec.Schema.Validate(decoded); err != nil {
			return ToolResult{}, fmt.Errorf("toolrunner: invalid arguments for %s: %w", call.Name, err)
		}
	}

	merged, err := mergeConfig(spec, rc, call.Arguments)
	if err != nil {
		return ToolResult{}, fmt.Errorf("toolrunner: merge config for %s: %w", call.Name, err)
	}

	result, runErr := spec.Run(ctx, merged)
	return capture(call.ID, call.Name, result, runErr), nil
}

// mergeConfig reads the tool's static config and any tool_config[toolkit_id]
// override from the ambient Run Context, then merges invocation arguments
// on top (spec.md §4.4 step 2); invocation-supplied fields win over
// configured defaults.
func mergeConfig(spec tools.ToolSpec, rc *core.RunContext, arguments json.RawMessage) (json.RawMessage, error) {
	merged := make(map[string]any, len(spec.StaticConfig))
	for k, v := range spec.StaticConfig {
		merged[k] = v
	}
	if rc != nil {
		for _, override := range rc.ToolConfig {
			if override.ToolkitID == spec.ToolkitID {
				for k, v := range override.Config {
					merged[k] = v
				}
			}
		}
	}
	if len(arguments) > 0 {
		var args map[string]any
		if err := json.Unmarshal(arguments, &args); err != nil {
			return nil, err
		}
		for k, v := range args {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// capture builds a ToolResult from a tool's raw return value and error,
// implementing spec.md §4.4 step 4's capture rules and the "Sentinels"/
// "Errors" paragraphs.
func capture(toolCallID, toolName string, result any, runErr error) ToolResult {
	if runErr != nil {
		if toolerrors.IsEndRun(runErr) {
			return ToolResult{ToolCallID: toolCallID, EndRun: true, EndRunReason: runErr.Error(), OutputString: runErr.Error()}
		}
		return ToolResult{
			ToolCallID:   toolCallID,
			IsError:      true,
			OutputString: fmt.Sprintf("Error calling tool %s: %s", toolName, runErr.Error()),
		}
	}

	if marker, ok := result.(tools.EndRunMarker); ok {
		return ToolResult{ToolCallID: toolCallID, EndRun: true, EndRunReason: marker.Reason, OutputString: marker.Reason}
	}

	out := ToolResult{ToolCallID: toolCallID, StructuredOutput: result}
	if stringer, ok := result.(tools.ResultStringer); ok {
		out.OutputString = stringer.ResultsString()
	} else if s, ok := result.(string); ok {
		out.OutputString = s
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			out.IsError = true
			out.OutputString = fmt.Sprintf("Error calling tool %s: %s", toolName, err.Error())
			return out
		}
		out.OutputString = string(raw)
	}
	if private, ok := result.(tools.PrivateResult); ok {
		out.IsPrivate = private.IsPrivate()
	}
	return out
}

// WithTimeout bounds a single tool invocation's wall clock per spec.md §5's
// "a per-step wall-clock bound MAY be configured; on expiry, the behavior
// is identical to cancellation." Callers wrap ctx before calling Run.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
