// Package endrun provides the "end_run" built-in toolkit: the sentinel
// tool a model can call to terminate the step loop with status=completed
// (spec.md §4.4 "Sentinels"). The Tool Runner already recognizes the
// literal name "end_run" before any registry lookup; this package exists
// so the tool still gets a real schema/description advertised to the
// model alongside every other enabled tool, rather than being invisible
// in the completion request's tool list.
package endrun

import (
	"context"
	"encoding/json"

	"github.com/advantch/agentrun/tools"
)

// ToolkitID is the toolkit identifier agent configs enable to advertise
// end_run to the model.
const ToolkitID = "end_run"

// ToolName matches the sentinel name the Tool Runner checks directly.
const ToolName = "end_run"

type endRunArgs struct {
	Reason string `json:"reason"`
}

var schemaJSON = json.RawMessage(`{
  "type": "object",
  "properties": {
    "reason": {"type": "string", "description": "Why the run is ending."}
  }
}`)

// New builds the end_run toolkit's ToolSpec. Its handler is reachable only
// if a caller bypasses the Tool Runner's name-based fast path (e.g. a unit
// test invoking the handler directly); in the full Runner.Run path, the
// name check short-circuits before this handler ever runs.
func New() tools.ToolSpec {
	return tools.ToolSpec{
		Name:        ToolName,
		ToolkitID:   ToolkitID,
		Description: "Ends the run successfully. Call this when no further tool use or reply is needed.",
		SchemaJSON:  schemaJSON,
		Run: func(ctx context.Context, arguments json.RawMessage) (any, error) {
			var args endRunArgs
			if len(arguments) > 0 {
				if err := json.Unmarshal(arguments, &args); err != nil {
					return nil, err
				}
			}
			return tools.EndRunMarker{Reason: args.Reason}, nil
		},
	}
}
