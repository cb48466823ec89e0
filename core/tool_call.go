package core

import "encoding/json"

// ToolCallType distinguishes the built-in tool-call shapes a model provider
// may emit. function covers ordinary tool calls; code_interpreter and
// file_search are hosted-assistant built-in toolkits.
type ToolCallType string

const (
	ToolCallFunction        ToolCallType = "function"
	ToolCallCodeInterpreter ToolCallType = "code_interpreter"
	ToolCallFileSearch      ToolCallType = "file_search"
)

// ToolCall is one model-requested invocation of a named tool.
//
// Invariant: ID is unique within one Step. OutputString and
// StructuredOutput are set exactly once, after the tool runs.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
	Type      ToolCallType

	// OutputString and StructuredOutput are populated by the Tool Runner
	// after execution; both are nil/empty until then.
	OutputString     string
	StructuredOutput any

	// done marks whether the call has been patched with a result, so a
	// second Patch can be detected (and rejected) without re-running the tool.
	done bool
}

// Patch fills in the tool's output exactly once. Calling Patch twice on the
// same ToolCall is a programmer error and panics, since the invariant in
// spec.md §3 requires output to be set exactly once.
func (tc *ToolCall) Patch(outputString string, structured any) {
	if tc.done {
		panic("core: tool call " + tc.ID + " patched more than once")
	}
	tc.OutputString = outputString
	tc.StructuredOutput = structured
	tc.done = true
}

// Resolved reports whether the tool call has received its output.
func (tc ToolCall) Resolved() bool {
	return tc.done
}
