// Package tools declares the static shape of a callable tool (spec.md
// §4.4) and a Registry resolving tool names against the agent config's
// active tool set (the union of built-in toolkits and custom-registered
// tools).
//
// Grounded on agents/runtime/tools.ToolSpec/TypeSpec: a fully-qualified
// name, a compiled-once JSON schema attached to the tool, and a handler
// the runtime invokes — generalized from the teacher's codegen-produced,
// strongly-typed JSONCodec[T] pair into a single schema-validated
// json.RawMessage handler signature, since spec.md's Tool Runner treats
// every tool as "an opaque named callable with a JSON-schema parameter
// surface" rather than a codegen-bound Go type.
package tools

import (
	"context"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Handler executes one tool invocation against already-schema-validated,
// config-merged arguments. It returns the tool's raw result value (any Go
// value the caller renders per the capture rules in toolrunner), or an
// error — including a *toolerrors.EndRun sentinel.
type Handler func(ctx context.Context, arguments json.RawMessage) (any, error)

// ResultStringer lets a tool self-declare its string rendering
// ("results_string" in spec.md §4.4 step 4) instead of falling back to a
// deterministic JSON serialization of the return value.
type ResultStringer interface {
	ResultsString() string
}

// PrivateResult lets a tool mark its result private (excluded from the
// user-visible transcript while still feeding the model), surfaced as
// ToolResult.IsPrivate by the Tool Runner.
type PrivateResult interface {
	IsPrivate() bool
}

// EndRunMarker is returned as a tool's result value to end the step loop
// with status=completed (spec.md §4.4 "Sentinels": "...or a tool
// returning an EndRun marker..."), the return-value counterpart to raising
// *toolerrors.EndRun.
type EndRunMarker struct {
	Reason string
}

// ToolSpec is the static description of one tool, attached to a toolkit.
type ToolSpec struct {
	// Name is the tool's invocation name, matched against
	// ToolCall.Name (spec.md §4.4's {tool_name, arguments_json}).
	Name string
	// ToolkitID groups tools for agent-config enablement and for
	// tool_config[toolkit_id] override lookup (spec.md §4.4 step 2).
	ToolkitID string
	// Description is surfaced to the model as part of the tool schema
	// advertised in the completion/assistant request.
	Description string
	// SchemaJSON is the tool's parameter JSON schema, compiled once at
	// registration time into Schema.
	SchemaJSON json.RawMessage
	// Schema is SchemaJSON compiled via santhosh-tekuri/jsonschema/v6.
	// Populated by Registry.Register; nil until then.
	Schema *jsonschema.Schema
	// StaticConfig is the tool's own default configuration, read before
	// any tool_config[toolkit_id] override from the Run Context is
	// merged in (spec.md §4.4 step 2).
	StaticConfig map[string]any
	// Run is the callable invoked by the Tool Runner.
	Run Handler
}

// Registry resolves tool names against the union of registered tools.
// Not safe for concurrent Register calls with concurrent Get; callers
// build the registry once at startup before serving runs.
type Registry struct {
	tools map[string]ToolSpec
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ToolSpec)}
}

// Register compiles spec.SchemaJSON (if present) and adds spec to the
// registry, keyed by its Name. Registering a name twice overwrites the
// prior registration.
func (r *Registry) Register(spec ToolSpec) error {
	if len(spec.SchemaJSON) > 0 && spec.Schema == nil {
		compiled, err := compileSchema(spec.Name, spec.SchemaJSON)
		if err != nil {
			return err
		}
		spec.Schema = compiled
	}
	r.tools[spec.Name] = spec
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (ToolSpec, bool) {
	spec, ok := r.tools[name]
	return spec, ok
}

// ForToolkits returns every registered tool whose ToolkitID is in
// toolkitIDs, the agent config's enabled-toolkit list (spec.md §4.4's
// "union of built-in toolkits and custom-registered tools").
func (r *Registry) ForToolkits(toolkitIDs []string) []ToolSpec {
	enabled := make(map[string]bool, len(toolkitIDs))
	for _, id := range toolkitIDs {
		enabled[id] = true
	}
	var out []ToolSpec
	for _, spec := range r.tools {
		if enabled[spec.ToolkitID] {
			out = append(out, spec)
		}
	}
	return out
}

// compileSchema compiles raw JSON schema bytes, grounded on the same
// compile-then-cache-on-the-spec idiom as pluginsdk.ValidateConfig in the
// example pack (compile once, reuse the *jsonschema.Schema for every
// invocation instead of recompiling per call).
func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	resourceName := name + ".schema.json"
	if err := compiler.AddResource(resourceName, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(resourceName)
}
