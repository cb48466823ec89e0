// Package model defines the provider-agnostic message, request, and
// streaming types shared by the local (Anthropic chat-completions) and
// hosted (OpenAI Assistants-style) run flavors (spec.md §4.1). Messages are
// modeled as typed parts rather than flattened strings, so a tool call and
// its eventual result survive translation to and from each provider's wire
// format without losing structure.
//
// This is a narrower cut of the teacher's richer model package: it keeps
// text, image, tool-use, and tool-result parts and drops document/citation
// and extended-thinking support, since spec.md scopes out RAG and citation
// generation and never asks either run flavor to surface reasoning traces.
package model

import (
	"context"
	"encoding/json"
	"errors"
)

// ConversationRole identifies the speaker of a Message.
type ConversationRole string

const (
	RoleSystem    ConversationRole = "system"
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
)

type (
	// Part is implemented by every message content block. Concrete types
	// capture plain text, image bytes, a requested tool call, or a tool's
	// result in a strongly typed form instead of an untyped string.
	Part interface {
		isPart()
	}

	// TextPart is a plain text content block.
	TextPart struct {
		Text string
	}

	// ImageFormat identifies the on-wire encoding of an ImagePart.
	ImageFormat string

	// ImagePart carries image bytes attached to a user message.
	ImagePart struct {
		Format ImageFormat
		Bytes  []byte
	}

	// ToolUsePart declares a tool invocation requested by the assistant.
	ToolUsePart struct {
		ID    string
		Name  string
		Input json.RawMessage
	}

	// ToolResultPart carries a tool's result, attached to a user-role
	// message so the model can read it on the next turn.
	ToolResultPart struct {
		ToolUseID string
		Content   string
		IsError   bool
	}
)

const (
	ImageFormatPNG  ImageFormat = "png"
	ImageFormatJPEG ImageFormat = "jpeg"
	ImageFormatGIF  ImageFormat = "gif"
	ImageFormatWEBP ImageFormat = "webp"
)

func (TextPart) isPart()       {}
func (ImagePart) isPart()      {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// Message is a single chat message in a transcript passed to a model
// client. Parts preserve structure rather than flattening to plain text.
type Message struct {
	Role  ConversationRole
	Parts []Part
	// Meta carries provider- or application-specific metadata. None of the
	// adapters in this module reads or sets it.
	Meta map[string]any
}

// Text concatenates every TextPart in the message, for callers that only
// need a plain-text rendering.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			out += t.Text
		}
	}
	return out
}

// ToolDefinition describes a tool exposed to the model, derived from a
// tools.ToolSpec's name, description, and JSON Schema.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolCall is a tool invocation requested by the model, with arguments
// already in canonical JSON form.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolCallDelta is an incremental tool-call argument fragment streamed by a
// provider while it is still constructing the full arguments JSON. Callers
// may ignore it entirely; the canonical payload is the ToolCall emitted
// once the provider closes the tool-call block.
type ToolCallDelta struct {
	ID    string
	Name  string
	Delta string
}

// ToolChoiceMode controls how a Request permits the model to use tools.
type ToolChoiceMode string

const (
	// ToolChoiceAuto lets the provider decide whether to call a tool or
	// respond with text. This is the default when ToolChoice is nil.
	ToolChoiceAuto ToolChoiceMode = "auto"
	// ToolChoiceNone disables tool use for the request.
	ToolChoiceNone ToolChoiceMode = "none"
	// ToolChoiceAny forces the model to call some tool.
	ToolChoiceAny ToolChoiceMode = "any"
	// ToolChoiceTool forces the model to call the tool named in ToolChoice.Name.
	ToolChoiceTool ToolChoiceMode = "tool"
)

// ToolChoice configures optional tool-use behavior for a Request.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// TokenUsage tracks token counts reported by a model call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ModelClass selects a model family when Request.Model is left empty,
// letting callers ask for "the default model" or "the small model" without
// naming a provider-specific identifier.
type ModelClass string

const (
	ModelClassDefault ModelClass = "default"
	ModelClassSmall   ModelClass = "small"
)

// Request captures the inputs to a model invocation.
type Request struct {
	RunID       string
	Model       string
	ModelClass  ModelClass
	Messages    []Message
	Temperature float32
	MaxTokens   int
	Tools       []ToolDefinition
	ToolChoice  *ToolChoice
}

// Response is the result of a non-streaming Complete call.
type Response struct {
	Message    Message
	ToolCalls  []ToolCall
	Usage      TokenUsage
	StopReason string
}

// Chunk is one streaming event from a model. Type selects which of the
// other fields is meaningful.
type Chunk struct {
	Type          ChunkType
	TextDelta     string
	ToolCall      *ToolCall
	ToolCallDelta *ToolCallDelta
	Usage         *TokenUsage
	StopReason    string
}

// ChunkType classifies a streaming Chunk.
type ChunkType string

const (
	ChunkText          ChunkType = "text"
	ChunkToolCall      ChunkType = "tool_call"
	ChunkToolCallDelta ChunkType = "tool_call_delta"
	ChunkUsage         ChunkType = "usage"
	ChunkStop          ChunkType = "stop"
)

// Client is the provider-agnostic model client implemented by each
// provider adapter (model/anthropic, model/openai).
type Client interface {
	// Complete performs a non-streaming model invocation.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Stream performs a streaming model invocation. Implementations that
	// cannot stream return ErrStreamingUnsupported.
	Stream(ctx context.Context, req *Request) (Streamer, error)
}

// Streamer delivers incremental model output. Callers drain Recv until it
// returns io.EOF or another terminal error, then call Close exactly once.
type Streamer interface {
	Recv() (Chunk, error)
	Close() error
}

// ErrStreamingUnsupported indicates the provider adapter does not support
// streaming invocations.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting. Callers should treat this as a transient infrastructure failure
// rather than retry in a tight loop.
var ErrRateLimited = errors.New("model: rate limited")
