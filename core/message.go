package core

import "time"

// Role identifies who produced a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentBlockKind distinguishes the kinds of content a Message can carry.
type ContentBlockKind string

const (
	ContentText  ContentBlockKind = "text"
	ContentImage ContentBlockKind = "image"
	ContentFile  ContentBlockKind = "file"
)

// ContentBlock is one ordered unit of message content. Exactly one of Text
// or Attachment is meaningful, selected by Kind.
type ContentBlock struct {
	Kind       ContentBlockKind
	Text       string
	Attachment *Attachment
}

// MessageType further classifies a Message for UI rendering.
type MessageType string

const (
	MessageTypeMessage  MessageType = "message"
	MessageTypeToolCall MessageType = "tool_call"
	MessageTypeImage    MessageType = "image"
)

// MessageMeta carries the streaming flag, type, tool calls, and timestamp
// that ride alongside a Message's content.
type MessageMeta struct {
	// Streaming is true while a delta is still being appended; false on the
	// final snapshot.
	Streaming bool
	// Type classifies the message for UI rendering.
	Type MessageType
	// ToolCalls lists the tool calls carried by an assistant message that
	// requested tool execution. Only set when Type == MessageTypeToolCall,
	// per the invariant that a message with tool calls has Role ==
	// RoleAssistant.
	ToolCalls []ToolCall
	// CreatedAt records when the message was produced.
	CreatedAt time.Time
	// Attachments lists file/image references carried by the message,
	// independent of inline ContentBlock attachments (kept for parity with
	// how hosted-assistant transcripts attach files at the message level).
	Attachments []Attachment
}

// Message is one turn or tool event in a Thread.
//
// Invariant: id is stable across delta updates and the final snapshot.
// Within a thread, messages are totally ordered by CreatedAt. A message
// whose Meta carries tool calls has Role == RoleAssistant.
type Message struct {
	ID       string
	ThreadID string
	// RunID is absent for pre-run user input when replayed.
	RunID   string
	Role    Role
	Content []ContentBlock
	Meta    MessageMeta
}

// Text concatenates every text content block, for callers that only need
// the plain-text rendering of a message (e.g. building a model request).
func (m Message) Text() string {
	var out string
	for _, c := range m.Content {
		if c.Kind == ContentText {
			out += c.Text
		}
	}
	return out
}

// AttachmentKind distinguishes the two attachment kinds the orchestrator
// understands.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is a reference-only pointer into the data-source store. The
// orchestrator never inlines bytes; it resolves FileID against the
// DataSourceStore to obtain a URL or bytes on demand.
type Attachment struct {
	FileID string
	Kind   AttachmentKind
}
