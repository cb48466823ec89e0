// Package dispatcher implements the Dispatcher (spec.md §4.3): the only
// sanctioned path from the orchestrator/event handler to the outside world.
// It serializes run events onto a Connection Manager channel as one of
// three mutually exclusive frame families — stream, close, error — and
// guarantees exactly one terminal frame (close xor error) per run.
//
// Grounded on agents/runtime/hooks.Bus for the publish/fan-out shape and on
// hooks.StreamSubscriber for translating a domain event into a wire frame;
// generalized from the teacher's hook-event taxonomy to spec.md's three-
// frame wire contract (stream/close/error, camelCased at the wire boundary).
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/advantch/agentrun/connmanager"
)

// FrameEvent is the wire-level "event" discriminator (spec.md §6).
type FrameEvent string

const (
	FrameMessage FrameEvent = "message"
	FrameClose   FrameEvent = "close"
	FrameError   FrameEvent = "error"
)

// MessageType further classifies a stream frame for UI rendering
// (spec.md §4.3/§6).
type MessageType string

const (
	MessageTypeMessage  MessageType = "message"
	MessageTypeAction   MessageType = "action"
	MessageTypeImage    MessageType = "image"
	MessageTypeToolCall MessageType = "tool_call"
	MessageTypeClose    MessageType = "close"
	MessageTypeError    MessageType = "error"
)

// Frame is the wire-level JSON object a Dispatcher hands to the Connection
// Manager. Field names carry their camelCase wire tags directly (spec.md
// §6's "Event frame"); there is no separate wire-DTO translation step.
type Frame struct {
	RunID       string      `json:"runId"`
	ThreadID    string      `json:"threadId"`
	ChannelID   string      `json:"channelId"`
	Event       FrameEvent  `json:"event"`
	MessageType MessageType `json:"messageType"`
	Streaming   bool        `json:"streaming"`
	// Patch, when true, tells the receiver to merge by Message.id into an
	// existing message; otherwise the receiver replaces/appends.
	Patch       bool `json:"patch"`
	Message     any  `json:"message"`
	ErrorDetail string `json:"errorDetail,omitempty"`
}

// Dispatcher wraps a connmanager.Manager and enforces the single-terminal-
// frame invariant per run (spec.md §4.1: "emit exactly one terminal frame
// (close or error) through the Dispatcher").
type Dispatcher struct {
	manager   connmanager.Manager
	channelID string

	mu       sync.Mutex
	done     map[string]bool
}

// New constructs a Dispatcher broadcasting onto channelID through manager.
func New(manager connmanager.Manager, channelID string) *Dispatcher {
	return &Dispatcher{manager: manager, channelID: channelID, done: make(map[string]bool)}
}

// Stream emits a partial or final domain message frame. message is patch
// (true) or an authoritative replace/append (false), per spec.md §4.3's
// patch-by-id merge semantics.
func (d *Dispatcher) Stream(ctx context.Context, runID, threadID string, messageType MessageType, message any, streaming, patch bool) error {
	frame := Frame{
		RunID:       runID,
		ThreadID:    threadID,
		ChannelID:   d.channelID,
		Event:       FrameMessage,
		MessageType: messageType,
		Streaming:   streaming,
		Patch:       patch,
		Message:     message,
	}
	return d.manager.Broadcast(ctx, d.channelID, frame)
}

// Close emits the single terminal success frame for runID. A second call
// for the same run is rejected, since close and error are mutually
// exclusive and each run gets exactly one terminal frame.
func (d *Dispatcher) Close(ctx context.Context, runID, threadID string) error {
	if err := d.markTerminal(runID); err != nil {
		return err
	}
	frame := Frame{
		RunID:       runID,
		ThreadID:    threadID,
		ChannelID:   d.channelID,
		Event:       FrameClose,
		MessageType: MessageTypeClose,
	}
	return d.manager.Broadcast(ctx, d.channelID, frame)
}

// Error emits the single terminal failure/cancellation frame for runID.
// detail carries the technical message; userMessage is the generic
// caller-facing text (spec.md §7: "Something went wrong, please try again
// later." on failure, a distinct generic text on cancellation).
func (d *Dispatcher) Error(ctx context.Context, runID, threadID, userMessage, detail string) error {
	if err := d.markTerminal(runID); err != nil {
		return err
	}
	frame := Frame{
		RunID:       runID,
		ThreadID:    threadID,
		ChannelID:   d.channelID,
		Event:       FrameError,
		MessageType: MessageTypeError,
		Message:     userMessage,
		ErrorDetail: detail,
	}
	return d.manager.Broadcast(ctx, d.channelID, frame)
}

// markTerminal records that runID has emitted its one allowed terminal
// frame, failing a second attempt rather than silently double-emitting.
func (d *Dispatcher) markTerminal(runID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done[runID] {
		return fmt.Errorf("dispatcher: run %s already emitted a terminal frame", runID)
	}
	d.done[runID] = true
	return nil
}
