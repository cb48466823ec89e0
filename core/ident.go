// Package core defines the data model shared by every orchestrator
// subsystem: Thread, Message, Attachment, ToolCall, RunStep, Run, and
// AgentConfig. Types here are plain data — no store access, and no behavior
// beyond invariant-preserving helpers such as ToolCall.Patch,
// RunStatus.CanTransitionTo, and Run.AppendStep — so that store, memory,
// dispatcher, and orchestrator packages can all
// depend on core without importing each other.
package core

import "github.com/google/uuid"

// NewID generates a fresh opaque identifier. Stores and callers may also
// supply their own ids (e.g. a hosted-assistant thread id mirrored from the
// remote service); NewID exists for the common case of an orchestrator-
// generated id.
func NewID() string {
	return uuid.NewString()
}
