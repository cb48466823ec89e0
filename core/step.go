package core

import "time"

// StepType identifies the kind of atomic decision a Step represents.
type StepType string

const (
	StepMessageCreation StepType = "message_creation"
	StepToolCalls       StepType = "tool_calls"
)

// StepStatus tracks the lifecycle of a single Step.
type StepStatus string

const (
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepCancelled  StepStatus = "cancelled"
)

// StepDetails carries exactly one of the two shapes a Step can take: a
// reference to the message it created, or the ordered tool-call batch it
// scheduled.
type StepDetails struct {
	MessageID string
	ToolCalls []ToolCall
}

// Usage aggregates token counts for a Step or a Run.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add returns the element-wise sum of two Usage values.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// RunStep is one atomic decision made by the model within a Run.
//
// Invariant: steps within a run are totally ordered by CreatedAt. A
// tool_calls step's tool-call ids are globally unique within the run.
type RunStep struct {
	ID          string
	RunID       string
	ThreadID    string
	AssistantID string
	Type        StepType
	Status      StepStatus
	Details     StepDetails
	Usage       Usage
	CreatedAt   time.Time
	CompletedAt time.Time
}
