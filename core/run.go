package core

import "time"

// RunStatus is the lifecycle state of a Run. Transitions are monotone
// except requires_action -> in_progress; completed/failed/cancelled are
// sinks.
type RunStatus string

const (
	RunStarted        RunStatus = "started"
	RunInProgress      RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
)

// Terminal reports whether status is a sink state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo enforces the monotone status ordering from spec.md §3,
// with the single allowed backward edge requires_action -> in_progress.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	if s.Terminal() {
		return false
	}
	if s == RunRequiresAction && next == RunInProgress {
		return true
	}
	order := map[RunStatus]int{
		RunStarted:        0,
		RunInProgress:      1,
		RunRequiresAction: 2,
		RunCompleted:      3,
		RunFailed:         3,
		RunCancelled:      3,
	}
	return order[next] >= order[s]
}

// RunMetadata is the structured form of the metadata bag spec.md §3
// describes: credits, cached event log, terminal error, and tool outputs.
type RunMetadata struct {
	// Credits records the consumed-credit entry for a successful run.
	Credits float64
	// CachedEvents holds the dispatcher frames emitted during the run, kept
	// for replay/debugging. Not required for correctness.
	CachedEvents []string
	// Error carries the technical error detail when Status == RunFailed.
	Error string
	// ToolOutputs buffers enriched tool calls (with structured_output) so
	// the hosted flavor can splice them into the final Step when the remote
	// service returns only strings (spec.md §4.1 hosted flavor, step 4).
	ToolOutputs map[string]ToolCall
}

// Run is the root aggregate: one bounded execution of an agent against a
// user message.
//
// Invariant: total usage equals the sum over steps.
type Run struct {
	ID         string
	ThreadID   string
	TenantID   string
	AgentID    string
	ExternalID string
	Status     RunStatus
	Steps      []RunStep
	Usage      Usage
	Metadata   RunMetadata
	Tags       []string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// RecomputeUsage recomputes Usage as the sum over Steps, restoring the
// invariant after steps are appended out of band.
func (r *Run) RecomputeUsage() {
	var total Usage
	for _, s := range r.Steps {
		total = total.Add(s.Usage)
	}
	r.Usage = total
}

// AppendStep appends a step in emission order and keeps Usage in sync.
func (r *Run) AppendStep(step RunStep) {
	r.Steps = append(r.Steps, step)
	r.Usage = r.Usage.Add(step.Usage)
}
