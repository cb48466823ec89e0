// Package toolerrors provides structured error types for tool invocation
// failures (spec.md §4.4): preserving message and causal context while
// still implementing the standard error interface, so errors.Is/As keep
// working across a tool's error chain.
//
// Ported and adapted from runtime/agent/toolerrors/tool_error.go, unchanged
// in shape — the teacher's own "agent-as-tool" rationale for keeping
// errors serialization-friendly applies identically to spec.md's tool
// sentinel handling (an EndRun-class signal is reported through this
// package's own EndRun type, see below).
package toolerrors

import (
	"errors"
	"fmt"
)

// ToolError represents a structured tool failure. Tool errors may be
// nested via Cause to retain diagnostics across retries and nested
// (agent-as-tool) invocations.
type ToolError struct {
	Message string
	Cause   *ToolError
}

// New constructs a ToolError with the provided message.
func New(message string) *ToolError {
	if message == "" {
		message = "tool error"
	}
	return &ToolError{Message: message}
}

// NewWithCause constructs a ToolError that wraps an underlying error.
func NewWithCause(message string, cause error) *ToolError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &ToolError{Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into a ToolError chain.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Errorf formats according to a format specifier and returns a ToolError.
func Errorf(format string, args ...any) *ToolError {
	return New(fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying tool error to support errors.Is/As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// EndRun is the sentinel error a tool body raises to end the step loop
// immediately with status=completed (spec.md §4.4 "Sentinels": "...or a
// tool raising an EndRun-class signal..."). Reason is optional
// caller-facing context; it does not surface as a failure since ending the
// run this way is success, not error.
type EndRun struct {
	Reason string
}

// Error implements the error interface so EndRun can be returned/raised
// like any other tool error; the Tool Runner type-switches for it
// specifically rather than treating it as a failure.
func (e *EndRun) Error() string {
	if e.Reason == "" {
		return "tool requested end of run"
	}
	return e.Reason
}

// IsEndRun reports whether err is (or wraps) an EndRun sentinel.
func IsEndRun(err error) bool {
	var er *EndRun
	return errors.As(err, &er)
}
