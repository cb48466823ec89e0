package core

import "time"

// Thread is a conversation container. It is created lazily on the first run
// for a new thread id and is never deleted by the orchestrator.
type Thread struct {
	// ID is the opaque thread identifier.
	ID string
	// TenantID scopes the thread to a tenant. Optional; the orchestrator
	// trusts it as given (multi-tenant authorization is out of scope).
	TenantID string
	// ExternalID is the handle into a hosted-assistant service, set the
	// first time a hosted-flavor run mirrors this thread remotely.
	ExternalID string
	// Tags carries caller-provided labels.
	Tags []string
	// CreatedAt records when the thread was first seen.
	CreatedAt time.Time
	// UpdatedAt records the last modification.
	UpdatedAt time.Time
}

// HasExternalHandle reports whether the thread has already been mirrored
// into a hosted-assistant service.
func (t Thread) HasExternalHandle() bool {
	return t.ExternalID != ""
}
