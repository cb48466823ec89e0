// Package store defines the pluggable persistence interfaces the Run
// Orchestrator consumes (spec.md §6). All operations MUST be idempotent on
// primary key. Not-found conditions return (zero, ErrNotFound); transport
// failures are returned as opaque errors, which the orchestrator treats as
// fatal for the run (spec.md §7, "Transport errors").
//
// Concrete backends live in sibling packages: memstore (in-memory,
// reference/test), mongostore (MongoDB), and pgblob (Postgres + local
// filesystem, for DataSourceStore/BlobStorage).
package store

import (
	"context"
	"errors"

	"github.com/advantch/agentrun/core"
)

// ErrNotFound is returned by Get-style store methods when the requested
// record does not exist.
var ErrNotFound = errors.New("store: not found")

type (
	// ThreadStore persists Thread records.
	ThreadStore interface {
		// GetOrCreate returns the thread for id, creating it if absent.
		GetOrCreate(ctx context.Context, threadID, tenantID string, tags []string) (core.Thread, error)
		// Save upserts the thread record.
		Save(ctx context.Context, thread core.Thread) error
		// RemoteHandle returns the thread's external id, if any has been
		// mirrored into a hosted-assistant service.
		RemoteHandle(ctx context.Context, threadID string) (string, error)
	}

	// MessageStore persists Message records within a Thread.
	MessageStore interface {
		// Save upserts a message under threadID. Idempotent on message id.
		Save(ctx context.Context, message core.Message, threadID string) error
		// Get retrieves a single message by id.
		Get(ctx context.Context, messageID string) (core.Message, error)
		// List returns every message for threadID, ordered by CreatedAt.
		List(ctx context.Context, threadID string) ([]core.Message, error)
		// UpdateToolCalls splices a resolved attachment (e.g. an image URL)
		// into the tool-call metadata of messages referencing fileID, once
		// the data source has been resolved.
		UpdateToolCalls(ctx context.Context, threadID, fileID string, dataSource core.Attachment) error
	}

	// RunStore persists Run records.
	RunStore interface {
		// GetOrCreate returns the run for id, creating a zero-value Run in
		// status=started if absent. The bool reports whether it was created.
		GetOrCreate(ctx context.Context, runID string) (core.Run, bool, error)
		// Init creates a new Run row in status=started.
		Init(ctx context.Context, runID, threadID, tenantID, agentID string, tags []string) (core.Run, error)
		// Save upserts the run record.
		Save(ctx context.Context, run core.Run) error
		// Get retrieves a run by id.
		Get(ctx context.Context, runID string) (core.Run, error)
	}

	// AgentStore resolves agent configuration.
	AgentStore interface {
		// Get returns the agent config for id, or (zero, false, nil) if
		// unknown — configuration errors are surfaced at entry dispatch,
		// before a Run is created (spec.md §7).
		Get(ctx context.Context, agentID string) (core.AgentConfig, bool, error)
		// List returns every agent config matching filters (nil for all).
		List(ctx context.Context, filters map[string]string) ([]core.AgentConfig, error)
	}

	// DataSource describes a stored file's metadata, independent of the
	// attachment reference that points at it from a Message.
	DataSource struct {
		FileID      string
		Name        string
		ContentType string
		Size        int64
		Metadata    map[string]string
	}

	// DataSourceStore persists uploaded file metadata and bytes.
	DataSourceStore interface {
		SaveFile(ctx context.Context, blob []byte, metadata map[string]string) (DataSource, error)
		Get(ctx context.Context, fileID string) (DataSource, []byte, error)
		List(ctx context.Context) ([]DataSource, error)
		Delete(ctx context.Context, fileID string) error
	}

	// Tool describes a registered tool's static configuration, independent
	// of the in-process tools.Tool callable the Tool Runner invokes.
	Tool struct {
		ID          string
		Name        string
		Description string
		Config      map[string]any
	}

	// ToolStore is an optional store for tool metadata; not every
	// deployment needs durable tool records (built-in toolkits are
	// typically registered in-process).
	ToolStore interface {
		Get(ctx context.Context, toolID string) (Tool, bool, error)
		List(ctx context.Context) ([]Tool, error)
	}

	// FileStoreMetadata is the result of a successful blob save.
	FileStoreMetadata struct {
		FileID string
		Name   string
		Size   int64
		URI    string
	}

	// BlobStorageMethod selects the HTTP method a presigned URL should
	// authorize (GET to read, PUT to write).
	BlobStorageMethod string

	// BlobStorage persists raw bytes for uploaded files. Concrete backends
	// (local filesystem, S3) are collaborators, not part of the core; the
	// orchestrator only resolves attachments through this interface when a
	// tool or dispatcher needs the underlying bytes or a URL.
	BlobStorage interface {
		Save(ctx context.Context, blob []byte, fileID, name string) (FileStoreMetadata, error)
		Get(ctx context.Context, meta FileStoreMetadata) ([]byte, error)
		Delete(ctx context.Context, meta FileStoreMetadata) error
		PresignedURL(ctx context.Context, fileID string, method BlobStorageMethod) (string, error)
	}
)

const (
	BlobStorageGet BlobStorageMethod = "GET"
	BlobStoragePut BlobStorageMethod = "PUT"
)

// Stores bundles every store the orchestrator consumes for one execution.
// Entry Dispatch (component I) assembles this from the process-wide
// backends before invoking the Run Orchestrator.
type Stores struct {
	Threads     ThreadStore
	Messages    MessageStore
	Runs        RunStore
	Agents      AgentStore
	DataSources DataSourceStore
	Tools       ToolStore
	Blobs       BlobStorage
}
