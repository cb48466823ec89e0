// Package memory implements Runtime Memory (spec.md §4.5): the ordered,
// per-thread buffer of messages the orchestrator reads to build model
// requests and appends to as new messages are produced.
//
// Grounded on agents/runtime/memory.Store's Load/Append shape, generalized
// from that package's chronological event log into spec.md's ordered
// Message buffer, and on agents/runtime/memory/inmem's defensive-copy-on-
// load discipline (mutating a loaded snapshot must never corrupt the
// store's internal state).
//
// Open Question decision (spec.md §4.5): Memory is scoped per-thread, not
// per-run — a new run against an existing thread starts with that
// thread's full history already loaded (see DESIGN.md).
package memory

import (
	"context"
	"sync"

	"github.com/advantch/agentrun/core"
	"github.com/advantch/agentrun/store"
)

// Buffer is the in-process, per-thread ordered message buffer the
// orchestrator reads and appends to during a run. It is backed by a
// store.MessageStore for the subset of messages that must survive past
// the run (persist=true on Put); ephemeral entries (mid-stream deltas)
// live only in the buffer until superseded or persisted.
type Buffer struct {
	mu       sync.Mutex
	threadID string
	messages []core.Message
	store    store.MessageStore
}

// Load constructs a Buffer for threadID, seeded with every message
// already persisted for that thread (spec.md §4.5's "load" operation).
func Load(ctx context.Context, messages store.MessageStore, threadID string) (*Buffer, error) {
	existing, err := messages.List(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return &Buffer{
		threadID: threadID,
		messages: append([]core.Message(nil), existing...),
		store:    messages,
	}, nil
}

// Put appends message to the buffer in order, or replaces the buffered
// message with the same id in place (so a final snapshot supersedes its
// streaming deltas without duplicating them). When persist is true, it is
// also written through to the backing MessageStore (spec.md §4.5's "put"
// operation); streaming deltas typically pass persist=false and a final
// call with the completed message passes persist=true.
func (b *Buffer) Put(ctx context.Context, message core.Message, persist bool) error {
	b.mu.Lock()
	replaced := false
	for i, m := range b.messages {
		if m.ID == message.ID {
			b.messages[i] = message
			replaced = true
			break
		}
	}
	if !replaced {
		b.messages = append(b.messages, message)
	}
	b.mu.Unlock()

	if !persist {
		return nil
	}
	return b.store.Save(ctx, message, b.threadID)
}

// List returns every message in the buffer, in order. When runID is
// non-empty, only messages produced during that run are returned
// (spec.md §4.5's "list" operation, run-scoped form); pre-run history
// carries RunID == "" and is excluded from a run-scoped List.
func (b *Buffer) List(runID string) []core.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if runID == "" {
		out := make([]core.Message, len(b.messages))
		copy(out, b.messages)
		return out
	}
	var out []core.Message
	for _, m := range b.messages {
		if m.RunID == runID {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recently appended message, if any (spec.md §4.5's
// "last" operation).
func (b *Buffer) Last() (core.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.messages) == 0 {
		return core.Message{}, false
	}
	return b.messages[len(b.messages)-1], true
}

// ThreadID returns the thread this buffer is scoped to.
func (b *Buffer) ThreadID() string {
	return b.threadID
}
