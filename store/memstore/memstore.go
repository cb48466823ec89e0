// Package memstore provides an in-memory implementation of every store
// interface (store.ThreadStore, MessageStore, RunStore, AgentStore,
// ToolStore, DataSourceStore, BlobStorage), suitable for the CLI demo,
// tests, and local development. It is not durable and not safe across
// process restarts.
//
// Each interface is satisfied by its own small wrapper type sharing one
// mutex-guarded state block, because Go method sets cannot overload a
// single receiver type across interfaces that reuse method names like Get
// or Save. Backend.Bundle assembles all seven into a store.Stores.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/advantch/agentrun/core"
	"github.com/advantch/agentrun/store"
)

type fileRecord struct {
	meta store.DataSource
	blob []byte
}

// state is the shared backing store every wrapper type reads and writes
// through, guarded by a single mutex.
type state struct {
	mu       sync.RWMutex
	threads  map[string]core.Thread
	messages map[string][]core.Message // keyed by thread id, append-ordered
	runs     map[string]core.Run
	agents   map[string]core.AgentConfig
	tools    map[string]store.Tool
	files    map[string]fileRecord
}

func newState() *state {
	return &state{
		threads:  make(map[string]core.Thread),
		messages: make(map[string][]core.Message),
		runs:     make(map[string]core.Run),
		agents:   make(map[string]core.AgentConfig),
		tools:    make(map[string]store.Tool),
		files:    make(map[string]fileRecord),
	}
}

// Backend owns the shared in-memory state and hands out typed views that
// each satisfy exactly one store interface.
type Backend struct {
	st *state
}

// New constructs an empty Backend.
func New() *Backend {
	return &Backend{st: newState()}
}

// Reset clears every record, useful between test cases sharing a Backend.
func (b *Backend) Reset() {
	b.st.mu.Lock()
	defer b.st.mu.Unlock()
	fresh := newState()
	b.st.threads = fresh.threads
	b.st.messages = fresh.messages
	b.st.runs = fresh.runs
	b.st.agents = fresh.agents
	b.st.tools = fresh.tools
	b.st.files = fresh.files
}

// SeedAgent registers an agent config directly, bypassing persistence, for
// tests and the CLI demo that construct configuration in code.
func (b *Backend) SeedAgent(cfg core.AgentConfig) {
	b.st.mu.Lock()
	defer b.st.mu.Unlock()
	b.st.agents[cfg.ID] = cfg
}

// SeedTool registers a tool record directly, bypassing persistence.
func (b *Backend) SeedTool(t store.Tool) {
	b.st.mu.Lock()
	defer b.st.mu.Unlock()
	b.st.tools[t.ID] = t
}

// Threads returns the ThreadStore view over this Backend.
func (b *Backend) Threads() store.ThreadStore { return threadStore{b.st} }

// Messages returns the MessageStore view over this Backend.
func (b *Backend) Messages() store.MessageStore { return messageStore{b.st} }

// Runs returns the RunStore view over this Backend.
func (b *Backend) Runs() store.RunStore { return runStore{b.st} }

// Agents returns the AgentStore view over this Backend.
func (b *Backend) Agents() store.AgentStore { return agentStore{b.st} }

// Tools returns the ToolStore view over this Backend.
func (b *Backend) Tools() store.ToolStore { return toolStore{b.st} }

// DataSources returns the DataSourceStore view over this Backend.
func (b *Backend) DataSources() store.DataSourceStore { return dataSourceStore{b.st} }

// Blobs returns the BlobStorage view over this Backend.
func (b *Backend) Blobs() store.BlobStorage { return blobStore{b.st} }

// Bundle assembles every view into a store.Stores for Entry Dispatch.
func (b *Backend) Bundle() store.Stores {
	return store.Stores{
		Threads:     b.Threads(),
		Messages:    b.Messages(),
		Runs:        b.Runs(),
		Agents:      b.Agents(),
		DataSources: b.DataSources(),
		Tools:       b.Tools(),
		Blobs:       b.Blobs(),
	}
}

// --- ThreadStore ---

type threadStore struct{ st *state }

func (t threadStore) GetOrCreate(ctx context.Context, threadID, tenantID string, tags []string) (core.Thread, error) {
	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	if th, ok := t.st.threads[threadID]; ok {
		return th, nil
	}
	now := time.Now().UTC()
	th := core.Thread{
		ID:        threadID,
		TenantID:  tenantID,
		Tags:      append([]string(nil), tags...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.st.threads[threadID] = th
	return th, nil
}

func (t threadStore) Save(ctx context.Context, thread core.Thread) error {
	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	thread.UpdatedAt = time.Now().UTC()
	thread.Tags = append([]string(nil), thread.Tags...)
	t.st.threads[thread.ID] = thread
	return nil
}

func (t threadStore) RemoteHandle(ctx context.Context, threadID string) (string, error) {
	t.st.mu.RLock()
	defer t.st.mu.RUnlock()
	return t.st.threads[threadID].ExternalID, nil
}

// --- MessageStore ---

type messageStore struct{ st *state }

// copyMessage returns a deep-enough copy so callers mutating Content or
// Meta slices cannot corrupt the stored record.
func copyMessage(m core.Message) core.Message {
	m.Content = append([]core.ContentBlock(nil), m.Content...)
	m.Meta.ToolCalls = append([]core.ToolCall(nil), m.Meta.ToolCalls...)
	m.Meta.Attachments = append([]core.Attachment(nil), m.Meta.Attachments...)
	return m
}

// Save upserts a message under threadID, idempotent on message id: a second
// Save with the same id replaces the prior entry in place rather than
// appending a duplicate.
func (s messageStore) Save(ctx context.Context, message core.Message, threadID string) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	stored := copyMessage(message)
	list := s.st.messages[threadID]
	for i, m := range list {
		if m.ID == stored.ID {
			list[i] = stored
			s.st.messages[threadID] = list
			return nil
		}
	}
	s.st.messages[threadID] = append(list, stored)
	return nil
}

func (s messageStore) Get(ctx context.Context, messageID string) (core.Message, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	for _, list := range s.st.messages {
		for _, m := range list {
			if m.ID == messageID {
				return copyMessage(m), nil
			}
		}
	}
	return core.Message{}, store.ErrNotFound
}

func (s messageStore) List(ctx context.Context, threadID string) ([]core.Message, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	list := s.st.messages[threadID]
	out := make([]core.Message, len(list))
	for i, m := range list {
		out[i] = copyMessage(m)
	}
	return out, nil
}

func (s messageStore) UpdateToolCalls(ctx context.Context, threadID, fileID string, dataSource core.Attachment) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	list := s.st.messages[threadID]
	for i := range list {
		for k := range list[i].Meta.Attachments {
			if list[i].Meta.Attachments[k].FileID == fileID {
				list[i].Meta.Attachments[k] = dataSource
			}
		}
	}
	s.st.messages[threadID] = list
	return nil
}

// --- RunStore ---

type runStore struct{ st *state }

// copyRun returns a deep-enough copy so callers mutating Steps/Tags/
// Metadata cannot corrupt the stored record.
func copyRun(r core.Run) core.Run {
	r.Steps = append([]core.RunStep(nil), r.Steps...)
	r.Tags = append([]string(nil), r.Tags...)
	r.Metadata.CachedEvents = append([]string(nil), r.Metadata.CachedEvents...)
	if r.Metadata.ToolOutputs != nil {
		outputs := make(map[string]core.ToolCall, len(r.Metadata.ToolOutputs))
		for k, v := range r.Metadata.ToolOutputs {
			outputs[k] = v
		}
		r.Metadata.ToolOutputs = outputs
	}
	return r
}

func (s runStore) GetOrCreate(ctx context.Context, runID string) (core.Run, bool, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if r, ok := s.st.runs[runID]; ok {
		return copyRun(r), false, nil
	}
	now := time.Now().UTC()
	r := core.Run{ID: runID, Status: core.RunStarted, CreatedAt: now, ModifiedAt: now}
	s.st.runs[runID] = r
	return copyRun(r), true, nil
}

func (s runStore) Init(ctx context.Context, runID, threadID, tenantID, agentID string, tags []string) (core.Run, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	now := time.Now().UTC()
	r := core.Run{
		ID:         runID,
		ThreadID:   threadID,
		TenantID:   tenantID,
		AgentID:    agentID,
		Status:     core.RunStarted,
		Tags:       append([]string(nil), tags...),
		CreatedAt:  now,
		ModifiedAt: now,
	}
	s.st.runs[runID] = r
	return copyRun(r), nil
}

func (s runStore) Save(ctx context.Context, run core.Run) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	run.ModifiedAt = time.Now().UTC()
	s.st.runs[run.ID] = copyRun(run)
	return nil
}

func (s runStore) Get(ctx context.Context, runID string) (core.Run, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	r, ok := s.st.runs[runID]
	if !ok {
		return core.Run{}, store.ErrNotFound
	}
	return copyRun(r), nil
}

// --- AgentStore ---

type agentStore struct{ st *state }

// copyAgent returns a copy so callers mutating Toolkits/ToolConfig cannot
// corrupt the stored record.
func copyAgent(a core.AgentConfig) core.AgentConfig {
	a.Toolkits = append([]string(nil), a.Toolkits...)
	a.ToolConfig = append([]core.ToolConfigOverride(nil), a.ToolConfig...)
	return a
}

func (s agentStore) Get(ctx context.Context, agentID string) (core.AgentConfig, bool, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	cfg, ok := s.st.agents[agentID]
	if !ok {
		return core.AgentConfig{}, false, nil
	}
	return copyAgent(cfg), true, nil
}

func (s agentStore) List(ctx context.Context, filters map[string]string) ([]core.AgentConfig, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	out := make([]core.AgentConfig, 0, len(s.st.agents))
	for _, a := range s.st.agents {
		if matchesFilters(a, filters) {
			out = append(out, copyAgent(a))
		}
	}
	return out, nil
}

func matchesFilters(a core.AgentConfig, filters map[string]string) bool {
	for k, v := range filters {
		switch k {
		case "mode":
			if string(a.Mode) != v {
				return false
			}
		case "name":
			if a.Name != v {
				return false
			}
		}
	}
	return true
}

// --- ToolStore ---

type toolStore struct{ st *state }

func (s toolStore) Get(ctx context.Context, toolID string) (store.Tool, bool, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	t, ok := s.st.tools[toolID]
	return t, ok, nil
}

func (s toolStore) List(ctx context.Context) ([]store.Tool, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	out := make([]store.Tool, 0, len(s.st.tools))
	for _, t := range s.st.tools {
		out = append(out, t)
	}
	return out, nil
}

// --- DataSourceStore ---

type dataSourceStore struct{ st *state }

func (s dataSourceStore) SaveFile(ctx context.Context, blob []byte, metadata map[string]string) (store.DataSource, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	id := core.NewID()
	ds := store.DataSource{FileID: id, Size: int64(len(blob)), Metadata: metadata}
	if metadata != nil {
		ds.Name = metadata["name"]
		ds.ContentType = metadata["content_type"]
	}
	s.st.files[id] = fileRecord{meta: ds, blob: append([]byte(nil), blob...)}
	return ds, nil
}

func (s dataSourceStore) Get(ctx context.Context, fileID string) (store.DataSource, []byte, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	rec, ok := s.st.files[fileID]
	if !ok {
		return store.DataSource{}, nil, store.ErrNotFound
	}
	return rec.meta, append([]byte(nil), rec.blob...), nil
}

func (s dataSourceStore) List(ctx context.Context) ([]store.DataSource, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	out := make([]store.DataSource, 0, len(s.st.files))
	for _, rec := range s.st.files {
		out = append(out, rec.meta)
	}
	return out, nil
}

func (s dataSourceStore) Delete(ctx context.Context, fileID string) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	delete(s.st.files, fileID)
	return nil
}

// --- BlobStorage ---

type blobStore struct{ st *state }

func (s blobStore) Save(ctx context.Context, blob []byte, fileID, name string) (store.FileStoreMetadata, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	rec := s.st.files[fileID]
	rec.blob = append([]byte(nil), blob...)
	rec.meta.FileID = fileID
	rec.meta.Name = name
	rec.meta.Size = int64(len(blob))
	s.st.files[fileID] = rec
	return store.FileStoreMetadata{FileID: fileID, Name: name, Size: int64(len(blob)), URI: "mem://" + fileID}, nil
}

func (s blobStore) Get(ctx context.Context, meta store.FileStoreMetadata) ([]byte, error) {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	rec, ok := s.st.files[meta.FileID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), rec.blob...), nil
}

func (s blobStore) Delete(ctx context.Context, meta store.FileStoreMetadata) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	delete(s.st.files, meta.FileID)
	return nil
}

func (s blobStore) PresignedURL(ctx context.Context, fileID string, method store.BlobStorageMethod) (string, error) {
	return "mem://" + fileID + "?method=" + string(method), nil
}
