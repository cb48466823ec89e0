// Package mongostore provides a MongoDB-backed implementation of the
// orchestrator's store interfaces, for deployments that want durable,
// queryable run/thread/message history instead of the in-memory reference
// backend.
//
// Grounded on the thin client-wrapper idiom in
// features/run/mongo/{store.go,clients/mongo/client.go}: a small
// collection interface insulates the store from the concrete driver type,
// each record type round-trips through its own bson document struct, and
// writes use an upsert with $setOnInsert for the created timestamp.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/advantch/agentrun/core"
	"github.com/advantch/agentrun/store"
)

const (
	defaultRunsCollection     = "agent_runs"
	defaultThreadsCollection  = "agent_threads"
	defaultMessagesCollection = "agent_messages"
	defaultAgentsCollection   = "agent_configs"
	defaultOpTimeout          = 5 * time.Second
)

// Options configures the Mongo-backed Store.
type Options struct {
	Client             *mongo.Client
	Database           string
	RunsCollection     string // defaults to "agent_runs"
	ThreadsCollection  string // defaults to "agent_threads"
	MessagesCollection string // defaults to "agent_messages"
	AgentsCollection   string // defaults to "agent_configs"
	Timeout            time.Duration
}

// Store owns the Mongo collections backing Threads, Messages, Runs, and
// Agents. DataSourceStore and BlobStorage are not implemented here; pair
// mongostore with pgblob or another blob backend for those.
type Store struct {
	runs     collection
	threads  collection
	messages collection
	agents   collection
	timeout  time.Duration
}

// New constructs a Store and ensures its indexes exist.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongostore: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongostore: database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	db := opts.Client.Database(opts.Database)
	s := &Store{
		runs:     mongoCollection{coll: db.Collection(firstNonEmpty(opts.RunsCollection, defaultRunsCollection))},
		threads:  mongoCollection{coll: db.Collection(firstNonEmpty(opts.ThreadsCollection, defaultThreadsCollection))},
		messages: mongoCollection{coll: db.Collection(firstNonEmpty(opts.MessagesCollection, defaultMessagesCollection))},
		agents:   mongoCollection{coll: db.Collection(firstNonEmpty(opts.AgentsCollection, defaultAgentsCollection))},
		timeout:  timeout,
	}
	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ensureIndexes(ictx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func ensureIndexes(ctx context.Context, s *Store) error {
	if err := s.runs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if err := s.threads.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "thread_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "created_at", Value: 1}},
	}); err != nil {
		return err
	}
	_, err := s.agents.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "agent_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Threads returns the ThreadStore view over this Store.
func (s *Store) Threads() store.ThreadStore { return threadStore{s} }

// Messages returns the MessageStore view over this Store.
func (s *Store) Messages() store.MessageStore { return messageStore{s} }

// Runs returns the RunStore view over this Store.
func (s *Store) Runs() store.RunStore { return runStore{s} }

// Agents returns the AgentStore view over this Store.
func (s *Store) Agents() store.AgentStore { return agentStore{s} }

// --- collection abstraction, so tests can substitute a fake driver ---

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cur cursor, err error)
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongo.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongo.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Close(ctx context.Context) error
	Err() error
}

type mongoCollection struct{ coll *mongo.Collection }

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	return c.coll.Find(ctx, filter, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongo.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView { return mongoIndexView{view: c.coll.Indexes()} }

type mongoIndexView struct{ view mongo.IndexView }

func (v mongoIndexView) CreateOne(ctx context.Context, model mongo.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}

// --- Run documents ---

type runDocument struct {
	RunID       string               `bson:"run_id"`
	ThreadID    string               `bson:"thread_id"`
	TenantID    string               `bson:"tenant_id,omitempty"`
	AgentID     string               `bson:"agent_id"`
	ExternalID  string               `bson:"external_id,omitempty"`
	Status      core.RunStatus       `bson:"status"`
	Steps       []bson.M             `bson:"steps"`
	Usage       core.Usage           `bson:"usage"`
	Metadata    bson.M               `bson:"metadata"`
	Tags        []string             `bson:"tags,omitempty"`
	CreatedAt   time.Time            `bson:"created_at"`
	ModifiedAt  time.Time            `bson:"modified_at"`
}

func fromRun(r core.Run) runDocument {
	steps := make([]bson.M, 0, len(r.Steps))
	for _, step := range r.Steps {
		steps = append(steps, bson.M{
			"id":           step.ID,
			"run_id":       step.RunID,
			"thread_id":    step.ThreadID,
			"assistant_id": step.AssistantID,
			"type":         step.Type,
			"status":       step.Status,
			"message_id":   step.Details.MessageID,
			"tool_calls":   step.Details.ToolCalls,
			"usage":        step.Usage,
			"created_at":   step.CreatedAt,
			"completed_at": step.CompletedAt,
		})
	}
	return runDocument{
		RunID:      r.ID,
		ThreadID:   r.ThreadID,
		TenantID:   r.TenantID,
		AgentID:    r.AgentID,
		ExternalID: r.ExternalID,
		Status:     r.Status,
		Steps:      steps,
		Usage:      r.Usage,
		Metadata: bson.M{
			"credits":      r.Metadata.Credits,
			"cachedEvents": r.Metadata.CachedEvents,
			"error":        r.Metadata.Error,
			"toolOutputs":  r.Metadata.ToolOutputs,
		},
		Tags:       append([]string(nil), r.Tags...),
		CreatedAt:  r.CreatedAt,
		ModifiedAt: r.ModifiedAt,
	}
}

func (d runDocument) toRun() core.Run {
	steps := make([]core.RunStep, 0, len(d.Steps))
	for _, raw := range d.Steps {
		steps = append(steps, decodeStep(raw))
	}
	r := core.Run{
		ID:         d.RunID,
		ThreadID:   d.ThreadID,
		TenantID:   d.TenantID,
		AgentID:    d.AgentID,
		ExternalID: d.ExternalID,
		Status:     d.Status,
		Steps:      steps,
		Usage:      d.Usage,
		Tags:       d.Tags,
		CreatedAt:  d.CreatedAt,
		ModifiedAt: d.ModifiedAt,
	}
	if credits, ok := d.Metadata["credits"].(float64); ok {
		r.Metadata.Credits = credits
	}
	if errStr, ok := d.Metadata["error"].(string); ok {
		r.Metadata.Error = errStr
	}
	return r
}

func decodeStep(raw bson.M) core.RunStep {
	step := core.RunStep{}
	if v, ok := raw["id"].(string); ok {
		step.ID = v
	}
	if v, ok := raw["run_id"].(string); ok {
		step.RunID = v
	}
	if v, ok := raw["thread_id"].(string); ok {
		step.ThreadID = v
	}
	if v, ok := raw["assistant_id"].(string); ok {
		step.AssistantID = v
	}
	if v, ok := raw["type"].(string); ok {
		step.Type = core.StepType(v)
	}
	if v, ok := raw["status"].(string); ok {
		step.Status = core.StepStatus(v)
	}
	if v, ok := raw["message_id"].(string); ok {
		step.Details.MessageID = v
	}
	if v, ok := raw["created_at"].(time.Time); ok {
		step.CreatedAt = v
	}
	if v, ok := raw["completed_at"].(time.Time); ok {
		step.CompletedAt = v
	}
	return step
}

type runStore struct{ s *Store }

func (r runStore) GetOrCreate(ctx context.Context, runID string) (core.Run, bool, error) {
	existing, err := r.Get(ctx, runID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return core.Run{}, false, err
	}
	now := time.Now().UTC()
	created := core.Run{ID: runID, Status: core.RunStarted, CreatedAt: now, ModifiedAt: now}
	if err := r.Save(ctx, created); err != nil {
		return core.Run{}, false, err
	}
	return created, true, nil
}

func (r runStore) Init(ctx context.Context, runID, threadID, tenantID, agentID string, tags []string) (core.Run, error) {
	now := time.Now().UTC()
	created := core.Run{
		ID: runID, ThreadID: threadID, TenantID: tenantID, AgentID: agentID,
		Status: core.RunStarted, Tags: tags, CreatedAt: now, ModifiedAt: now,
	}
	if err := r.Save(ctx, created); err != nil {
		return core.Run{}, err
	}
	return created, nil
}

func (r runStore) Save(ctx context.Context, run core.Run) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	run.ModifiedAt = time.Now().UTC()
	doc := fromRun(run)
	filter := bson.M{"run_id": run.ID}
	update := bson.M{
		"$set":         doc,
		"$setOnInsert": bson.M{"created_at": doc.CreatedAt},
	}
	_, err := r.s.runs.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (r runStore) Get(ctx context.Context, runID string) (core.Run, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()
	var doc runDocument
	if err := r.s.runs.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return core.Run{}, store.ErrNotFound
		}
		return core.Run{}, err
	}
	return doc.toRun(), nil
}

// --- Thread documents ---

type threadDocument struct {
	ThreadID   string    `bson:"thread_id"`
	TenantID   string    `bson:"tenant_id,omitempty"`
	ExternalID string    `bson:"external_id,omitempty"`
	Tags       []string  `bson:"tags,omitempty"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func (d threadDocument) toThread() core.Thread {
	return core.Thread{
		ID: d.ThreadID, TenantID: d.TenantID, ExternalID: d.ExternalID,
		Tags: d.Tags, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

type threadStore struct{ s *Store }

func (t threadStore) GetOrCreate(ctx context.Context, threadID, tenantID string, tags []string) (core.Thread, error) {
	ctx2, cancel := t.s.withTimeout(ctx)
	var existing threadDocument
	err := t.s.threads.FindOne(ctx2, bson.M{"thread_id": threadID}).Decode(&existing)
	cancel()
	if err == nil {
		return existing.toThread(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return core.Thread{}, err
	}
	// BSON dates hold milliseconds; truncating here makes the returned
	// thread equal to what a later GetOrCreate reads back.
	now := time.Now().UTC().Truncate(time.Millisecond)
	th := core.Thread{ID: threadID, TenantID: tenantID, Tags: tags, CreatedAt: now, UpdatedAt: now}
	if err := t.Save(ctx, th); err != nil {
		return core.Thread{}, err
	}
	return th, nil
}

func (t threadStore) Save(ctx context.Context, thread core.Thread) error {
	ctx, cancel := t.s.withTimeout(ctx)
	defer cancel()
	thread.UpdatedAt = time.Now().UTC()
	doc := threadDocument{
		ThreadID: thread.ID, TenantID: thread.TenantID, ExternalID: thread.ExternalID,
		Tags: thread.Tags, CreatedAt: thread.CreatedAt, UpdatedAt: thread.UpdatedAt,
	}
	filter := bson.M{"thread_id": thread.ID}
	update := bson.M{
		"$set":         doc,
		"$setOnInsert": bson.M{"created_at": doc.UpdatedAt},
	}
	_, err := t.s.threads.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (t threadStore) RemoteHandle(ctx context.Context, threadID string) (string, error) {
	ctx, cancel := t.s.withTimeout(ctx)
	defer cancel()
	var doc threadDocument
	if err := t.s.threads.FindOne(ctx, bson.M{"thread_id": threadID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", nil
		}
		return "", err
	}
	return doc.ExternalID, nil
}

// --- Message documents ---

type messageDocument struct {
	MessageID string    `bson:"message_id"`
	ThreadID  string    `bson:"thread_id"`
	RunID     string    `bson:"run_id,omitempty"`
	Role      core.Role `bson:"role"`
	Content   bson.M    `bson:"content"`
	Streaming bool      `bson:"streaming"`
	Type      string    `bson:"type"`
	ToolCalls bson.M    `bson:"tool_calls,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

type messageStore struct{ s *Store }

func (m messageStore) Save(ctx context.Context, message core.Message, threadID string) error {
	ctx, cancel := m.s.withTimeout(ctx)
	defer cancel()
	content := bson.M{"blocks": message.Content}
	doc := messageDocument{
		MessageID: message.ID, ThreadID: threadID, RunID: message.RunID, Role: message.Role,
		Content: content, Streaming: message.Meta.Streaming, Type: string(message.Meta.Type),
		ToolCalls: bson.M{"calls": message.Meta.ToolCalls, "attachments": message.Meta.Attachments},
		CreatedAt: message.Meta.CreatedAt,
	}
	filter := bson.M{"message_id": message.ID}
	update := bson.M{"$set": doc}
	_, err := m.s.messages.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (m messageStore) Get(ctx context.Context, messageID string) (core.Message, error) {
	ctx, cancel := m.s.withTimeout(ctx)
	defer cancel()
	var doc messageDocument
	if err := m.s.messages.FindOne(ctx, bson.M{"message_id": messageID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return core.Message{}, store.ErrNotFound
		}
		return core.Message{}, err
	}
	return decodeMessage(doc), nil
}

func (m messageStore) List(ctx context.Context, threadID string) ([]core.Message, error) {
	ctx, cancel := m.s.withTimeout(ctx)
	defer cancel()
	cur, err := m.s.messages.Find(ctx, bson.M{"thread_id": threadID}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []core.Message
	for cur.Next(ctx) {
		var doc messageDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, decodeMessage(doc))
	}
	return out, cur.Err()
}

func (m messageStore) UpdateToolCalls(ctx context.Context, threadID, fileID string, dataSource core.Attachment) error {
	list, err := m.List(ctx, threadID)
	if err != nil {
		return err
	}
	for _, msg := range list {
		changed := false
		for i := range msg.Meta.Attachments {
			if msg.Meta.Attachments[i].FileID == fileID {
				msg.Meta.Attachments[i] = dataSource
				changed = true
			}
		}
		if changed {
			if err := m.Save(ctx, msg, threadID); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeMessage(doc messageDocument) core.Message {
	msg := core.Message{
		ID: doc.MessageID, ThreadID: doc.ThreadID, RunID: doc.RunID, Role: doc.Role,
		Meta: core.MessageMeta{Streaming: doc.Streaming, Type: core.MessageType(doc.Type), CreatedAt: doc.CreatedAt},
	}
	if blocks, ok := doc.Content["blocks"].([]core.ContentBlock); ok {
		msg.Content = blocks
	}
	if doc.ToolCalls != nil {
		if calls, ok := doc.ToolCalls["calls"].([]core.ToolCall); ok {
			msg.Meta.ToolCalls = calls
		}
		if attachments, ok := doc.ToolCalls["attachments"].([]core.Attachment); ok {
			msg.Meta.Attachments = attachments
		}
	}
	return msg
}

// --- Agent documents ---

type agentDocument struct {
	AgentID           string                     `bson:"agent_id"`
	Name              string                     `bson:"name"`
	Instructions      string                     `bson:"instructions"`
	Model             string                     `bson:"model"`
	Temperature       float64                    `bson:"temperature"`
	Mode              core.AgentMode             `bson:"mode"`
	Toolkits          []string                   `bson:"toolkits,omitempty"`
	ToolConfig        []core.ToolConfigOverride  `bson:"tool_config,omitempty"`
	FileSearchStoreID string                     `bson:"file_search_store_id,omitempty"`
	MaxSteps          int                        `bson:"max_steps"`
}

func (d agentDocument) toConfig() core.AgentConfig {
	return core.AgentConfig{
		ID: d.AgentID, Name: d.Name, Instructions: d.Instructions, Model: d.Model,
		Temperature: d.Temperature, Mode: d.Mode, Toolkits: d.Toolkits, ToolConfig: d.ToolConfig,
		FileSearchStoreID: d.FileSearchStoreID, MaxSteps: d.MaxSteps,
	}
}

type agentStore struct{ s *Store }

func (a agentStore) Get(ctx context.Context, agentID string) (core.AgentConfig, bool, error) {
	ctx, cancel := a.s.withTimeout(ctx)
	defer cancel()
	var doc agentDocument
	if err := a.s.agents.FindOne(ctx, bson.M{"agent_id": agentID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return core.AgentConfig{}, false, nil
		}
		return core.AgentConfig{}, false, err
	}
	return doc.toConfig(), true, nil
}

func (a agentStore) List(ctx context.Context, filters map[string]string) ([]core.AgentConfig, error) {
	ctx, cancel := a.s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{}
	if mode, ok := filters["mode"]; ok {
		filter["mode"] = mode
	}
	if name, ok := filters["name"]; ok {
		filter["name"] = name
	}
	cur, err := a.s.agents.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []core.AgentConfig
	for cur.Next(ctx) {
		var doc agentDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toConfig())
	}
	return out, cur.Err()
}
