package memstore

import (
	"context"
	"testing"

	"github.com/advantch/agentrun/core"
	"github.com/advantch/agentrun/store"
)

func TestRunStoreDefensiveCopy(t *testing.T) {
	b := New()
	ctx := context.Background()
	runs := b.Runs()

	r, err := runs.Init(ctx, "r1", "t1", "", "agent-1", []string{"foo"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	r.Tags[0] = "mutated"

	reread, err := runs.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reread.Tags[0] != "foo" {
		t.Fatalf("expected defensive copy, got %q", reread.Tags[0])
	}
}

func TestRunStoreGetOrCreate(t *testing.T) {
	b := New()
	ctx := context.Background()
	runs := b.Runs()

	created, wasNew, err := runs.GetOrCreate(ctx, "r1")
	if err != nil {
		t.Fatalf("getOrCreate: %v", err)
	}
	if !wasNew || created.Status != core.RunStarted {
		t.Fatalf("expected new run in started status, got %+v (new=%v)", created, wasNew)
	}

	_, wasNew, err = runs.GetOrCreate(ctx, "r1")
	if err != nil {
		t.Fatalf("getOrCreate second call: %v", err)
	}
	if wasNew {
		t.Fatalf("expected second GetOrCreate to find the existing run")
	}
}

func TestMessageStoreSaveIsIdempotentOnID(t *testing.T) {
	b := New()
	ctx := context.Background()
	messages := b.Messages()

	m := core.Message{ID: "m1", ThreadID: "t1", Role: core.RoleUser, Content: []core.ContentBlock{{Kind: core.ContentText, Text: "hi"}}}
	if err := messages.Save(ctx, m, "t1"); err != nil {
		t.Fatalf("save: %v", err)
	}
	m.Content[0].Text = "hi again"
	if err := messages.Save(ctx, m, "t1"); err != nil {
		t.Fatalf("save: %v", err)
	}

	list, err := messages.List(ctx, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one stored message, got %d", len(list))
	}
	if list[0].Text() != "hi again" {
		t.Fatalf("expected replaced content, got %q", list[0].Text())
	}
}

func TestMessageStoreListReturnsDefensiveCopy(t *testing.T) {
	b := New()
	ctx := context.Background()
	messages := b.Messages()

	m := core.Message{ID: "m1", ThreadID: "t1", Role: core.RoleUser, Content: []core.ContentBlock{{Kind: core.ContentText, Text: "hi"}}}
	if err := messages.Save(ctx, m, "t1"); err != nil {
		t.Fatalf("save: %v", err)
	}

	list, err := messages.List(ctx, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	list[0].Content[0].Text = "tampered"

	reread, err := messages.List(ctx, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if reread[0].Text() != "hi" {
		t.Fatalf("expected defensive copy, got %q", reread[0].Text())
	}
}

func TestAgentStoreGetAndList(t *testing.T) {
	b := New()
	ctx := context.Background()
	b.SeedAgent(core.AgentConfig{ID: "a1", Name: "Helper", Mode: core.ModeLocal, Toolkits: []string{"web_browser"}})

	agents := b.Agents()
	cfg, ok, err := agents.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || cfg.Name != "Helper" {
		t.Fatalf("expected to find seeded agent, got %+v (ok=%v)", cfg, ok)
	}

	cfg.Toolkits[0] = "tampered"
	reread, _, _ := agents.Get(ctx, "a1")
	if reread.Toolkits[0] != "web_browser" {
		t.Fatalf("expected defensive copy, got %q", reread.Toolkits[0])
	}

	filtered, err := agents.List(ctx, map[string]string{"mode": "local"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(filtered) != 1 {
		t.Fatalf("expected one agent matching mode filter, got %d", len(filtered))
	}

	none, err := agents.List(ctx, map[string]string{"mode": "assistant"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no agents matching mode filter, got %d", len(none))
	}
}

func TestBlobStorageRoundTrip(t *testing.T) {
	b := New()
	ctx := context.Background()
	blobs := b.Blobs()

	meta, err := blobs.Save(ctx, []byte("hello"), "f1", "greeting.txt")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := blobs.Get(ctx, meta)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected round-tripped bytes, got %q", got)
	}

	if err := blobs.Delete(ctx, meta); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := blobs.Get(ctx, meta); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestBackendReset(t *testing.T) {
	b := New()
	ctx := context.Background()
	if _, err := b.Runs().Init(ctx, "r1", "t1", "", "a1", nil); err != nil {
		t.Fatalf("init: %v", err)
	}

	b.Reset()

	if _, err := b.Runs().Get(ctx, "r1"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound after reset, got %v", err)
	}
}
