package dispatcher

import (
	"context"
	"testing"

	"github.com/advantch/agentrun/connmanager/local"
)

func TestStreamBroadcastsFrame(t *testing.T) {
	manager := local.New()
	ctx := context.Background()
	var got Frame
	manager.Connect(ctx, "c1", recvFunc(func(ctx context.Context, frame any) error {
		got = frame.(Frame)
		return nil
	}))

	d := New(manager, "c1")
	if err := d.Stream(ctx, "r1", "t1", MessageTypeMessage, "hello", true, false); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got.Event != FrameMessage || got.RunID != "r1" || got.Message != "hello" {
		t.Fatalf("unexpected frame: %+v", got)
	}
}

func TestCloseThenCloseAgainFails(t *testing.T) {
	manager := local.New()
	d := New(manager, "c1")
	ctx := context.Background()
	if err := d.Close(ctx, "r1", "t1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := d.Close(ctx, "r1", "t1"); err == nil {
		t.Fatal("expected second close for the same run to fail")
	}
}

func TestCloseThenErrorFails(t *testing.T) {
	manager := local.New()
	d := New(manager, "c1")
	ctx := context.Background()
	if err := d.Close(ctx, "r1", "t1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := d.Error(ctx, "r1", "t1", "generic", "detail"); err == nil {
		t.Fatal("expected error() after close() for the same run to fail (mutually exclusive terminals)")
	}
}

func TestErrorEmitsGenericAndDetail(t *testing.T) {
	manager := local.New()
	ctx := context.Background()
	var got Frame
	manager.Connect(ctx, "c1", recvFunc(func(ctx context.Context, frame any) error {
		got = frame.(Frame)
		return nil
	}))
	d := New(manager, "c1")
	if err := d.Error(ctx, "r1", "t1", "Something went wrong, please try again later.", "boom: connection refused"); err != nil {
		t.Fatalf("error: %v", err)
	}
	if got.Event != FrameError || got.Message != "Something went wrong, please try again later." || got.ErrorDetail != "boom: connection refused" {
		t.Fatalf("unexpected frame: %+v", got)
	}
}

func TestDifferentRunsEachGetOwnTerminal(t *testing.T) {
	manager := local.New()
	d := New(manager, "c1")
	ctx := context.Background()
	if err := d.Close(ctx, "r1", "t1"); err != nil {
		t.Fatalf("close r1: %v", err)
	}
	if err := d.Close(ctx, "r2", "t1"); err != nil {
		t.Fatalf("close r2 should succeed independently of r1: %v", err)
	}
}

type recvFunc func(ctx context.Context, frame any) error

func (f recvFunc) Receive(ctx context.Context, frame any) error { return f(ctx, frame) }
