package redischan

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T) (*Manager, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m, err := New(client)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, func() {
		_ = client.Close()
		mr.Close()
	}
}

func TestBroadcastDeliversToSubscriber(t *testing.T) {
	m, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()

	received := make(chan any, 1)
	sub := recvFunc(func(ctx context.Context, frame any) error {
		received <- frame
		return nil
	})
	if err := m.Connect(ctx, "chan-1", sub); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect(ctx, "chan-1", sub)

	if err := m.Broadcast(ctx, "chan-1", map[string]any{"event": "close", "runId": "r1"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	select {
	case frame := <-received:
		got, ok := frame.(map[string]any)
		if !ok || got["runId"] != "r1" {
			t.Fatalf("unexpected frame: %+v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered frame")
	}
}

func TestDisconnectStopsForwarding(t *testing.T) {
	m, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()

	count := 0
	received := make(chan struct{}, 4)
	sub := recvFunc(func(ctx context.Context, frame any) error {
		count++
		received <- struct{}{}
		return nil
	})
	if err := m.Connect(ctx, "chan-1", sub); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.Broadcast(ctx, "chan-1", map[string]any{"event": "message"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	<-received

	if err := m.Disconnect(ctx, "chan-1", sub); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := m.Broadcast(ctx, "chan-1", map[string]any{"event": "message"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	select {
	case <-received:
		t.Fatal("expected no further delivery after disconnect")
	case <-time.After(200 * time.Millisecond):
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 delivery before disconnect, got %d", count)
	}
}

func TestConnectRequiresSubscriber(t *testing.T) {
	m, cleanup := newTestManager(t)
	defer cleanup()
	if err := m.Connect(context.Background(), "chan-1", nil); err == nil {
		t.Fatal("expected error connecting nil subscriber")
	}
}

type recvFunc func(ctx context.Context, frame any) error

func (f recvFunc) Receive(ctx context.Context, frame any) error { return f(ctx, frame) }
