// Package redischan implements connmanager.Manager over Redis pub/sub,
// letting the Dispatcher fan out to subscribers connected to a different
// process than the one running the orchestrator.
//
// Grounded on features/stream/pulse/sink.go's Envelope-and-publish idiom
// (JSON-marshal the outbound value, publish it keyed by a derived channel
// name, surface a constructor error for a missing client) and on
// features/stream/pulse/subscriber.go's decode-in-a-goroutine-per-
// subscription shape; substitutes go-redis/v9's native Publish/Subscribe
// for Pulse's Redis-streams consumer groups, since Pulse itself is not
// fetchable outside the Goa ecosystem's module proxy and spec.md's
// Connection Manager needs no consumer-group replay semantics — only
// best-effort fan-out (spec.md §4.3: "does not buffer across connection
// drops; delivery is best-effort").
package redischan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/advantch/agentrun/connmanager"
)

// Manager fans frames out to subscribers via Redis PUBLISH/SUBSCRIBE, one
// Redis channel per Connection Manager channel id.
type Manager struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[string]map[connmanager.Subscriber]*subscription
}

type subscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

// New constructs a Manager backed by an existing *redis.Client. The caller
// owns the client's lifecycle.
func New(client *redis.Client) (*Manager, error) {
	if client == nil {
		return nil, errors.New("connmanager/redischan: redis client is required")
	}
	return &Manager{client: client, subs: make(map[string]map[connmanager.Subscriber]*subscription)}, nil
}

// Connect opens a Redis subscription on channelID and forwards every
// message delivered on it to subscriber.Receive, decoded back into the
// dispatcher.Frame JSON shape it was published as. The forwarding goroutine
// exits when Disconnect is called or the subscription's context is
// canceled.
func (m *Manager) Connect(ctx context.Context, channelID string, subscriber connmanager.Subscriber) error {
	if subscriber == nil {
		return errors.New("connmanager/redischan: subscriber is required")
	}
	pubsub := m.client.Subscribe(ctx, channelID)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("connmanager/redischan: subscribe %s: %w", channelID, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.subs[channelID] == nil {
		m.subs[channelID] = make(map[connmanager.Subscriber]*subscription)
	}
	m.subs[channelID][subscriber] = &subscription{pubsub: pubsub, cancel: cancel}
	m.mu.Unlock()

	go forward(subCtx, pubsub, subscriber)
	return nil
}

func forward(ctx context.Context, pubsub *redis.PubSub, subscriber connmanager.Subscriber) {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame map[string]any
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				continue
			}
			_ = subscriber.Receive(ctx, frame)
		}
	}
}

// Disconnect closes subscriber's Redis subscription on channelID.
// Disconnecting a subscriber that was never connected is a no-op.
func (m *Manager) Disconnect(ctx context.Context, channelID string, subscriber connmanager.Subscriber) error {
	m.mu.Lock()
	sub, ok := m.subs[channelID][subscriber]
	if ok {
		delete(m.subs[channelID], subscriber)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	sub.cancel()
	return sub.pubsub.Close()
}

// Broadcast JSON-marshals frame and publishes it on channelID. Redis
// delivers it to every process currently subscribed; there is no
// durability or replay, matching spec.md §4.3's best-effort contract.
func (m *Manager) Broadcast(ctx context.Context, channelID string, frame any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("connmanager/redischan: marshal frame: %w", err)
	}
	if err := m.client.Publish(ctx, channelID, payload).Err(); err != nil {
		return fmt.Errorf("connmanager/redischan: publish: %w", err)
	}
	return nil
}
