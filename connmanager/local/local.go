// Package local implements an in-process connmanager.Manager: a registry of
// channel id to connected subscribers, broadcasting synchronously to each in
// registration order.
//
// Grounded on agents/runtime/hooks.Bus: a mutex-guarded map of subscribers,
// Register returning a closeable Subscription, Publish iterating a snapshot
// of the current subscriber set so a subscriber closing mid-broadcast cannot
// deadlock the publisher.
package local

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/advantch/agentrun/connmanager"
)

// Manager is the in-process, single-channel-table Connection Manager
// reference implementation (spec.md §4.3): suitable for a CLI demo or a
// single-process deployment where subscribers run in the same binary.
type Manager struct {
	mu       sync.RWMutex
	channels map[string][]connmanager.Subscriber
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{channels: make(map[string][]connmanager.Subscriber)}
}

// Connect registers subscriber on channelID.
func (m *Manager) Connect(ctx context.Context, channelID string, subscriber connmanager.Subscriber) error {
	if subscriber == nil {
		return errors.New("connmanager/local: subscriber is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channelID] = append(m.channels[channelID], subscriber)
	return nil
}

// Disconnect removes subscriber from channelID. A subscriber that was never
// connected is a no-op, matching the manager's best-effort delivery contract.
func (m *Manager) Disconnect(ctx context.Context, channelID string, subscriber connmanager.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.channels[channelID]
	for i, s := range subs {
		if sameSubscriber(s, subscriber) {
			m.channels[channelID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// sameSubscriber reports whether a and b are the same subscriber. Func-typed
// subscribers (such as connmanager.SubscriberFunc) cannot be compared with
// ==, so they are matched by code pointer: two func subscribers built from
// the same function literal count as the same subscriber.
func sameSubscriber(a, b connmanager.Subscriber) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	if ta.Kind() == reflect.Func {
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}
	return false
}

// Broadcast delivers frame to every subscriber connected to channelID,
// snapshotting the subscriber slice first so a subscriber disconnecting
// during delivery (e.g. from within its own Receive) cannot race the
// iteration (same discipline as hooks.Bus.Publish). A subscriber error does
// not stop delivery to the remaining subscribers; the first such error is
// returned once every subscriber has been tried.
func (m *Manager) Broadcast(ctx context.Context, channelID string, frame any) error {
	m.mu.RLock()
	subs := make([]connmanager.Subscriber, len(m.channels[channelID]))
	copy(subs, m.channels[channelID])
	m.mu.RUnlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.Receive(ctx, frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
