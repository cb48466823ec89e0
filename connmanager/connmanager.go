// Package connmanager defines the Connection Manager abstraction (spec.md
// §4.3): a named-channel fan-out sink for outbound event frames. Two
// reference implementations ship as subpackages — connmanager/local
// (in-process, grounded on agents/runtime/hooks.Bus) and
// connmanager/redischan (cross-process via Redis pub/sub, grounded on
// features/stream/pulse's Envelope/Sink shape).
package connmanager

import "context"

// Subscriber receives broadcast frames for a channel it has connected to.
// Subscribers are opaque to the Manager (spec.md §4.3): a WebSocket
// connection, an SSE stream, or a no-op CLI sink all satisfy this the same
// way.
type Subscriber interface {
	// Receive delivers one frame. An error returned here does not stop
	// delivery to other subscribers; the manager continues with the rest
	// (spec.md §4.3's "delivery is best-effort").
	Receive(ctx context.Context, frame any) error
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(ctx context.Context, frame any) error

// Receive implements Subscriber.
func (f SubscriberFunc) Receive(ctx context.Context, frame any) error { return f(ctx, frame) }

// Manager abstracts the channel fan-out sink the Dispatcher broadcasts
// through. Implementations MUST preserve per-channel ordering for frames
// belonging to the same run (spec.md §5); ordering across channels is not
// guaranteed.
type Manager interface {
	// Connect registers subscriber to receive every frame broadcast on
	// channelID from this point forward.
	Connect(ctx context.Context, channelID string, subscriber Subscriber) error
	// Disconnect unregisters subscriber from channelID. Disconnecting a
	// subscriber that was never connected is a no-op.
	Disconnect(ctx context.Context, channelID string, subscriber Subscriber) error
	// Broadcast delivers frame to every subscriber currently connected to
	// channelID. The Manager does not buffer across connection drops
	// (spec.md §4.3); a channel with no subscribers silently drops frame.
	Broadcast(ctx context.Context, channelID string, frame any) error
}
