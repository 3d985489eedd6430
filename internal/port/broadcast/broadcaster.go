// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	// Delivery is best-effort and must not block the caller.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Fanout broadcasts every event to each wrapped broadcaster in order.
type Fanout []Broadcaster

// BroadcastEvent implements Broadcaster.
func (f Fanout) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	for _, b := range f {
		if b != nil {
			b.BroadcastEvent(ctx, eventType, payload)
		}
	}
}
