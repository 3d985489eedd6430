package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ccivlcid/agentoffice-sub001/internal/port/messagequeue"
)

// asyncPublisher is the slice of Queue the event publisher needs.
type asyncPublisher interface {
	PublishAsync(subject string, data []byte) error
}

// EventPublisher mirrors broadcaster events onto "events.<type>" so external
// observers can follow the workflow. Publishing never waits for the stream.
type EventPublisher struct {
	q asyncPublisher
}

// NewEventPublisher creates a publisher over q.
func NewEventPublisher(q asyncPublisher) *EventPublisher {
	return &EventPublisher{q: q}
}

// BroadcastEvent implements broadcast.Broadcaster.
func (p *EventPublisher) BroadcastEvent(_ context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal event payload", "type", eventType, "error", err)
		return
	}
	if err := p.q.PublishAsync(messagequeue.EventSubject(eventType), data); err != nil {
		slog.Warn("event publish failed", "type", eventType, "error", err)
	}
}
