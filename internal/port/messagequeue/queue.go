// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Durable stream subjects. Events mirror broadcaster traffic for external
// observers; commands are the asynchronous control surface.
const (
	SubjectEventPrefix = "events"

	SubjectCommandTaskStart   = "commands.task.start"
	SubjectCommandTaskStop    = "commands.task.stop"
	SubjectCommandRemediation = "commands.task.remediation"
)

// Core (non-persistent) subjects spoken with remote execution workers.
// Each is suffixed with a provider name or a process id.
const (
	SubjectAgentLaunch  = "agents.launch"  // agents.launch.{provider}
	SubjectAgentOneShot = "agents.oneshot" // agents.oneshot.{provider}, request/reply
	SubjectAgentOutput  = "agents.output"  // agents.output.{process}
	SubjectAgentExit    = "agents.exit"    // agents.exit.{process}
	SubjectAgentStop    = "agents.stop"    // agents.stop.{process}
)

// EventSubject returns the stream subject for a broadcaster event type.
func EventSubject(eventType string) string {
	return SubjectEventPrefix + "." + eventType
}
