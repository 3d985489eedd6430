// Package notifier defines the notification port used to tell humans about
// workflow outcomes that need attention.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Event identifies what happened.
type Event string

const (
	EventExecutionFailed      Event = "execution.failed"
	EventMergeConflict        Event = "merge.conflict"
	EventMeetingFailed        Event = "meeting.failed"
	EventRemediationRequested Event = "remediation.requested"
	EventTaskDone             Event = "task.done"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is the payload sent through a Notifier.
type Notification struct {
	Event   Event    `json:"event"`
	TaskID  string   `json:"task_id"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
	Level   Level    `json:"level"`
	Items   []string `json:"items,omitempty"` // conflicting files, memo items
}

// Notifier is the port interface for sending notifications.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "slack").
	Name() string

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
