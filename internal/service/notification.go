// Package service contains the task workflow orchestrator and its sub-protocols.
package service

import (
	"context"
	"log/slog"

	"github.com/ccivlcid/agentoffice-sub001/internal/port/notifier"
)

// NotificationService dispatches notifications to all registered notifiers.
type NotificationService struct {
	notifiers     []notifier.Notifier
	enabledEvents map[notifier.Event]bool
}

// NewNotificationService creates a NotificationService with the given notifiers
// and list of enabled event types (e.g., "execution.failed", "merge.conflict").
// If enabledEvents is nil or empty, all events are enabled.
func NewNotificationService(notifiers []notifier.Notifier, enabledEvents []string) *NotificationService {
	enabled := make(map[notifier.Event]bool, len(enabledEvents))
	for _, e := range enabledEvents {
		enabled[notifier.Event(e)] = true
	}
	return &NotificationService{
		notifiers:     notifiers,
		enabledEvents: enabled,
	}
}

// Notify sends a notification to all registered notifiers.
// Errors are logged but do not interrupt delivery to other notifiers.
// A nil service drops the notification.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	if s == nil {
		return
	}
	if len(s.enabledEvents) > 0 && !s.enabledEvents[n.Event] {
		return
	}

	for _, provider := range s.notifiers {
		if err := provider.Send(ctx, n); err != nil {
			slog.Warn("notification send failed",
				"provider", provider.Name(),
				"event", n.Event,
				"task_id", n.TaskID,
				"error", err,
			)
			continue
		}
		slog.Debug("notification sent", "provider", provider.Name(), "event", n.Event, "task_id", n.TaskID)
	}
}

// NotifierCount returns the number of registered notifiers.
func (s *NotificationService) NotifierCount() int {
	if s == nil {
		return 0
	}
	return len(s.notifiers)
}
