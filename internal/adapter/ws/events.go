package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventTaskUpdate           = "task.update"
	EventTaskProgress         = "task.progress"
	EventTaskOutput           = "task.output"
	EventSubtaskUpdate        = "subtask.update"
	EventAgentStatus          = "agent.status"
	EventMeetingSpeech        = "meeting.speech"
	EventMeetingPresence      = "meeting.presence"
	EventMeetingStatus        = "meeting.status"
	EventRemediationRequested = "remediation.requested"
	EventReportReady          = "report.ready"
	EventMessage              = "message.new"
)

// TaskUpdateEvent is broadcast when a task's status or assignment changes.
type TaskUpdateEvent struct {
	TaskID       string `json:"task_id"`
	Status       string `json:"status"`
	AgentID      string `json:"agent_id,omitempty"`
	DepartmentID string `json:"department_id,omitempty"`
	SourceTaskID string `json:"source_task_id,omitempty"`
}

// TaskProgressEvent is the periodic heartbeat of a running task.
type TaskProgressEvent struct {
	TaskID         string `json:"task_id"`
	AgentID        string `json:"agent_id"`
	ElapsedSeconds int64  `json:"elapsed_seconds"`
	Tail           string `json:"tail,omitempty"`
}

// TaskOutputEvent is broadcast when a task produces streaming output.
type TaskOutputEvent struct {
	TaskID string `json:"task_id"`
	Line   string `json:"line"`
	Stream string `json:"stream"` // "stdout" or "stderr"
}

// SubtaskUpdateEvent is broadcast when a subtask changes.
type SubtaskUpdateEvent struct {
	SubtaskID       string `json:"subtask_id"`
	TaskID          string `json:"task_id"`
	Status          string `json:"status"`
	DelegatedTaskID string `json:"delegated_task_id,omitempty"`
	BlockedReason   string `json:"blocked_reason,omitempty"`
}

// AgentStatusEvent is broadcast when an agent's status changes.
type AgentStatusEvent struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
	TaskID  string `json:"task_id,omitempty"`
}

// MeetingSpeechEvent carries one utterance of a meeting turn.
type MeetingSpeechEvent struct {
	MeetingID    string `json:"meeting_id"`
	TaskID       string `json:"task_id"`
	Round        int    `json:"round"`
	Seq          int    `json:"seq"`
	Kind         string `json:"kind"`
	SpeakerID    string `json:"speaker_id"`
	SpeakerName  string `json:"speaker_name"`
	DepartmentID string `json:"department_id,omitempty"`
	Text         string `json:"text"`
}

// MeetingPresenceEvent announces a participant entering or leaving a meeting.
type MeetingPresenceEvent struct {
	TaskID    string `json:"task_id"`
	MeetingID string `json:"meeting_id,omitempty"`
	AgentID   string `json:"agent_id"`
	Seat      int    `json:"seat"`
	Present   bool   `json:"present"`
	Decision  string `json:"decision,omitempty"`
}

// MeetingStatusEvent is broadcast when a meeting record changes status.
type MeetingStatusEvent struct {
	MeetingID string `json:"meeting_id"`
	TaskID    string `json:"task_id"`
	Kind      string `json:"kind"`
	Round     int    `json:"round"`
	Status    string `json:"status"`
}

// RemediationItem is one selectable entry of a revision memo.
type RemediationItem struct {
	ID   string `json:"id"`
	Note string `json:"note"`
}

// RemediationRequestedEvent asks the user to act on or skip a revision memo.
type RemediationRequestedEvent struct {
	TaskID string            `json:"task_id"`
	Round  int               `json:"round"`
	Items  []RemediationItem `json:"items"`
}

// ReportReadyEvent is broadcast when a consolidated report is written.
type ReportReadyEvent struct {
	RootTaskID   string `json:"root_task_id"`
	Title        string `json:"title"`
	ResidualRisk bool   `json:"residual_risk"`
}

// MessageEvent mirrors a stored chat or report message.
type MessageEvent struct {
	ID       string `json:"id"`
	TaskID   string `json:"task_id"`
	SenderID string `json:"sender_id,omitempty"`
	Kind     string `json:"kind"`
	Text     string `json:"text"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
