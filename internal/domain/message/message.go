// Package message defines conversation messages exchanged around a task.
package message

import "time"

// Kind classifies a message.
type Kind string

const (
	KindChat   Kind = "chat"
	KindReport Kind = "report"
	KindNotice Kind = "notice"
)

// Message is a persisted conversation line. Recent messages feed the
// execution context of the next agent run.
type Message struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id,omitempty"`
	SenderID   string    `json:"sender_id,omitempty"`
	SenderName string    `json:"sender_name"`
	Kind       Kind      `json:"kind"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}
