// Package meeting defines meeting records, transcript entries and review round modes.
package meeting

import "time"

// Kind distinguishes the kickoff meeting from review rounds.
type Kind string

const (
	KindPlanned Kind = "planned"
	KindReview  Kind = "review"
)

// Status is the persisted state of a meeting record.
type Status string

const (
	StatusInProgress        Status = "in_progress"
	StatusCompleted         Status = "completed"
	StatusRevisionRequested Status = "revision_requested"
	StatusFailed            Status = "failed"
)

// Valid reports whether s is a persisted meeting status.
func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusCompleted, StatusRevisionRequested, StatusFailed:
		return true
	}
	return false
}

// EntryKind identifies the turn an utterance was spoken in.
type EntryKind string

const (
	EntryOpening   EntryKind = "opening"
	EntryFeedback  EntryKind = "feedback"
	EntrySynthesis EntryKind = "synthesis"
	EntryFinal     EntryKind = "final"
	EntrySystem    EntryKind = "system"
)

// Record is the persisted header of one meeting. Status is the only field
// mutated after creation.
type Record struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	Kind        Kind       `json:"kind"`
	Round       int        `json:"round"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Entry is one utterance in a meeting transcript.
type Entry struct {
	ID           string    `json:"id"`
	MeetingID    string    `json:"meeting_id"`
	Seq          int       `json:"seq"`
	SpeakerID    string    `json:"speaker_id"`
	SpeakerName  string    `json:"speaker_name"`
	DepartmentID string    `json:"department_id"`
	Role         string    `json:"role"`
	Kind         EntryKind `json:"kind"`
	Text         string    `json:"text"`
	CreatedAt    time.Time `json:"created_at"`
}

// LockKey returns the in-flight lock key for a meeting kind. Planned
// kickoffs use a distinct key so a kickoff never blocks a review.
func LockKey(kind Kind, taskID string) string {
	if kind == KindPlanned {
		return "planned:" + taskID
	}
	return taskID
}
