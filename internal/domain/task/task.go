// Package task defines the Task and Subtask domain entities and the task
// lifecycle state machine.
package task

import (
	"fmt"
	"time"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusInbox      Status = "inbox"
	StatusPlanned    Status = "planned"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusPending    Status = "pending"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is one of the seven persisted task statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInbox, StatusPlanned, StatusInProgress, StatusReview,
		StatusDone, StatusPending, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true for done and cancelled.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// Kind distinguishes how a task completes after its agent exits.
type Kind string

const (
	// KindGeneral tasks go through review consensus.
	KindGeneral Kind = "general"
	// KindReport tasks are one-shot deliverables that skip review.
	KindReport Kind = "report"
	// KindDesignCheckpoint tasks are children of a report task and complete
	// without review, resuming their parent.
	KindDesignCheckpoint Kind = "design_checkpoint"
)

// Task represents a unit of work assigned to an agent.
type Task struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Status           Status     `json:"status"`
	Kind             Kind       `json:"kind"`
	DepartmentID     string     `json:"department_id"`
	AgentID          string     `json:"agent_id,omitempty"`
	SourceTaskID     string     `json:"source_task_id,omitempty"`
	ProjectID        string     `json:"project_id,omitempty"`
	BaseBranch       string     `json:"base_branch,omitempty"`
	Result           string     `json:"result,omitempty"`
	RemediationCount int        `json:"remediation_count"`
	CheckpointDone   bool       `json:"checkpoint_done"`
	WorktreePath     string     `json:"worktree_path,omitempty"`
	WorktreeBranch   string     `json:"worktree_branch,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsRoot returns true when the task is not a delegated or collaboration child.
func (t *Task) IsRoot() bool {
	return t.SourceTaskID == ""
}

// HasWorktree reports whether an isolated workspace is mapped to the task.
func (t *Task) HasWorktree() bool {
	return t.WorktreePath != "" && t.WorktreeBranch != ""
}

// CreateRequest holds the fields needed to create a new task.
type CreateRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Kind         Kind   `json:"kind"`
	Status       Status `json:"status"`
	DepartmentID string `json:"department_id"`
	SourceTaskID string `json:"source_task_id,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
	BaseBranch   string `json:"base_branch,omitempty"`
}

// Validate checks a create request.
func (r *CreateRequest) Validate() error {
	if r.Title == "" {
		return fmt.Errorf("title is required: %w", domain.ErrValidation)
	}
	if r.Status != "" && !r.Status.Valid() {
		return fmt.Errorf("unknown status %q: %w", r.Status, domain.ErrValidation)
	}
	switch r.Kind {
	case "", KindGeneral, KindReport:
	case KindDesignCheckpoint:
		if r.SourceTaskID == "" {
			return fmt.Errorf("design checkpoint requires a source task: %w", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("unknown kind %q: %w", r.Kind, domain.ErrValidation)
	}
	return nil
}
