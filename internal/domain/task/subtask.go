package task

import (
	"fmt"
	"time"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain"
)

// SubtaskStatus is the checklist state of a subtask.
type SubtaskStatus string

const (
	SubtaskPending   SubtaskStatus = "pending"
	SubtaskDone      SubtaskStatus = "done"
	SubtaskBlocked   SubtaskStatus = "blocked"
	SubtaskCancelled SubtaskStatus = "cancelled"
)

// Standard blocked reasons written by reconciliation.
const (
	BlockedDelegationFailed = "delegated task failed"
	BlockedAwaitingDelegate = "awaiting delegated task"
)

// Subtask is a checklist item owned by a Task, optionally fulfilled by a
// delegated Task in another department.
type Subtask struct {
	ID                 string        `json:"id"`
	TaskID             string        `json:"task_id"`
	Title              string        `json:"title"`
	Status             SubtaskStatus `json:"status"`
	TargetDepartmentID string        `json:"target_department_id,omitempty"`
	DelegatedTaskID    string        `json:"delegated_task_id,omitempty"`
	BlockedReason      string        `json:"blocked_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
}

// Unfinished reports whether the subtask still holds up its parent.
func (s *Subtask) Unfinished() bool {
	return s.Status == SubtaskPending || s.Status == SubtaskBlocked
}

// NeedsDelegation reports whether the subtask routes to another department
// and has not been handed off yet.
func (s *Subtask) NeedsDelegation(ownerDepartment string) bool {
	return s.Status == SubtaskPending &&
		s.DelegatedTaskID == "" &&
		s.TargetDepartmentID != "" &&
		s.TargetDepartmentID != ownerDepartment
}

// MarkDone completes the subtask and clears any blocked reason.
func (s *Subtask) MarkDone(now time.Time) {
	s.Status = SubtaskDone
	s.BlockedReason = ""
	s.CompletedAt = &now
}

// MarkBlocked blocks the subtask with a reason.
func (s *Subtask) MarkBlocked(reason string) {
	s.Status = SubtaskBlocked
	s.BlockedReason = reason
	s.CompletedAt = nil
}

// Validate enforces the persisted-state contract.
func (s *Subtask) Validate() error {
	switch s.Status {
	case SubtaskPending, SubtaskDone, SubtaskCancelled:
	case SubtaskBlocked:
		if s.BlockedReason == "" {
			return fmt.Errorf("blocked subtask %s requires a reason: %w", s.ID, domain.ErrValidation)
		}
	default:
		return fmt.Errorf("unknown subtask status %q: %w", s.Status, domain.ErrValidation)
	}
	return nil
}

// CountUnfinished returns how many subtasks still hold up their parent.
func CountUnfinished(subs []Subtask) int {
	n := 0
	for i := range subs {
		if subs[i].Unfinished() {
			n++
		}
	}
	return n
}
