package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ccivlcid/agentoffice-sub001/internal/port/vcs"
)

// ErrWorkflowInterrupted is returned inside a workflow when the task left the
// state the workflow was started for. It is logged, never surfaced to callers
// of the public orchestrator API.
var ErrWorkflowInterrupted = errors.New("workflow interrupted")

// MergeConflictError reports the files that blocked a worktree merge.
type MergeConflictError struct {
	TaskID string
	Target string
	Files  []string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict for task %s into %s: %s", e.TaskID, e.Target, strings.Join(e.Files, ", "))
}

func (e *MergeConflictError) Unwrap() error { return vcs.ErrMergeConflict }

// ExecutionFailure is a nonzero agent process exit.
type ExecutionFailure struct {
	TaskID   string
	ExitCode int
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("task %s: agent exited with code %d", e.TaskID, e.ExitCode)
}
