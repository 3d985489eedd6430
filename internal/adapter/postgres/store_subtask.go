package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
)

const subtaskColumns = `id, task_id, title, status, target_department_id, delegated_task_id, blocked_reason, created_at, completed_at`

func scanSubtask(row scannable) (task.Subtask, error) {
	var st task.Subtask
	err := row.Scan(&st.ID, &st.TaskID, &st.Title, &st.Status, &st.TargetDepartmentID,
		&st.DelegatedTaskID, &st.BlockedReason, &st.CreatedAt, &st.CompletedAt)
	return st, err
}

func (s *Store) ListSubtasks(ctx context.Context, taskID string) ([]task.Subtask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subtaskColumns+` FROM subtasks WHERE task_id = $1 ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks %s: %w", taskID, err)
	}
	return collect(rows, scanSubtask)
}

func (s *Store) ListSubtasksByDelegate(ctx context.Context, delegatedTaskID string) ([]task.Subtask, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subtaskColumns+` FROM subtasks WHERE delegated_task_id = $1 ORDER BY created_at, id`, delegatedTaskID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks by delegate %s: %w", delegatedTaskID, err)
	}
	return collect(rows, scanSubtask)
}

func (s *Store) CreateSubtask(ctx context.Context, st *task.Subtask) error {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	if st.Status == "" {
		st.Status = task.SubtaskPending
	}
	if err := st.Validate(); err != nil {
		return err
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO subtasks (id, task_id, title, status, target_department_id, delegated_task_id, blocked_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`,
		st.ID, st.TaskID, st.Title, st.Status, st.TargetDepartmentID, st.DelegatedTaskID, st.BlockedReason,
	).Scan(&st.CreatedAt)
	if err != nil {
		return fmt.Errorf("create subtask: %w", err)
	}
	return nil
}

func (s *Store) UpdateSubtask(ctx context.Context, st *task.Subtask) error {
	if err := st.Validate(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE subtasks SET status = $2, delegated_task_id = $3, blocked_reason = $4, completed_at = $5
		 WHERE id = $1`,
		st.ID, st.Status, st.DelegatedTaskID, st.BlockedReason, nullTimePtr(st.CompletedAt))
	return execExpectOne(tag, err, "update subtask %s", st.ID)
}
