package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Tasks ---

const taskColumns = `id, title, description, status, kind, department_id, agent_id, source_task_id,
	project_id, base_branch, result, remediation_count, checkpoint_done, worktree_path, worktree_branch,
	created_at, started_at, completed_at, updated_at`

func scanTask(row scannable) (task.Task, error) {
	var t task.Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Kind, &t.DepartmentID, &t.AgentID,
		&t.SourceTaskID, &t.ProjectID, &t.BaseBranch, &t.Result, &t.RemediationCount, &t.CheckpointDone,
		&t.WorktreePath, &t.WorktreeBranch, &t.CreatedAt, &t.StartedAt, &t.CompletedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *Store) ListTasksBySource(ctx context.Context, sourceTaskID string) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE source_task_id = $1 ORDER BY created_at`, sourceTaskID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by source %s: %w", sourceTaskID, err)
	}
	return collect(rows, scanTask)
}

func (s *Store) ListTasksByProject(ctx context.Context, projectID string) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by project %s: %w", projectID, err)
	}
	return collect(rows, scanTask)
}

func (s *Store) ListTasksByStatus(ctx context.Context, statuses ...task.Status) ([]task.Task, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ANY($1) ORDER BY created_at`, pgTextArray(names))
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	return collect(rows, scanTask)
}

func (s *Store) CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	status := req.Status
	if status == "" {
		status = task.StatusInbox
	}
	kind := req.Kind
	if kind == "" {
		kind = task.KindGeneral
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (id, title, description, status, kind, department_id, source_task_id, project_id, base_branch)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+taskColumns,
		uuid.New().String(), req.Title, req.Description, status, kind, req.DepartmentID,
		req.SourceTaskID, req.ProjectID, req.BaseBranch)

	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &t, nil
}

// UpdateTaskStatus writes the status and maintains the lifecycle timestamps.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status task.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2::text, updated_at = now(),
		   started_at = CASE WHEN $2::text = 'in_progress' THEN now() ELSE started_at END,
		   completed_at = CASE
		     WHEN $2::text IN ('done', 'cancelled') THEN now()
		     WHEN $2::text IN ('inbox', 'planned', 'in_progress') THEN NULL
		     ELSE completed_at END
		 WHERE id = $1`, id, string(status))
	return execExpectOne(tag, err, "update task status %s", id)
}

func (s *Store) AssignTask(ctx context.Context, id, agentID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET agent_id = $2, updated_at = now() WHERE id = $1`, id, agentID)
	return execExpectOne(tag, err, "assign task %s", id)
}

func (s *Store) UpdateTaskResult(ctx context.Context, id, result string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET result = $2, updated_at = now() WHERE id = $1`, id, result)
	return execExpectOne(tag, err, "update task result %s", id)
}

// AppendTaskMemo appends to the description in one statement so concurrent
// memos never overwrite each other.
func (s *Store) AppendTaskMemo(ctx context.Context, id, memo string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET description = description || $2, updated_at = now() WHERE id = $1`, id, memo)
	return execExpectOne(tag, err, "append task memo %s", id)
}

func (s *Store) IncrementRemediationCount(ctx context.Context, id string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`UPDATE tasks SET remediation_count = remediation_count + 1, updated_at = now()
		 WHERE id = $1 RETURNING remediation_count`, id).Scan(&n)
	if err != nil {
		return 0, notFoundWrap(err, "increment remediation %s", id)
	}
	return n, nil
}

func (s *Store) SetTaskWorktree(ctx context.Context, id, path, branch string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET worktree_path = $2, worktree_branch = $3, updated_at = now() WHERE id = $1`,
		id, path, branch)
	return execExpectOne(tag, err, "set task worktree %s", id)
}

func (s *Store) MarkCheckpointDone(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET checkpoint_done = true, updated_at = now() WHERE id = $1`, id)
	return execExpectOne(tag, err, "mark checkpoint %s", id)
}
