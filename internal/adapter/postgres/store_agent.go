package postgres

import (
	"context"
	"fmt"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain/agent"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/department"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/project"
)

// --- Agents ---

const agentColumns = `id, name, department_id, role, status, provider, model, persona, current_task_id,
	tasks_done, tasks_failed, created_at, updated_at`

func scanAgent(row scannable) (agent.Agent, error) {
	var a agent.Agent
	err := row.Scan(&a.ID, &a.Name, &a.DepartmentID, &a.Role, &a.Status, &a.Provider, &a.Model,
		&a.Persona, &a.CurrentTaskID, &a.TasksDone, &a.TasksFailed, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]agent.Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY department_id, role, name`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return collect(rows, scanAgent)
}

func (s *Store) UpdateAgentStatus(ctx context.Context, id string, status agent.Status, currentTaskID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET status = $2, current_task_id = $3, updated_at = now() WHERE id = $1`,
		id, status, currentTaskID)
	return execExpectOne(tag, err, "update agent status %s", id)
}

func (s *Store) RecordAgentOutcome(ctx context.Context, id string, success bool) error {
	q := `UPDATE agents SET tasks_failed = tasks_failed + 1, updated_at = now() WHERE id = $1`
	if success {
		q = `UPDATE agents SET tasks_done = tasks_done + 1, updated_at = now() WHERE id = $1`
	}
	tag, err := s.pool.Exec(ctx, q, id)
	return execExpectOne(tag, err, "record agent outcome %s", id)
}

// --- Departments ---

func (s *Store) ListDepartments(ctx context.Context) ([]department.Department, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, keywords, sort_order FROM departments ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	return collect(rows, func(row scannable) (department.Department, error) {
		var d department.Department
		err := row.Scan(&d.ID, &d.Name, &d.Keywords, &d.Order)
		return d, err
	})
}

// --- Projects ---

func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	var p project.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, path, default_branch, remote_url, created_at, updated_at FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Path, &p.DefaultBranch, &p.RemoteURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get project %s", id)
	}
	return &p, nil
}
