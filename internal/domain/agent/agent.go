// Package agent defines the Agent domain entity.
package agent

import "time"

// Role is an agent's seniority inside its department.
type Role string

const (
	RoleLead   Role = "lead"
	RoleSenior Role = "senior"
	RoleJunior Role = "junior"
	RoleIntern Role = "intern"
)

// Status represents the liveness of an agent.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusBreak   Status = "break"
	StatusOffline Status = "offline"
)

// Agent is an actor that can execute tasks and speak in meetings.
type Agent struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	DepartmentID  string    `json:"department_id"`
	Role          Role      `json:"role"`
	Status        Status    `json:"status"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model,omitempty"`
	Persona       string    `json:"persona,omitempty"`
	CurrentTaskID string    `json:"current_task_id,omitempty"`
	TasksDone     int       `json:"tasks_done"`
	TasksFailed   int       `json:"tasks_failed"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsLeader returns true for department leads.
func (a *Agent) IsLeader() bool {
	return a.Role == RoleLead
}

// Active returns true when the agent can be called into a meeting.
func (a *Agent) Active() bool {
	return a.Status != StatusOffline
}

// Available returns true when the agent can take a new task.
func (a *Agent) Available() bool {
	return a.Status == StatusIdle || a.Status == StatusBreak
}

// ModelHints returns provider hints passed to the execution launcher.
func (a *Agent) ModelHints() map[string]string {
	hints := map[string]string{}
	if a.Model != "" {
		hints["model"] = a.Model
	}
	return hints
}
