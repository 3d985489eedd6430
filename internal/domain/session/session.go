// Package session defines execution sessions binding a task to its executor.
package session

import "time"

// Session ties a task to the (agent, provider) pair currently executing it.
type Session struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	AgentID   string    `json:"agent_id"`
	Provider  string    `json:"provider"`
	OpenedAt  time.Time `json:"opened_at"`
	TouchedAt time.Time `json:"touched_at"`
}

// Matches reports whether the session already belongs to agent and provider.
func (s *Session) Matches(agentID, provider string) bool {
	return s.AgentID == agentID && s.Provider == provider
}
