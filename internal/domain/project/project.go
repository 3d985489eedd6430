// Package project defines the Project domain entity and the project review gate.
package project

import "time"

// Project is a local repository that root tasks deliver into.
type Project struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Path          string    `json:"path"`
	DefaultBranch string    `json:"default_branch"`
	RemoteURL     string    `json:"remote_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasRemote reports whether finalization should open a pull request instead
// of merging locally.
func (p *Project) HasRemote() bool {
	return p.RemoteURL != ""
}

// GateMember is the minimal view of a task the project gate needs.
type GateMember struct {
	TaskID   string
	Status   string
	IsRoot   bool
	Terminal bool
}

// GateOpen reports whether every active root task of a project is sitting in
// review at the same time. Terminal and child tasks do not count.
func GateOpen(members []GateMember, reviewStatus string) bool {
	for _, m := range members {
		if !m.IsRoot || m.Terminal {
			continue
		}
		if m.Status != reviewStatus {
			return false
		}
	}
	return true
}
