// Package database defines the database store port (interface).
// Each sub-protocol of the orchestrator depends on the narrowest slice it
// needs; Store is the union implemented by the postgres adapter.
package database

import (
	"context"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain/agent"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/department"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/meeting"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/message"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/project"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/report"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/review"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
)

// TaskReader loads tasks.
type TaskReader interface {
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasksBySource(ctx context.Context, sourceTaskID string) ([]task.Task, error)
	ListTasksByProject(ctx context.Context, projectID string) ([]task.Task, error)
	ListTasksByStatus(ctx context.Context, statuses ...task.Status) ([]task.Task, error)
}

// TaskStore reads and mutates tasks. UpdateTaskStatus stamps started_at on
// entering in_progress and completed_at on entering done or cancelled.
type TaskStore interface {
	TaskReader
	CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status task.Status) error
	AssignTask(ctx context.Context, id, agentID string) error
	UpdateTaskResult(ctx context.Context, id, result string) error
	AppendTaskMemo(ctx context.Context, id, memo string) error
	IncrementRemediationCount(ctx context.Context, id string) (int, error)
	SetTaskWorktree(ctx context.Context, id, path, branch string) error
	MarkCheckpointDone(ctx context.Context, id string) error
}

// SubtaskStore reads and mutates subtasks.
type SubtaskStore interface {
	ListSubtasks(ctx context.Context, taskID string) ([]task.Subtask, error)
	ListSubtasksByDelegate(ctx context.Context, delegatedTaskID string) ([]task.Subtask, error)
	CreateSubtask(ctx context.Context, s *task.Subtask) error
	UpdateSubtask(ctx context.Context, s *task.Subtask) error
}

// AgentStore reads and mutates agents.
type AgentStore interface {
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	ListAgents(ctx context.Context) ([]agent.Agent, error)
	UpdateAgentStatus(ctx context.Context, id string, status agent.Status, currentTaskID string) error
	RecordAgentOutcome(ctx context.Context, id string, success bool) error
}

// DepartmentStore reads departments.
type DepartmentStore interface {
	ListDepartments(ctx context.Context) ([]department.Department, error)
}

// ProjectStore reads projects.
type ProjectStore interface {
	GetProject(ctx context.Context, id string) (*project.Project, error)
}

// MeetingStore persists meeting records and their append-only entries.
type MeetingStore interface {
	CreateMeeting(ctx context.Context, m *meeting.Record) error
	GetOpenMeeting(ctx context.Context, taskID string, kind meeting.Kind) (*meeting.Record, error)
	LatestMeeting(ctx context.Context, taskID string, kind meeting.Kind) (*meeting.Record, error)
	ListMeetings(ctx context.Context, taskID string) ([]meeting.Record, error)
	ListMeetingsByStatus(ctx context.Context, status meeting.Status) ([]meeting.Record, error)
	AppendMeetingEntry(ctx context.Context, e *meeting.Entry) error
	ListMeetingEntries(ctx context.Context, meetingID string) ([]meeting.Entry, error)
	UpdateMeetingStatus(ctx context.Context, id string, status meeting.Status) error
	DeleteTaskMeetings(ctx context.Context, taskID string) error
}

// RevisionStore is the per-task remediation ledger. InsertRevisionNote
// returns domain.ErrDuplicate when (task, normalized note) already exists.
type RevisionStore interface {
	InsertRevisionNote(ctx context.Context, item *review.MemoItem) error
	ListRevisionNotes(ctx context.Context, taskID string) ([]review.MemoItem, error)
	DeleteRevisionNotes(ctx context.Context, taskID string) error
}

// ReportStore archives consolidated reports keyed by root task.
type ReportStore interface {
	UpsertReport(ctx context.Context, r *report.Report) error
	GetReport(ctx context.Context, rootTaskID string) (*report.Report, error)
}

// MessageStore persists conversation lines.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *message.Message) error
	ListRecentMessages(ctx context.Context, taskID string, limit int) ([]message.Message, error)
}

// Store is the port interface for all database operations.
type Store interface {
	TaskStore
	SubtaskStore
	AgentStore
	DepartmentStore
	ProjectStore
	MeetingStore
	RevisionStore
	ReportStore
	MessageStore
}
