package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain/meeting"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/report"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/review"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
	"github.com/ccivlcid/agentoffice-sub001/internal/service"
)

const defaultBodyLimit = 64 << 10

// TaskController is the command side of the orchestrator.
type TaskController interface {
	StartTask(ctx context.Context, taskID, agentID string) error
	StopTask(ctx context.Context, taskID string, mode service.StopMode) error
	StartReview(ctx context.Context, taskID string) error
	ResolveRemediation(ctx context.Context, taskID string, action service.RemediationAction, itemIDs []string) error
}

// TaskReader is the read side served straight from the store.
type TaskReader interface {
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListSubtasks(ctx context.Context, taskID string) ([]task.Subtask, error)
	ListMeetings(ctx context.Context, taskID string) ([]meeting.Record, error)
	ListMeetingEntries(ctx context.Context, meetingID string) ([]meeting.Entry, error)
	ListRevisionNotes(ctx context.Context, taskID string) ([]review.MemoItem, error)
	GetReport(ctx context.Context, rootTaskID string) (*report.Report, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Tasks     TaskController
	Reader    TaskReader
	Checks    map[string]HealthCheck
	BodyLimit int64
}

func (h *Handlers) bodyLimit() int64 {
	if h.BodyLimit > 0 {
		return h.BodyLimit
	}
	return defaultBodyLimit
}

type startRequest struct {
	AgentID string `json:"agent_id"`
}

type stopRequest struct {
	Mode string `json:"mode"`
}

type remediationRequest struct {
	Action  string   `json:"action"`
	ItemIDs []string `json:"item_ids"`
}

// StartTask handles POST /api/v1/tasks/{id}/start
func (h *Handlers) StartTask() http.HandlerFunc {
	return handleCommand(h.bodyLimit(), func(ctx context.Context, id string, req startRequest) error {
		return h.Tasks.StartTask(ctx, id, req.AgentID)
	}, "task not found")
}

// StopTask handles POST /api/v1/tasks/{id}/stop
func (h *Handlers) StopTask() http.HandlerFunc {
	return handleCommand(h.bodyLimit(), func(ctx context.Context, id string, req stopRequest) error {
		return h.Tasks.StopTask(ctx, id, service.StopMode(req.Mode))
	}, "task not found")
}

// StartReview handles POST /api/v1/tasks/{id}/review
func (h *Handlers) StartReview() http.HandlerFunc {
	return handleCommand(h.bodyLimit(), func(ctx context.Context, id string, _ struct{}) error {
		return h.Tasks.StartReview(ctx, id)
	}, "task not found")
}

// ResolveRemediation handles POST /api/v1/tasks/{id}/remediation
func (h *Handlers) ResolveRemediation() http.HandlerFunc {
	return handleCommand(h.bodyLimit(), func(ctx context.Context, id string, req remediationRequest) error {
		return h.Tasks.ResolveRemediation(ctx, id, service.RemediationAction(req.Action), req.ItemIDs)
	}, "no paused review round for task")
}

// meetingView is a meeting record with its transcript.
type meetingView struct {
	meeting.Record
	Entries []meeting.Entry `json:"entries"`
}

// ListMeetings handles GET /api/v1/tasks/{id}/meetings
func (h *Handlers) ListMeetings(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, err := h.Reader.GetTask(r.Context(), id); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	records, err := h.Reader.ListMeetings(r.Context(), id)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	out := make([]meetingView, 0, len(records))
	for i := range records {
		entries, err := h.Reader.ListMeetingEntries(r.Context(), records[i].ID)
		if err != nil {
			writeInternalError(w, err)
			return
		}
		if entries == nil {
			entries = []meeting.Entry{}
		}
		out = append(out, meetingView{Record: records[i], Entries: entries})
	}
	writeJSON(w, http.StatusOK, out)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health. Any failing check turns the status to degraded
// and the response code to 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.Checks))}
	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.Checks[name](ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
