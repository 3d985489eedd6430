package mcp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	aomcp "github.com/ccivlcid/agentoffice-sub001/internal/adapter/mcp"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/report"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/review"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
	"github.com/ccivlcid/agentoffice-sub001/internal/service"
)

// --- Mocks ---

type mockReader struct {
	tasks map[string]*task.Task
}

func (m *mockReader) GetTask(_ context.Context, id string) (*task.Task, error) {
	if t, ok := m.tasks[id]; ok {
		return t, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockReader) ListTasksByStatus(context.Context, ...task.Status) ([]task.Task, error) {
	out := make([]task.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	return out, nil
}

func (m *mockReader) ListSubtasks(context.Context, string) ([]task.Subtask, error) {
	return []task.Subtask{{ID: "s1", TaskID: "t1", Title: "Wire form", Status: task.SubtaskPending}}, nil
}

func (m *mockReader) ListRevisionNotes(context.Context, string) ([]review.MemoItem, error) {
	return nil, nil
}

func (m *mockReader) GetReport(context.Context, string) (*report.Report, error) {
	return &report.Report{RootTaskID: "t1", Title: "Add login"}, nil
}

type mockController struct {
	mode    service.StopMode
	action  service.RemediationAction
	itemIDs []string
	agentID string
	err     error
}

func (m *mockController) StartTask(_ context.Context, _, agentID string) error {
	m.agentID = agentID
	return m.err
}

func (m *mockController) StopTask(_ context.Context, _ string, mode service.StopMode) error {
	m.mode = mode
	return m.err
}

func (m *mockController) StartReview(context.Context, string) error { return m.err }

func (m *mockController) ResolveRemediation(_ context.Context, _ string, action service.RemediationAction, itemIDs []string) error {
	m.action = action
	m.itemIDs = itemIDs
	return m.err
}

func newServer(ctrl *mockController) *aomcp.Server {
	reader := &mockReader{tasks: map[string]*task.Task{
		"t1": {ID: "t1", Title: "Add login", Status: task.StatusReview},
	}}
	deps := aomcp.ServerDeps{Reader: reader}
	if ctrl != nil {
		deps.Tasks = ctrl
	}
	return aomcp.NewServer(aomcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)
}

func call(t *testing.T, s *aomcp.Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool, ok := s.MCPServer().ListTools()[name]
	if !ok {
		t.Fatalf("%s tool not found", name)
	}
	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return result
}

func resultText(t *testing.T, r *mcplib.CallToolResult) string {
	t.Helper()
	text, ok := r.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return text.Text
}

// --- Tests ---

func TestToolRegistration(t *testing.T) {
	tools := newServer(&mockController{}).MCPServer().ListTools()
	expected := []string{
		"get_task", "list_subtasks", "get_report",
		"start_task", "stop_task", "start_review", "resolve_remediation",
	}
	if len(tools) != len(expected) {
		t.Fatalf("expected %d tools, got %d", len(expected), len(tools))
	}
	for _, name := range expected {
		if _, ok := tools[name]; !ok {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestHandleGetTask(t *testing.T) {
	s := newServer(nil)
	result := call(t, s, "get_task", map[string]any{"task_id": "t1"})
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}
	var got task.Task
	if err := json.Unmarshal([]byte(resultText(t, result)), &got); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if got.Status != task.StatusReview {
		t.Fatalf("expected review, got %q", got.Status)
	}

	if r := call(t, s, "get_task", map[string]any{"task_id": "nope"}); !r.IsError {
		t.Fatal("expected error result for unknown task")
	}
	if r := call(t, s, "get_task", nil); !r.IsError {
		t.Fatal("expected error result for missing task_id")
	}
}

func TestHandleListSubtasks(t *testing.T) {
	result := call(t, newServer(nil), "list_subtasks", map[string]any{"task_id": "t1"})
	var subs []task.Subtask
	if err := json.Unmarshal([]byte(resultText(t, result)), &subs); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != "s1" {
		t.Fatalf("subtasks = %+v", subs)
	}
}

func TestCommandTools(t *testing.T) {
	ctrl := &mockController{}
	s := newServer(ctrl)

	if r := call(t, s, "start_task", map[string]any{"task_id": "t1", "agent_id": "eng-dev"}); r.IsError {
		t.Fatalf("start_task: %v", r.Content)
	}
	if ctrl.agentID != "eng-dev" {
		t.Fatalf("agent_id = %q", ctrl.agentID)
	}

	call(t, s, "stop_task", map[string]any{"task_id": "t1", "mode": "pause"})
	if ctrl.mode != service.StopPause {
		t.Fatalf("mode = %q", ctrl.mode)
	}
	if r := call(t, s, "stop_task", map[string]any{"task_id": "t1"}); r.IsError {
		t.Fatalf("stop_task without mode: %v", r.Content)
	}
	if ctrl.mode != "" {
		t.Fatalf("mode should be left to the service default, got %q", ctrl.mode)
	}

	call(t, s, "resolve_remediation", map[string]any{"task_id": "t1", "action": "act", "item_ids": []any{"m1", "m2"}})
	if ctrl.action != service.RemediationAct || len(ctrl.itemIDs) != 2 {
		t.Fatalf("remediation = %q %v", ctrl.action, ctrl.itemIDs)
	}
}

func TestCommandRejectionIsErrorResult(t *testing.T) {
	s := newServer(&mockController{err: domain.ErrInvalidTransition})
	if r := call(t, s, "start_review", map[string]any{"task_id": "t1"}); !r.IsError {
		t.Fatal("expected error result for a rejected command")
	}
}

func TestHandleNilController(t *testing.T) {
	if r := call(t, newServer(nil), "start_task", map[string]any{"task_id": "t1"}); !r.IsError {
		t.Fatal("expected error result when the controller is missing")
	}
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := aomcp.AuthMiddleware("secret", ok)

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusForbidden},
		{"bearer", "Bearer secret", http.StatusNoContent},
		{"bare key", "secret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d", w.Code, tt.code)
			}
		})
	}

	if aomcp.AuthMiddleware("", ok) == nil {
		t.Fatal("disabled auth should pass the handler through")
	}
}
