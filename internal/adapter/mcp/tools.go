package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ccivlcid/agentoffice-sub001/internal/service"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.getTaskTool(),
		s.listSubtasksTool(),
		s.getReportTool(),
		s.startTaskTool(),
		s.stopTaskTool(),
		s.startReviewTool(),
		s.resolveRemediationTool(),
	)
}

func taskIDParam() mcplib.ToolOption {
	return mcplib.WithString("task_id",
		mcplib.Required(),
		mcplib.Description("The task ID"),
	)
}

func (s *Server) getTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_task",
		mcplib.WithDescription("Get a task with its status, assignee and worktree"),
		taskIDParam(),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetTask}
}

func (s *Server) listSubtasksTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_subtasks",
		mcplib.WithDescription("List the subtasks of a task, including delegated and blocked ones"),
		taskIDParam(),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListSubtasks}
}

func (s *Server) getReportTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_report",
		mcplib.WithDescription("Get the consolidated completion report of a root task"),
		taskIDParam(),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetReport}
}

func (s *Server) startTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("start_task",
		mcplib.WithDescription("Launch a task on an agent; without agent_id the department picks one"),
		taskIDParam(),
		mcplib.WithString("agent_id", mcplib.Description("Agent to run the task")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleStartTask}
}

func (s *Server) stopTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("stop_task",
		mcplib.WithDescription("Pause or cancel a task"),
		taskIDParam(),
		mcplib.WithString("mode",
			mcplib.Description("Defaults to cancel"),
			mcplib.Enum(string(service.StopPause), string(service.StopCancel)),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleStopTask}
}

func (s *Server) startReviewTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("start_review",
		mcplib.WithDescription("Start or resume the review consensus of a task"),
		taskIDParam(),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleStartReview}
}

func (s *Server) resolveRemediationTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("resolve_remediation",
		mcplib.WithDescription("Act on or skip the remediation items of a paused review round"),
		taskIDParam(),
		mcplib.WithString("action",
			mcplib.Required(),
			mcplib.Enum(string(service.RemediationAct), string(service.RemediationSkip)),
		),
		mcplib.WithArray("item_ids",
			mcplib.Description("Memo item IDs to act on; empty selects all"),
			mcplib.Items(map[string]any{"type": "string"}),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleResolveRemediation}
}

func (s *Server) handleGetTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Reader == nil {
		return mcplib.NewToolResultError("task reader not configured"), nil
	}
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	t, err := s.deps.Reader.GetTask(ctx, taskID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get task %s", taskID), err), nil
	}
	return toolResultJSON(t)
}

func (s *Server) handleListSubtasks(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Reader == nil {
		return mcplib.NewToolResultError("task reader not configured"), nil
	}
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	subs, err := s.deps.Reader.ListSubtasks(ctx, taskID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to list subtasks of %s", taskID), err), nil
	}
	return toolResultJSON(subs)
}

func (s *Server) handleGetReport(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Reader == nil {
		return mcplib.NewToolResultError("task reader not configured"), nil
	}
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	r, err := s.deps.Reader.GetReport(ctx, taskID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get report for %s", taskID), err), nil
	}
	return toolResultJSON(r)
}

func (s *Server) handleStartTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return s.command(req, func(taskID string) error {
		return s.deps.Tasks.StartTask(ctx, taskID, req.GetString("agent_id", ""))
	})
}

func (s *Server) handleStopTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return s.command(req, func(taskID string) error {
		return s.deps.Tasks.StopTask(ctx, taskID, service.StopMode(req.GetString("mode", "")))
	})
}

func (s *Server) handleStartReview(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return s.command(req, func(taskID string) error {
		return s.deps.Tasks.StartReview(ctx, taskID)
	})
}

func (s *Server) handleResolveRemediation(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	return s.command(req, func(taskID string) error {
		action := service.RemediationAction(req.GetString("action", ""))
		return s.deps.Tasks.ResolveRemediation(ctx, taskID, action, req.GetStringSlice("item_ids", nil))
	})
}

// command runs a task command and reports acceptance. Domain rejections
// come back as error results, never as protocol errors.
func (s *Server) command(req mcplib.CallToolRequest, run func(taskID string) error) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task controller not configured"), nil
	}
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcplib.NewToolResultError(err.Error()), nil
	}
	if err := run(taskID); err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("%s rejected for %s", req.Params.Name, taskID), err), nil
	}
	return toolResultJSON(map[string]string{"task_id": taskID, "status": "accepted"})
}

func toolResultJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
