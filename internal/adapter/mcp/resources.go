package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
)

const activeTasksURI = "agentoffice://tasks/active"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			activeTasksURI,
			"Active Tasks",
			mcplib.WithResourceDescription("Tasks currently running, in review or paused"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleActiveTasksResource,
	)
}

func (s *Server) handleActiveTasksResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Reader == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"task reader not configured"}`,
			},
		}, nil
	}
	tasks, err := s.deps.Reader.ListTasksByStatus(ctx, task.StatusInProgress, task.StatusReview, task.StatusPending)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
