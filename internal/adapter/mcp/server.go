// Package mcp exposes task control and inspection as Model Context Protocol
// tools, so an execution agent can query and steer the office it works in.
package mcp

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain/report"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/review"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
	"github.com/ccivlcid/agentoffice-sub001/internal/service"
)

// ServerConfig holds MCP server identity.
type ServerConfig struct {
	Name    string
	Version string
	APIKey  string
}

// TaskController issues task commands.
type TaskController interface {
	StartTask(ctx context.Context, taskID, agentID string) error
	StopTask(ctx context.Context, taskID string, mode service.StopMode) error
	StartReview(ctx context.Context, taskID string) error
	ResolveRemediation(ctx context.Context, taskID string, action service.RemediationAction, itemIDs []string) error
}

// TaskReader reads task state.
type TaskReader interface {
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasksByStatus(ctx context.Context, statuses ...task.Status) ([]task.Task, error)
	ListSubtasks(ctx context.Context, taskID string) ([]task.Subtask, error)
	ListRevisionNotes(ctx context.Context, taskID string) ([]review.MemoItem, error)
	GetReport(ctx context.Context, rootTaskID string) (*report.Report, error)
}

// ServerDeps holds the collaborators behind the tools. A nil dependency
// makes its tools answer with an error result.
type ServerDeps struct {
	Tasks  TaskController
	Reader TaskReader
}

// Server wraps an MCP server with its registered tools and resources.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
}

// NewServer creates a Server and registers every tool and resource.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the streamable HTTP transport guarded by the API key.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer))
}
