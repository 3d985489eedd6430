// Package executor defines the execution provider port used to run agents.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain/agent"
)

// ErrTimeout is returned when a one-shot call exceeds its timeout.
var ErrTimeout = errors.New("executor: timeout")

// LaunchRequest starts a long-running agent process against a workspace.
type LaunchRequest struct {
	TaskID     string            `json:"task_id"`
	Agent      agent.Agent       `json:"agent"`
	Prompt     string            `json:"prompt"`
	WorkingDir string            `json:"working_dir"`
	ModelHints map[string]string `json:"model_hints,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
}

// Process is a handle to a launched agent.
type Process interface {
	// ID identifies the process for logs.
	ID() string
	// Output streams output lines until the process exits.
	Output() <-chan string
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// ExitCode is valid after Done is closed. Nonzero means failure.
	ExitCode() int
	// Tail returns up to n trailing bytes of collected output.
	Tail(n int) string
	// Stop asks the process to terminate.
	Stop(ctx context.Context) error
}

// OneShotRequest runs a single prompt and returns the reply text.
type OneShotRequest struct {
	Agent      agent.Agent   `json:"agent"`
	Prompt     string        `json:"prompt"`
	WorkingDir string        `json:"working_dir,omitempty"`
	Timeout    time.Duration `json:"timeout"`
}

// OneShotResult holds the reply of a one-shot call.
type OneShotResult struct {
	Text string `json:"text"`
}

// Provider is the port interface for an execution backend.
type Provider interface {
	// Name returns the unique identifier for this provider (e.g. "claude", "remote").
	Name() string

	// Launch starts a streaming agent process.
	Launch(ctx context.Context, req LaunchRequest) (Process, error)

	// RunOneShot runs a bounded single-reply call. Failures are nonzero
	// exits or ErrTimeout.
	RunOneShot(ctx context.Context, req OneShotRequest) (*OneShotResult, error)
}
