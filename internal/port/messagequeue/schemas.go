package messagequeue

// TaskStartPayload is the schema for commands.task.start messages.
type TaskStartPayload struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id,omitempty"`
}

// TaskStopPayload is the schema for commands.task.stop messages.
type TaskStopPayload struct {
	TaskID string `json:"task_id"`
	Mode   string `json:"mode,omitempty"` // "pause" or "cancel"; empty cancels
}

// RemediationPayload is the schema for commands.task.remediation messages.
type RemediationPayload struct {
	TaskID  string   `json:"task_id"`
	Action  string   `json:"action"` // "act" or "skip"
	ItemIDs []string `json:"item_ids,omitempty"`
}

// AgentLaunchPayload is published on agents.launch.{provider}.
type AgentLaunchPayload struct {
	ProcessID  string            `json:"process_id"`
	TaskID     string            `json:"task_id"`
	AgentID    string            `json:"agent_id"`
	Provider   string            `json:"provider"`
	Prompt     string            `json:"prompt"`
	WorkingDir string            `json:"working_dir"`
	ModelHints map[string]string `json:"model_hints,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
}

// AgentLaunchReply acknowledges an agents.launch request.
type AgentLaunchReply struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// AgentOneShotPayload is the request on agents.oneshot.{provider}.
type AgentOneShotPayload struct {
	AgentID    string `json:"agent_id"`
	Provider   string `json:"provider"`
	Prompt     string `json:"prompt"`
	WorkingDir string `json:"working_dir,omitempty"`
	TimeoutMs  int64  `json:"timeout_ms"`
}

// AgentOneShotReply is the reply to an agents.oneshot request.
type AgentOneShotReply struct {
	Text     string `json:"text"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// AgentOutputPayload is published on agents.output.{process}.
type AgentOutputPayload struct {
	ProcessID string `json:"process_id"`
	Line      string `json:"line"`
}

// AgentExitPayload is published on agents.exit.{process}.
type AgentExitPayload struct {
	ProcessID string `json:"process_id"`
	ExitCode  int    `json:"exit_code"`
}
