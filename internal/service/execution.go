package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	aootel "github.com/ccivlcid/agentoffice-sub001/internal/adapter/otel"
	"github.com/ccivlcid/agentoffice-sub001/internal/adapter/ws"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/agent"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/meeting"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/executor"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/notifier"
)

// StartTask launches an agent on a task in inbox, planned or pending. agentID
// may be empty to keep the current assignee or pick a department member.
// A start while another start for the same task is in flight is a no-op.
func (o *Orchestrator) StartTask(ctx context.Context, taskID, agentID string) error {
	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task %s: %w", taskID, err)
	}
	switch t.Status {
	case task.StatusInbox, task.StatusPlanned, task.StatusPending:
	case task.StatusInProgress:
		slog.Info("start ignored, task already running", "task_id", taskID)
		return nil
	default:
		return fmt.Errorf("start task %s from %s: %w", taskID, t.Status, domain.ErrInvalidTransition)
	}

	key := meeting.LockKey(meeting.KindPlanned, taskID)
	if !o.reg.TryLock(key) {
		slog.Info("start already in flight", "task_id", taskID)
		return nil
	}
	a, err := o.resolveAgent(ctx, t, agentID)
	if err != nil {
		o.reg.Unlock(key)
		return err
	}

	wctx := o.newWorkflow(ctx, taskID)
	o.spawn("start", taskID, func() {
		defer o.reg.Unlock(key)
		policy := o.policy.Load()
		if policy.PlannedMeeting && t.Kind != task.KindDesignCheckpoint &&
			(t.Status == task.StatusInbox || t.Status == task.StatusPlanned) {
			o.markPlanned(wctx, t)
			if err := o.plannedMeeting(wctx, t); errors.Is(err, ErrWorkflowInterrupted) {
				slog.Info("kickoff interrupted", "task_id", taskID, "reason", err)
				return
			}
		}
		brief := ""
		if t.Status == task.StatusPending && t.Result != "" {
			brief = o.t("brief.continuation", t.Title, clip(t.Result, 1500))
		}
		o.launch(wctx, t.ID, a, brief)
	})
	return nil
}

// markPlanned moves a task still in inbox to planned before its kickoff.
func (o *Orchestrator) markPlanned(ctx context.Context, t *task.Task) {
	cur, err := o.store.GetTask(ctx, t.ID)
	if err != nil || cur.Status != task.StatusInbox {
		return
	}
	if err := o.setStatus(ctx, cur, task.StatusPlanned); err != nil {
		slog.Warn("mark task planned failed", "task_id", t.ID, "error", err)
		return
	}
	t.Status = cur.Status
}

func (o *Orchestrator) resolveAgent(ctx context.Context, t *task.Task, agentID string) (*agent.Agent, error) {
	if agentID == "" {
		agentID = t.AgentID
	}
	if agentID == "" {
		return o.participants.worker(ctx, t.DepartmentID)
	}
	a, err := o.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", agentID, err)
	}
	if !a.Active() {
		return nil, fmt.Errorf("agent %s is offline: %w", agentID, domain.ErrValidation)
	}
	return a, nil
}

// plannedMeeting holds the kickoff meeting before launch and records what
// each department committed to.
func (o *Orchestrator) plannedMeeting(ctx context.Context, t *task.Task) error {
	key := meeting.LockKey(meeting.KindPlanned, t.ID)
	policy := o.policy.Load()
	participants, err := o.participants.Resolve(ctx, t, policy)
	if err != nil {
		slog.Warn("kickoff skipped", "task_id", t.ID, "error", err)
		return err
	}
	round := o.reg.NextRound(key)
	_, err = o.meetings.Run(ctx, MeetingRequest{
		Kind:         meeting.KindPlanned,
		Task:         t,
		Round:        round,
		Participants: participants,
		Policy:       policy,
		Decide: func(ctx context.Context, m *Minutes) (meeting.Status, error) {
			var lines []string
			for _, e := range m.Finals() {
				lines = append(lines, o.t("memo.kickoff.item", e.SpeakerName, clip(e.Text, 240)))
			}
			o.appendMemo(ctx, t, task.MemoKickoff, lines)
			return meeting.StatusCompleted, nil
		},
	})
	o.reg.ClearRound(key)
	if err != nil && !errors.Is(err, ErrWorkflowInterrupted) {
		slog.Error("kickoff meeting failed", "task_id", t.ID, "error", err)
		o.notify(ctx, notifier.EventMeetingFailed, notifier.LevelError, t,
			o.t("notice.meeting_failed", meeting.KindPlanned, t.Title, err), nil)
	}
	return err
}

// launch moves the task to in_progress, provisions its workspace and session
// and starts the agent process. Exits are routed to handleExit.
func (o *Orchestrator) launch(ctx context.Context, taskID string, a *agent.Agent, brief string) {
	ctx, span := aootel.StartLaunchSpan(ctx, taskID, a.ID, a.Provider)
	defer span.End()

	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		slog.Error("launch: get task failed", "task_id", taskID, "error", err)
		return
	}
	if ctx.Err() != nil || t.Status.IsTerminal() || t.Status == task.StatusInProgress {
		slog.Info("launch interrupted", "task_id", taskID, "status", t.Status)
		return
	}
	if err := o.setStatus(ctx, t, task.StatusInProgress); err != nil {
		slog.Error("launch: status change failed", "task_id", taskID, "error", err)
		return
	}
	if err := o.store.AssignTask(ctx, t.ID, a.ID); err != nil {
		slog.Warn("assign task failed", "task_id", t.ID, "agent_id", a.ID, "error", err)
	}
	t.AgentID = a.ID
	o.setAgentStatus(ctx, a.ID, agent.StatusWorking, t.ID)

	workDir := ""
	if t.Kind != task.KindDesignCheckpoint {
		workDir, err = o.worktrees.Ensure(ctx, t)
		if err != nil {
			slog.Warn("worktree unavailable", "task_id", t.ID, "error", err)
		}
	}

	sess, rotated := o.reg.OpenSession(t.ID, a.ID, a.Provider)
	if rotated {
		slog.Info("execution session rotated", "task_id", t.ID, "session_id", sess.ID, "agent_id", a.ID, "provider", a.Provider)
	}

	provider, err := o.executors.Provider(a.Provider)
	if err != nil {
		o.handleFailure(ctx, t, -1, err.Error())
		return
	}
	proc, err := provider.Launch(ctx, executor.LaunchRequest{
		TaskID:     t.ID,
		Agent:      *a,
		Prompt:     o.buildPrompt(ctx, t, brief, workDir),
		WorkingDir: workDir,
		ModelHints: a.ModelHints(),
		SessionID:  sess.ID,
	})
	if err != nil {
		span.RecordError(err)
		slog.Error("agent launch failed", "task_id", t.ID, "provider", a.Provider, "error", err)
		o.handleFailure(ctx, t, -1, err.Error())
		return
	}
	o.reg.SetProcess(t.ID, proc)
	o.metrics.Launched(ctx, a.Provider)
	slog.Info("agent launched", "task_id", t.ID, "agent_id", a.ID, "provider", a.Provider, "process_id", proc.ID())

	o.startProgress(ctx, t, a, proc)
	o.spawn("exit", t.ID, func() { o.watch(ctx, t.ID, proc) })
}

// watch relays the process output and routes its exit.
func (o *Orchestrator) watch(ctx context.Context, taskID string, proc executor.Process) {
	for line := range proc.Output() {
		o.events.BroadcastEvent(ctx, ws.EventTaskOutput, ws.TaskOutputEvent{
			TaskID: taskID,
			Line:   line,
			Stream: "stdout",
		})
	}
	<-proc.Done()
	o.handleExit(ctx, taskID, proc)
}

// buildPrompt assembles the agent context: the task, a continuation brief,
// the open checklist, recent conversation and the workspace file list.
func (o *Orchestrator) buildPrompt(ctx context.Context, t *task.Task, brief, workDir string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task: %s\n\n%s\n", t.Title, strings.TrimSpace(t.Description))

	if brief != "" {
		fmt.Fprintf(&b, "\n## Continuation\n%s\n", brief)
	}

	if subs, err := o.store.ListSubtasks(ctx, t.ID); err == nil {
		var open []string
		for i := range subs {
			if subs[i].Status == task.SubtaskPending {
				open = append(open, "- [ ] "+subs[i].Title)
			}
		}
		if len(open) > 0 {
			fmt.Fprintf(&b, "\n## Checklist\n%s\n", strings.Join(open, "\n"))
		}
	}

	if n := o.runtime.RecentMessages; n > 0 {
		msgs, err := o.store.ListRecentMessages(ctx, t.ID, n)
		if err != nil {
			slog.Warn("list recent messages failed", "task_id", t.ID, "error", err)
		}
		if len(msgs) > 0 {
			b.WriteString("\n## Recent conversation\n")
			for _, m := range msgs {
				fmt.Fprintf(&b, "- %s: %s\n", m.SenderName, clip(m.Content, 300))
			}
		}
	}

	if files := contextFiles(workDir, o.runtime.ContextFiles); len(files) > 0 {
		fmt.Fprintf(&b, "\n## Project files\n%s\n", strings.Join(files, "\n"))
	}
	return b.String()
}

// contextFiles lists up to limit workspace files in lexical order, skipping
// hidden and dependency directories.
func contextFiles(root string, limit int) []string {
	if root == "" || limit <= 0 {
		return nil
	}
	var out []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		out = append(out, filepath.ToSlash(rel))
		if len(out) >= limit {
			return filepath.SkipAll
		}
		return nil
	})
	return out
}
