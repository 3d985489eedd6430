package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain/meeting"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/message"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/executor"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/notifier"
)

// handleExit routes one agent process exit. It runs once per exit.
func (o *Orchestrator) handleExit(ctx context.Context, taskID string, proc executor.Process) {
	ctx = context.WithoutCancel(ctx)
	o.reg.StopProgress(taskID)
	o.reg.ClearProcess(taskID, proc)

	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		slog.Error("exit: get task failed", "task_id", taskID, "error", err)
		return
	}
	if t.Status != task.StatusInProgress {
		o.staleExit(t)
		return
	}

	result := proc.Tail(o.runtime.OutputTailBytes)
	if err := o.store.UpdateTaskResult(ctx, t.ID, result); err != nil {
		slog.Warn("update task result failed", "task_id", t.ID, "error", err)
	}
	t.Result = result

	if code := proc.ExitCode(); code != 0 {
		o.handleFailure(ctx, t, code, result)
		return
	}
	slog.Info("agent exited", "task_id", t.ID, "agent_id", t.AgentID, "kind", t.Kind)

	o.completeLocalSubtasks(ctx, t)
	o.dispatchDelegations(ctx, t.ID)
	if t.AgentID != "" {
		if err := o.store.RecordAgentOutcome(ctx, t.AgentID, true); err != nil {
			slog.Warn("record agent outcome failed", "agent_id", t.AgentID, "error", err)
		}
	}
	o.releaseAgent(ctx, t)

	switch t.Kind {
	case task.KindDesignCheckpoint:
		o.completeCheckpoint(ctx, t)
	case task.KindReport:
		o.completeReport(ctx, t)
	default:
		o.enterReview(ctx, t)
	}
}

// staleExit handles an exit for a task that already left in_progress. A
// paused task keeps its state for resumption.
func (o *Orchestrator) staleExit(t *task.Task) {
	slog.Info("stale exit ignored", "task_id", t.ID, "status", t.Status)
	switch t.Status {
	case task.StatusPending:
	case task.StatusReview:
		o.reg.CloseSession(t.ID)
	default:
		o.reg.ClearTask(t.ID)
	}
}

// completeLocalSubtasks marks done the pending subtasks that no other
// department has to deliver.
func (o *Orchestrator) completeLocalSubtasks(ctx context.Context, t *task.Task) {
	subs, err := o.store.ListSubtasks(ctx, t.ID)
	if err != nil {
		slog.Warn("list subtasks failed", "task_id", t.ID, "error", err)
		return
	}
	for i := range subs {
		s := &subs[i]
		if s.Status != task.SubtaskPending || s.DelegatedTaskID != "" {
			continue
		}
		if s.TargetDepartmentID != "" && s.TargetDepartmentID != t.DepartmentID {
			continue
		}
		s.MarkDone(o.now())
		if err := o.store.UpdateSubtask(ctx, s); err != nil {
			slog.Warn("complete subtask failed", "subtask_id", s.ID, "error", err)
			continue
		}
		o.broadcastSubtask(ctx, s)
	}
}

// handleFailure reverts a task whose execution failed to inbox.
func (o *Orchestrator) handleFailure(ctx context.Context, t *task.Task, code int, tail string) {
	ctx = context.WithoutCancel(ctx)
	provider := ""
	if s, ok := o.reg.Session(t.ID); ok {
		provider = s.Provider
	}
	slog.Warn("execution failed", "task_id", t.ID, "agent_id", t.AgentID, "exit_code", code)

	if err := o.setStatus(ctx, t, task.StatusInbox); err != nil {
		slog.Error("revert failed task", "task_id", t.ID, "error", err)
	}
	o.appendMemo(ctx, t, task.MemoFailure, []string{o.t("memo.failure.item", code, clip(tail, 400))})
	if err := o.worktrees.Cleanup(ctx, t); err != nil {
		slog.Warn("worktree cleanup failed", "task_id", t.ID, "error", err)
	}
	o.reg.ClearTask(t.ID)
	if t.AgentID != "" {
		if err := o.store.RecordAgentOutcome(ctx, t.AgentID, false); err != nil {
			slog.Warn("record agent outcome failed", "agent_id", t.AgentID, "error", err)
		}
	}
	o.releaseAgent(ctx, t)
	o.metrics.ExecutionFailed(ctx, provider)
	o.notify(ctx, notifier.EventExecutionFailed, notifier.LevelError, t,
		o.t("notice.execution_failed", t.Title, code), nil)

	o.reconcile(ctx, t, false)
	o.fireCallbacks(ctx, t.ID)
}

// completeCheckpoint finishes a design checkpoint without review and hands
// control back to its parent.
func (o *Orchestrator) completeCheckpoint(ctx context.Context, t *task.Task) {
	if err := o.setStatus(ctx, t, task.StatusDone); err != nil {
		slog.Error("complete checkpoint failed", "task_id", t.ID, "error", err)
		return
	}
	o.cleanupTask(ctx, t)
	o.reconcile(ctx, t, true)
	if t.SourceTaskID != "" {
		if err := o.store.MarkCheckpointDone(ctx, t.SourceTaskID); err != nil {
			slog.Warn("mark checkpoint done failed", "task_id", t.SourceTaskID, "error", err)
		}
	}
	o.fireCallbacks(ctx, t.ID)
}

// completeReport finishes a one-shot report task without review. The first
// pass may spawn one design checkpoint that resumes the report afterwards.
func (o *Orchestrator) completeReport(ctx context.Context, t *task.Task) {
	if o.runtime.CheckpointReports && !t.CheckpointDone {
		err := o.startCheckpoint(ctx, t)
		if err == nil {
			return
		}
		slog.Warn("design checkpoint skipped", "task_id", t.ID, "error", err)
	}

	err := o.finalizeTree(ctx, t, finalizeOptions{Bypass: true})
	var conflict *MergeConflictError
	switch {
	case errors.As(err, &conflict):
		if serr := o.setStatus(ctx, t, task.StatusReview); serr != nil {
			slog.Error("park conflicting report in review", "task_id", t.ID, "error", serr)
		}
		o.checkGate(ctx, t.ProjectID)
	case err != nil:
		slog.Error("report finalize failed", "task_id", t.ID, "error", err)
	}
	o.reconcile(ctx, t, err == nil)
}

func (o *Orchestrator) startCheckpoint(ctx context.Context, t *task.Task) error {
	child, err := o.store.CreateTask(ctx, task.CreateRequest{
		Title:        "Design checkpoint: " + t.Title,
		Description:  t.Result,
		Kind:         task.KindDesignCheckpoint,
		Status:       task.StatusPlanned,
		DepartmentID: t.DepartmentID,
		SourceTaskID: t.ID,
		ProjectID:    t.ProjectID,
	})
	if err != nil {
		return err
	}
	if err := o.setStatus(ctx, t, task.StatusPending); err != nil {
		return err
	}
	o.broadcastTask(ctx, child)
	o.reg.AddCallback(child.ID, func(ctx context.Context) { o.resumeAfterCheckpoint(ctx, child) })
	slog.Info("design checkpoint created", "task_id", t.ID, "checkpoint_id", child.ID)
	if err := o.StartTask(ctx, child.ID, ""); err != nil {
		slog.Error("start design checkpoint failed", "task_id", child.ID, "error", err)
	}
	return nil
}

// resumeAfterCheckpoint relaunches the pending parent of a finished design
// checkpoint with the checkpoint outcome as its brief.
func (o *Orchestrator) resumeAfterCheckpoint(ctx context.Context, child *task.Task) {
	parent, err := o.store.GetTask(ctx, child.SourceTaskID)
	if err != nil {
		slog.Warn("resume: get parent failed", "task_id", child.SourceTaskID, "error", err)
		return
	}
	if parent.Status != task.StatusPending {
		slog.Info("resume skipped", "task_id", parent.ID, "status", parent.Status)
		return
	}
	fresh, err := o.store.GetTask(ctx, child.ID)
	if err == nil {
		child = fresh
	}

	key := meeting.LockKey(meeting.KindPlanned, parent.ID)
	if !o.reg.TryLock(key) {
		return
	}
	a, err := o.resolveAgent(ctx, parent, "")
	if err != nil {
		o.reg.Unlock(key)
		slog.Error("resume: no agent", "task_id", parent.ID, "error", err)
		return
	}
	brief := o.t("brief.checkpoint", parent.Title, clip(child.Result, 1500))
	wctx := o.newWorkflow(ctx, parent.ID)
	o.spawn("resume", parent.ID, func() {
		defer o.reg.Unlock(key)
		o.launch(wctx, parent.ID, a, brief)
	})
}

// enterReview moves a finished task into review, narrates the leader report
// and runs review consensus in the calling goroutine.
func (o *Orchestrator) enterReview(ctx context.Context, t *task.Task) {
	if err := o.setStatus(ctx, t, task.StatusReview); err != nil {
		slog.Error("enter review failed", "task_id", t.ID, "error", err)
		return
	}
	o.reconcile(ctx, t, true)
	o.leaderReport(ctx, t)
	o.review(o.newWorkflow(ctx, t.ID), t.ID)
}

func (o *Orchestrator) leaderReport(ctx context.Context, t *task.Task) {
	leader, err := o.participants.leaderOf(ctx, t.DepartmentID)
	if err != nil {
		slog.Debug("no leader to narrate report", "task_id", t.ID, "error", err)
		return
	}
	name := leader.Name
	if t.AgentID != "" {
		if a, err := o.store.GetAgent(ctx, t.AgentID); err == nil {
			name = a.Name
		}
	}
	o.postMessage(ctx, t.ID, leader, message.KindReport,
		o.t("report.leader", t.Title, name, clip(t.Result, 800)))
}
