package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain/meeting"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/project"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/notifier"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/vcs"
)

type finalizeOptions struct {
	Bypass       bool // skip the project gate
	ResidualRisk bool
}

// finalize completes a task sitting in review once its subtasks, children and
// project gate allow it. Deferred finalizations are retried by reconciliation
// and by the gate opening.
func (o *Orchestrator) finalize(ctx context.Context, taskID string, opts finalizeOptions) error {
	ctx = context.WithoutCancel(ctx)
	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task %s: %w", taskID, err)
	}
	if t.Status != task.StatusReview {
		slog.Info("finalize skipped", "task_id", taskID, "status", t.Status)
		return nil
	}

	ready, err := o.readyToFinalize(ctx, t)
	if err != nil || !ready {
		return err
	}

	if t.IsRoot() && t.ProjectID != "" && !opts.Bypass {
		open, err := o.gateOpen(ctx, t.ProjectID)
		if err != nil {
			return err
		}
		if !open {
			o.reg.AddGateWaiter(t.ProjectID, t.ID)
			slog.Info("finalize waiting on project gate", "task_id", t.ID, "project_id", t.ProjectID)
			return nil
		}
		return o.openGate(ctx, t.ProjectID, t.ID, opts)
	}
	return o.finalizeTree(ctx, t, opts)
}

// readyToFinalize heals delegated subtasks whose task already reached review
// or done, then reports whether nothing is left outstanding.
func (o *Orchestrator) readyToFinalize(ctx context.Context, t *task.Task) (bool, error) {
	subs, err := o.store.ListSubtasks(ctx, t.ID)
	if err != nil {
		return false, fmt.Errorf("list subtasks %s: %w", t.ID, err)
	}
	for i := range subs {
		s := &subs[i]
		if s.Status != task.SubtaskBlocked || s.DelegatedTaskID == "" {
			continue
		}
		d, err := o.store.GetTask(ctx, s.DelegatedTaskID)
		if err != nil {
			slog.Warn("get delegated task failed", "subtask_id", s.ID, "delegated_task_id", s.DelegatedTaskID, "error", err)
			continue
		}
		if d.Status != task.StatusReview && d.Status != task.StatusDone {
			continue
		}
		s.MarkDone(o.now())
		if err := o.store.UpdateSubtask(ctx, s); err != nil {
			return false, fmt.Errorf("heal subtask %s: %w", s.ID, err)
		}
		slog.Info("delegated subtask healed", "task_id", t.ID, "subtask_id", s.ID, "delegated_task_id", d.ID)
		o.broadcastSubtask(ctx, s)
	}
	if n := task.CountUnfinished(subs); n > 0 {
		slog.Info("finalize deferred: unfinished subtasks", "task_id", t.ID, "remaining", n)
		return false, nil
	}

	children, err := o.store.ListTasksBySource(ctx, t.ID)
	if err != nil {
		return false, fmt.Errorf("list children %s: %w", t.ID, err)
	}
	for i := range children {
		c := &children[i]
		if c.Status != task.StatusReview && !c.Status.IsTerminal() {
			slog.Info("finalize deferred: child still active", "task_id", t.ID, "child_id", c.ID, "child_status", c.Status)
			return false, nil
		}
	}
	return true, nil
}

func (o *Orchestrator) gateOpen(ctx context.Context, projectID string) (bool, error) {
	tasks, err := o.store.ListTasksByProject(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("list project tasks %s: %w", projectID, err)
	}
	members := make([]project.GateMember, 0, len(tasks))
	for i := range tasks {
		members = append(members, project.GateMember{
			TaskID:   tasks[i].ID,
			Status:   string(tasks[i].Status),
			IsRoot:   tasks[i].IsRoot(),
			Terminal: tasks[i].Status.IsTerminal(),
		})
	}
	return project.GateOpen(members, string(task.StatusReview)), nil
}

// openGate finalizes selfID and every root task parked on the project gate.
func (o *Orchestrator) openGate(ctx context.Context, projectID, selfID string, opts finalizeOptions) error {
	waiters := o.reg.TakeGateWaiters(projectID)
	slog.Info("project gate open", "project_id", projectID, "waiting", len(waiters))

	opts.Bypass = true
	var err error
	if selfID != "" {
		err = o.finalize(ctx, selfID, opts)
	}
	for _, id := range waiters {
		if id == selfID {
			continue
		}
		if ferr := o.finalize(ctx, id, finalizeOptions{Bypass: true}); ferr != nil {
			slog.Error("gated finalize failed", "task_id", id, "project_id", projectID, "error", ferr)
		}
	}
	return err
}

// checkGate releases parked tasks if the project gate has opened because a
// member left the active set or reached review.
func (o *Orchestrator) checkGate(ctx context.Context, projectID string) {
	if projectID == "" || !o.reg.HasGateWaiters(projectID) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	open, err := o.gateOpen(ctx, projectID)
	if err != nil {
		slog.Warn("project gate check failed", "project_id", projectID, "error", err)
		return
	}
	if open {
		if err := o.openGate(ctx, projectID, "", finalizeOptions{}); err != nil {
			slog.Warn("project gate release failed", "project_id", projectID, "error", err)
		}
	}
}

// finalizeTree completes root and then its collaboration children through a
// worklist. Queued callbacks fire after the whole tree is done.
func (o *Orchestrator) finalizeTree(ctx context.Context, root *task.Task, opts finalizeOptions) error {
	type item struct {
		t    *task.Task
		opts finalizeOptions
	}
	queue := []item{{t: root, opts: opts}}
	var finished []string

	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]

		children, err := o.complete(ctx, it.t, it.opts)
		if err != nil {
			if it.t.ID == root.ID {
				return err
			}
			slog.Warn("child finalize failed", "task_id", it.t.ID, "root_id", root.ID, "error", err)
			continue
		}
		finished = append(finished, it.t.ID)
		for i := range children {
			if children[i].Status == task.StatusReview {
				queue = append(queue, item{t: &children[i], opts: finalizeOptions{Bypass: true}})
			}
		}
	}

	for _, id := range finished {
		o.fireCallbacks(ctx, id)
	}
	if root.IsRoot() {
		o.checkGate(ctx, root.ProjectID)
	}
	return nil
}

// complete merges, marks done, clears derived state and publishes the report
// of one task. It returns the task's children.
func (o *Orchestrator) complete(ctx context.Context, t *task.Task, opts finalizeOptions) ([]task.Task, error) {
	if t.HasWorktree() {
		res, target, err := o.worktrees.Merge(ctx, t)
		var conflict *MergeConflictError
		if errors.As(err, &conflict) {
			o.onMergeConflict(ctx, t, conflict)
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		o.appendMemo(ctx, t, task.MemoMerge, []string{o.mergeNote(t, res, target)})
	}

	if err := o.setStatus(ctx, t, task.StatusDone); err != nil {
		return nil, err
	}
	o.cleanupTask(ctx, t)
	if t.IsRoot() {
		o.publishReport(ctx, t)
	}
	o.notify(ctx, notifier.EventTaskDone, notifier.LevelSuccess, t, o.t("notice.done", t.Title), nil)
	o.metrics.Finalized(ctx, opts.ResidualRisk)
	slog.Info("task finalized", "task_id", t.ID, "residual_risk", opts.ResidualRisk)

	children, err := o.store.ListTasksBySource(ctx, t.ID)
	if err != nil {
		slog.Warn("list children failed", "task_id", t.ID, "error", err)
		return nil, nil
	}
	return children, nil
}

func (o *Orchestrator) mergeNote(t *task.Task, res *vcs.MergeResult, target string) string {
	switch {
	case res.PullRequestURL != "":
		return o.t("memo.merge.pr", res.PullRequestURL)
	case res.CommitSHA != "":
		return o.t("memo.merge.merged", t.WorktreeBranch, target, res.CommitSHA)
	default:
		return o.t("memo.merge.noop", t.WorktreeBranch)
	}
}

func (o *Orchestrator) onMergeConflict(ctx context.Context, t *task.Task, conflict *MergeConflictError) {
	o.metrics.MergeConflict(ctx)
	slog.Warn("merge conflict, task stays in review",
		"task_id", t.ID, "target", conflict.Target, "files", conflict.Files)
	o.notify(ctx, notifier.EventMergeConflict, notifier.LevelError, t,
		o.t("notice.merge_conflict", t.Title, conflict.Target, len(conflict.Files)), conflict.Files)
	o.broadcastTask(ctx, t)
}

// cleanupTask drops the ledger and registry state of a task that reached a
// terminal state. Meeting records of a done task are deleted; a cancelled
// task keeps them, with unfinished ones marked failed.
func (o *Orchestrator) cleanupTask(ctx context.Context, t *task.Task) {
	if err := o.store.DeleteRevisionNotes(ctx, t.ID); err != nil {
		slog.Warn("delete revision notes failed", "task_id", t.ID, "error", err)
	}
	if t.Status == task.StatusCancelled {
		o.failOpenMeetings(ctx, t.ID)
	} else if err := o.store.DeleteTaskMeetings(ctx, t.ID); err != nil {
		slog.Warn("delete meetings failed", "task_id", t.ID, "error", err)
	}
	o.reg.ClearTask(t.ID)
	o.releaseAgent(ctx, t)
}

func (o *Orchestrator) failOpenMeetings(ctx context.Context, taskID string) {
	recs, err := o.store.ListMeetings(ctx, taskID)
	if err != nil {
		slog.Warn("list meetings failed", "task_id", taskID, "error", err)
		return
	}
	for i := range recs {
		rec := &recs[i]
		if rec.Status != meeting.StatusInProgress && rec.Status != meeting.StatusRevisionRequested {
			continue
		}
		if err := o.store.UpdateMeetingStatus(ctx, rec.ID, meeting.StatusFailed); err != nil {
			slog.Warn("mark meeting failed", "meeting_id", rec.ID, "task_id", taskID, "error", err)
			continue
		}
		rec.Status = meeting.StatusFailed
		o.meetings.broadcastStatus(ctx, rec)
	}
}

// awaitingRemediation reports whether the task's latest review round paused
// for an external remediation decision.
func (o *Orchestrator) awaitingRemediation(ctx context.Context, taskID string) bool {
	rec, err := o.store.LatestMeeting(ctx, taskID, meeting.KindReview)
	if err != nil {
		return false
	}
	return rec.Status == meeting.StatusRevisionRequested
}
