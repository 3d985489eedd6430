package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain/meeting"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/message"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
)

// dispatchDelegations starts the next cross-department subtask of parentID.
// Delegations run one at a time: while a delegated task is active the queue
// only makes sure that task's callback is registered.
func (o *Orchestrator) dispatchDelegations(ctx context.Context, parentID string) {
	parent, err := o.store.GetTask(ctx, parentID)
	if err != nil {
		slog.Warn("delegation: get parent failed", "task_id", parentID, "error", err)
		return
	}
	if parent.Status.IsTerminal() {
		return
	}
	subs, err := o.store.ListSubtasks(ctx, parentID)
	if err != nil {
		slog.Warn("delegation: list subtasks failed", "task_id", parentID, "error", err)
		return
	}

	for i := range subs {
		s := &subs[i]
		if s.DelegatedTaskID == "" || s.Status != task.SubtaskBlocked || s.BlockedReason != task.BlockedAwaitingDelegate {
			continue
		}
		child, err := o.store.GetTask(ctx, s.DelegatedTaskID)
		if err != nil {
			slog.Warn("delegation: get delegated task failed", "subtask_id", s.ID, "error", err)
			continue
		}
		if child.Status.IsTerminal() || child.Status == task.StatusReview {
			continue
		}
		if !o.reg.HasCallback(child.ID) {
			o.reg.AddCallback(child.ID, o.delegationCallback(parentID))
		}
		return
	}

	for i := range subs {
		if subs[i].NeedsDelegation(parent.DepartmentID) {
			if err := o.delegate(ctx, parent, &subs[i]); err != nil {
				slog.Error("delegation failed", "task_id", parentID, "subtask_id", subs[i].ID, "error", err)
			}
			return
		}
	}
}

func (o *Orchestrator) delegationCallback(parentID string) Callback {
	return func(ctx context.Context) { o.dispatchDelegations(ctx, parentID) }
}

// delegate creates the task fulfilling s in its target department and starts it.
func (o *Orchestrator) delegate(ctx context.Context, parent *task.Task, s *task.Subtask) error {
	child, err := o.store.CreateTask(ctx, task.CreateRequest{
		Title:        s.Title,
		Description:  fmt.Sprintf("%s\n\nRequested by %s for %q.", s.Title, parent.DepartmentID, parent.Title),
		Kind:         task.KindGeneral,
		Status:       task.StatusPlanned,
		DepartmentID: s.TargetDepartmentID,
		SourceTaskID: parent.ID,
		ProjectID:    parent.ProjectID,
		BaseBranch:   parent.BaseBranch,
	})
	if err != nil {
		return fmt.Errorf("create delegated task: %w", err)
	}

	s.DelegatedTaskID = child.ID
	s.MarkBlocked(task.BlockedAwaitingDelegate)
	if err := o.store.UpdateSubtask(ctx, s); err != nil {
		return fmt.Errorf("link subtask %s: %w", s.ID, err)
	}
	o.broadcastSubtask(ctx, s)
	o.broadcastTask(ctx, child)
	o.reg.AddCallback(child.ID, o.delegationCallback(parent.ID))
	o.postMessage(ctx, parent.ID, nil, message.KindNotice, o.t("notice.delegated", s.Title, s.TargetDepartmentID))
	slog.Info("subtask delegated", "task_id", parent.ID, "subtask_id", s.ID,
		"delegated_task_id", child.ID, "department_id", s.TargetDepartmentID)

	worker, err := o.participants.worker(ctx, s.TargetDepartmentID)
	if err != nil {
		return fmt.Errorf("pick agent for delegated task %s: %w", child.ID, err)
	}
	return o.StartTask(ctx, child.ID, worker.ID)
}

// recoverDelegation re-derives the delegation queue of parentID when its
// callback went missing, for example across a restart.
func (o *Orchestrator) recoverDelegation(ctx context.Context, parentID string) {
	slog.Info("re-deriving delegation queue", "task_id", parentID)
	o.dispatchDelegations(ctx, parentID)
}

// fireCallbacks delivers the callbacks queued for taskID exactly once. A
// delegated or checkpoint task with nothing queued triggers recovery instead.
func (o *Orchestrator) fireCallbacks(ctx context.Context, taskID string) {
	cbs := o.reg.TakeCallbacks(taskID)
	if len(cbs) > 0 {
		for _, cb := range cbs {
			cb(ctx)
		}
		return
	}

	t, err := o.store.GetTask(ctx, taskID)
	if err != nil || t.SourceTaskID == "" {
		return
	}
	if t.Kind == task.KindDesignCheckpoint {
		o.resumeAfterCheckpoint(ctx, t)
		return
	}
	linked, err := o.store.ListSubtasksByDelegate(ctx, taskID)
	if err != nil || len(linked) == 0 {
		return
	}
	o.recoverDelegation(ctx, linked[0].TaskID)
}

// reconcile re-syncs every subtask fulfilled by the exited task and retries
// the finalization of parents left waiting in review.
func (o *Orchestrator) reconcile(ctx context.Context, exited *task.Task, success bool) {
	linked, err := o.store.ListSubtasksByDelegate(ctx, exited.ID)
	if err != nil {
		slog.Warn("reconcile: list linked subtasks failed", "task_id", exited.ID, "error", err)
		return
	}
	parents := map[string]bool{}
	for i := range linked {
		s := &linked[i]
		if success {
			s.MarkDone(o.now())
			parents[s.TaskID] = true
		} else {
			s.MarkBlocked(task.BlockedDelegationFailed)
		}
		if err := o.store.UpdateSubtask(ctx, s); err != nil {
			slog.Warn("reconcile: update subtask failed", "subtask_id", s.ID, "error", err)
			continue
		}
		o.broadcastSubtask(ctx, s)
	}
	if success && exited.SourceTaskID != "" {
		parents[exited.SourceTaskID] = true
	}

	for id := range parents {
		o.retryFinalize(ctx, id)
	}
}

// retryFinalize finalizes a parent waiting in review once it has nothing
// unfinished, unless a meeting is running or a remediation decision is pending.
func (o *Orchestrator) retryFinalize(ctx context.Context, taskID string) {
	p, err := o.store.GetTask(ctx, taskID)
	if err != nil || p.Status != task.StatusReview {
		return
	}
	subs, err := o.store.ListSubtasks(ctx, taskID)
	if err != nil || task.CountUnfinished(subs) > 0 {
		return
	}
	if o.awaitingRemediation(ctx, taskID) {
		return
	}
	if _, err := o.store.LatestMeeting(ctx, taskID, meeting.KindReview); err != nil {
		return
	}
	key := meeting.LockKey(meeting.KindReview, taskID)
	if !o.reg.TryLock(key) {
		return
	}
	o.spawn("finalize", taskID, func() {
		defer o.reg.Unlock(key)
		if err := o.finalize(ctx, taskID, finalizeOptions{}); err != nil {
			slog.Warn("retried finalize failed", "task_id", taskID, "error", err)
		}
	})
}
