package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/meeting"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/review"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
)

// StopMode selects how StopTask halts a task.
type StopMode string

const (
	// StopPause parks a running task in pending, keeping its session and
	// worktree for resumption.
	StopPause StopMode = "pause"
	// StopCancel terminates the task and drops all of its derived state.
	StopCancel StopMode = "cancel"
)

// RemediationAction is the decision taken on a paused review round.
type RemediationAction string

const (
	RemediationAct  RemediationAction = "act"
	RemediationSkip RemediationAction = "skip"
)

// StopTask pauses or cancels a task. An empty mode cancels. The status
// changes first so every in-flight workflow observes the interruption at its
// next checkpoint.
func (o *Orchestrator) StopTask(ctx context.Context, taskID string, mode StopMode) error {
	if mode == "" {
		mode = StopCancel
	}
	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task %s: %w", taskID, err)
	}

	switch mode {
	case StopPause:
		if t.Status != task.StatusInProgress {
			return fmt.Errorf("pause task %s from %s: %w", taskID, t.Status, domain.ErrInvalidTransition)
		}
		if err := o.setStatus(ctx, t, task.StatusPending); err != nil {
			return err
		}
		o.reg.CancelWorkflow(taskID)
		o.reg.StopProgress(taskID)
		o.stopProcess(ctx, taskID)
		o.releaseAgent(ctx, t)
		slog.Info("task paused", "task_id", taskID)
		return nil

	case StopCancel:
		if t.Status.IsTerminal() {
			return fmt.Errorf("cancel task %s from %s: %w", taskID, t.Status, domain.ErrInvalidTransition)
		}
		if err := o.setStatus(ctx, t, task.StatusCancelled); err != nil {
			return err
		}
		o.reg.CancelWorkflow(taskID)
		o.stopProcess(ctx, taskID)

		ctx = context.WithoutCancel(ctx)
		if err := o.worktrees.Cleanup(ctx, t); err != nil {
			slog.Warn("worktree cleanup failed", "task_id", taskID, "error", err)
		}
		o.cleanupTask(ctx, t)
		o.reconcile(ctx, t, false)
		o.fireCallbacks(ctx, taskID)
		o.checkGate(ctx, t.ProjectID)
		slog.Info("task cancelled", "task_id", taskID)
		return nil
	}
	return fmt.Errorf("unknown stop mode %q: %w", mode, domain.ErrValidation)
}

func (o *Orchestrator) stopProcess(ctx context.Context, taskID string) {
	p, ok := o.reg.Process(taskID)
	if !ok {
		return
	}
	if err := p.Stop(ctx); err != nil {
		slog.Warn("stop process failed", "task_id", taskID, "process_id", p.ID(), "error", err)
	}
}

// ResolveRemediation answers a review round paused for remediation. act turns
// the selected revision items into subtasks and relaunches the task's agent;
// review resumes at the next round when it exits. skip starts the next round
// right away. Empty itemIDs selects every item of the paused round.
func (o *Orchestrator) ResolveRemediation(ctx context.Context, taskID string, action RemediationAction, itemIDs []string) error {
	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task %s: %w", taskID, err)
	}
	if t.Status != task.StatusReview {
		return fmt.Errorf("task %s is %s, not review: %w", taskID, t.Status, domain.ErrInvalidTransition)
	}
	rec, err := o.store.LatestMeeting(ctx, taskID, meeting.KindReview)
	if err != nil {
		return fmt.Errorf("latest review of %s: %w", taskID, err)
	}
	if rec.Status != meeting.StatusRevisionRequested {
		return fmt.Errorf("task %s has no paused review round: %w", taskID, domain.ErrValidation)
	}

	switch action {
	case RemediationSkip:
		slog.Info("remediation skipped", "task_id", taskID, "round", rec.Round)
		return o.StartReview(ctx, taskID)
	case RemediationAct:
	default:
		return fmt.Errorf("unknown remediation action %q: %w", action, domain.ErrValidation)
	}

	items, err := o.selectRevisionItems(ctx, taskID, rec.Round, itemIDs)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("no revision items selected for %s: %w", taskID, domain.ErrValidation)
	}

	key := meeting.LockKey(meeting.KindPlanned, taskID)
	if !o.reg.TryLock(key) {
		slog.Info("remediation already in flight", "task_id", taskID)
		return nil
	}
	a, err := o.resolveAgent(ctx, t, "")
	if err != nil {
		o.reg.Unlock(key)
		return err
	}

	lines := make([]string, 0, len(items))
	for _, it := range items {
		s := &task.Subtask{
			ID:        uuid.NewString(),
			TaskID:    taskID,
			Title:     it.Note,
			Status:    task.SubtaskPending,
			CreatedAt: o.now(),
		}
		if err := o.store.CreateSubtask(ctx, s); err != nil {
			o.reg.Unlock(key)
			return fmt.Errorf("create remediation subtask: %w", err)
		}
		o.broadcastSubtask(ctx, s)
		lines = append(lines, "- "+it.Note)
	}
	brief := o.t("brief.remediation", t.Title, strings.Join(lines, "\n"))
	slog.Info("remediation accepted", "task_id", taskID, "round", rec.Round, "items", len(items))

	wctx := o.newWorkflow(ctx, taskID)
	o.spawn("remediation", taskID, func() {
		defer o.reg.Unlock(key)
		o.launch(wctx, taskID, a, brief)
	})
	return nil
}

func (o *Orchestrator) selectRevisionItems(ctx context.Context, taskID string, round int, ids []string) ([]review.MemoItem, error) {
	all, err := o.store.ListRevisionNotes(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list revision notes %s: %w", taskID, err)
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []review.MemoItem
	for _, it := range all {
		if len(want) > 0 && want[it.ID] || len(want) == 0 && it.Round == round {
			out = append(out, it)
		}
	}
	return out, nil
}
