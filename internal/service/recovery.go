package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/meeting"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
)

// Recover rebuilds the in-memory registries from the datastore after a
// restart and resumes the workflows that were cut off.
func (o *Orchestrator) Recover(ctx context.Context) error {
	restart, err := o.recoverMeetings(ctx)
	if err != nil {
		return err
	}
	if err := o.recoverOrphans(ctx); err != nil {
		return err
	}

	reviewing, err := o.store.ListTasksByStatus(ctx, task.StatusReview)
	if err != nil {
		return fmt.Errorf("list review tasks: %w", err)
	}
	for i := range reviewing {
		t := &reviewing[i]
		o.recoverReview(ctx, t, restart[t.ID])
	}

	parents, err := o.store.ListTasksByStatus(ctx, task.StatusReview, task.StatusPending)
	if err != nil {
		return fmt.Errorf("list delegating tasks: %w", err)
	}
	for i := range parents {
		if o.hasOpenDelegations(ctx, &parents[i]) {
			o.recoverDelegation(ctx, parents[i].ID)
		}
	}
	slog.Info("recovery complete", "review_tasks", len(reviewing), "restarted_meetings", len(restart))
	return nil
}

// recoverMeetings fails meetings cut off mid-flight and restores the round
// counters. It returns the tasks whose review must restart.
func (o *Orchestrator) recoverMeetings(ctx context.Context) (map[string]bool, error) {
	restart := map[string]bool{}

	open, err := o.store.ListMeetingsByStatus(ctx, meeting.StatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("list open meetings: %w", err)
	}
	for _, rec := range open {
		if err := o.store.UpdateMeetingStatus(ctx, rec.ID, meeting.StatusFailed); err != nil {
			slog.Warn("fail interrupted meeting", "meeting_id", rec.ID, "error", err)
		}
		if rec.Kind == meeting.KindReview {
			o.reg.SetRound(meeting.LockKey(rec.Kind, rec.TaskID), rec.Round-1)
			restart[rec.TaskID] = true
		}
		slog.Info("interrupted meeting failed", "task_id", rec.TaskID, "meeting_id", rec.ID, "kind", rec.Kind, "round", rec.Round)
	}

	paused, err := o.store.ListMeetingsByStatus(ctx, meeting.StatusRevisionRequested)
	if err != nil {
		return nil, fmt.Errorf("list paused meetings: %w", err)
	}
	for _, rec := range paused {
		key := meeting.LockKey(meeting.KindReview, rec.TaskID)
		if rec.Round > o.reg.Round(key) {
			o.reg.SetRound(key, rec.Round)
		}
	}
	return restart, nil
}

// recoverOrphans returns in_progress tasks without a live process to inbox.
// Their worktrees stay mapped for the next launch.
func (o *Orchestrator) recoverOrphans(ctx context.Context) error {
	running, err := o.store.ListTasksByStatus(ctx, task.StatusInProgress)
	if err != nil {
		return fmt.Errorf("list running tasks: %w", err)
	}
	for i := range running {
		t := &running[i]
		if _, ok := o.reg.Process(t.ID); ok {
			continue
		}
		if err := o.setStatus(ctx, t, task.StatusInbox); err != nil {
			slog.Warn("reset orphaned task", "task_id", t.ID, "error", err)
			continue
		}
		o.releaseAgent(ctx, t)
		slog.Info("orphaned task returned to inbox", "task_id", t.ID, "worktree", t.WorktreePath)
	}
	return nil
}

func (o *Orchestrator) recoverReview(ctx context.Context, t *task.Task, restart bool) {
	if restart {
		if err := o.StartReview(ctx, t.ID); err != nil {
			slog.Warn("restart review failed", "task_id", t.ID, "error", err)
		}
		return
	}
	rec, err := o.store.LatestMeeting(ctx, t.ID, meeting.KindReview)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if err := o.StartReview(ctx, t.ID); err != nil {
			slog.Warn("start review failed", "task_id", t.ID, "error", err)
		}
	case err != nil:
		slog.Warn("latest review lookup failed", "task_id", t.ID, "error", err)
	case rec.Status == meeting.StatusCompleted:
		o.resumeAfterRound(ctx, t, rec)
	case rec.Status == meeting.StatusFailed:
		if err := o.StartReview(ctx, t.ID); err != nil {
			slog.Warn("restart review failed", "task_id", t.ID, "error", err)
		}
	}
}

// resumeAfterRound acts on the outcome of the last completed review round: a
// round that scheduled another one continues at the next round number.
func (o *Orchestrator) resumeAfterRound(ctx context.Context, t *task.Task, rec *meeting.Record) {
	outcome := meeting.OutcomeFor(rec.Round)
	entries, err := o.store.ListMeetingEntries(ctx, rec.ID)
	if err != nil {
		slog.Warn("list meeting entries failed", "task_id", t.ID, "meeting_id", rec.ID, "error", err)
	} else if got, ok := meeting.LastOutcome(entries); ok {
		outcome = got
	}

	if outcome != meeting.OutcomeNextRound {
		o.retryFinalize(ctx, t.ID)
		return
	}
	key := meeting.LockKey(meeting.KindReview, t.ID)
	if rec.Round > o.reg.Round(key) {
		o.reg.SetRound(key, rec.Round)
	}
	slog.Info("resuming review at next round", "task_id", t.ID, "round", rec.Round+1)
	if err := o.StartReview(ctx, t.ID); err != nil {
		slog.Warn("resume review failed", "task_id", t.ID, "error", err)
	}
}

func (o *Orchestrator) hasOpenDelegations(ctx context.Context, t *task.Task) bool {
	subs, err := o.store.ListSubtasks(ctx, t.ID)
	if err != nil {
		return false
	}
	for i := range subs {
		s := &subs[i]
		if s.NeedsDelegation(t.DepartmentID) {
			return true
		}
		if s.Status == task.SubtaskBlocked && s.BlockedReason == task.BlockedAwaitingDelegate {
			return true
		}
	}
	return false
}
