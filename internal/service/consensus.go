package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ccivlcid/agentoffice-sub001/internal/adapter/ws"
	"github.com/ccivlcid/agentoffice-sub001/internal/config"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/meeting"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/review"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/notifier"
)

type verdictAction int

const (
	verdictFinalize verdictAction = iota
	verdictNextRound
	verdictPause
)

// verdict is the outcome of one review round.
type verdict struct {
	action   verdictAction
	residual bool
	items    []review.MemoItem
}

func (v verdict) outcome() meeting.Outcome {
	switch v.action {
	case verdictNextRound:
		return meeting.OutcomeNextRound
	case verdictPause:
		return meeting.OutcomeRemediation
	}
	return meeting.OutcomeFinalize
}

func (v verdict) status() meeting.Status {
	if v.action == verdictPause {
		return meeting.StatusRevisionRequested
	}
	return meeting.StatusCompleted
}

// StartReview starts the next review round for a task sitting in review.
// A start while a review meeting for the task is in flight is a no-op.
func (o *Orchestrator) StartReview(ctx context.Context, taskID string) error {
	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task %s: %w", taskID, err)
	}
	if t.Status != task.StatusReview {
		return fmt.Errorf("task %s is %s, not review: %w", taskID, t.Status, domain.ErrInvalidTransition)
	}
	key := meeting.LockKey(meeting.KindReview, taskID)
	if !o.reg.TryLock(key) {
		slog.Info("review already in flight", "task_id", taskID)
		return nil
	}
	wctx := o.newWorkflow(ctx, taskID)
	o.spawn("review", taskID, func() { o.reviewLocked(wctx, taskID) })
	return nil
}

// review runs the review workflow in the calling goroutine unless another
// meeting already holds the task's lock.
func (o *Orchestrator) review(ctx context.Context, taskID string) {
	if !o.reg.TryLock(meeting.LockKey(meeting.KindReview, taskID)) {
		slog.Info("review already in flight", "task_id", taskID)
		return
	}
	o.reviewLocked(ctx, taskID)
}

// reviewLocked holds rounds until one pauses, finalizes or fails. The caller
// has acquired the task's review lock; it is released before returning.
func (o *Orchestrator) reviewLocked(ctx context.Context, taskID string) {
	key := meeting.LockKey(meeting.KindReview, taskID)
	defer o.reg.Unlock(key)

	for {
		v, ok := o.reviewRound(ctx, taskID)
		if !ok {
			return
		}
		switch v.action {
		case verdictNextRound:
			continue
		case verdictPause:
			return
		default:
			err := o.finalize(ctx, taskID, finalizeOptions{ResidualRisk: v.residual})
			if err != nil && !errors.As(err, new(*MergeConflictError)) {
				slog.Error("finalize failed", "task_id", taskID, "error", err)
			}
			return
		}
	}
}

// reviewRound holds one meeting and applies its verdict. ok is false when
// the round did not produce a verdict.
func (o *Orchestrator) reviewRound(ctx context.Context, taskID string) (verdict, bool) {
	key := meeting.LockKey(meeting.KindReview, taskID)
	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		slog.Error("review: get task failed", "task_id", taskID, "error", err)
		return verdict{}, false
	}
	if t.Status != task.StatusReview {
		slog.Info("review skipped", "task_id", taskID, "status", t.Status)
		return verdict{}, false
	}

	policy := o.policy.Load()
	round := o.reg.NextRound(key)
	mode := meeting.ModeFor(round)

	participants, err := o.participants.Resolve(ctx, t, policy)
	if err != nil {
		o.reg.SetRound(key, round-1)
		slog.Error("review: resolve participants failed", "task_id", taskID, "error", err)
		o.notify(ctx, notifier.EventMeetingFailed, notifier.LevelError, t,
			o.t("notice.meeting_failed", meeting.KindReview, t.Title, err), nil)
		return verdict{}, false
	}

	slog.Info("review round started", "task_id", taskID, "round", round, "mode", mode, "participants", len(participants))

	var v verdict
	_, err = o.meetings.Run(ctx, MeetingRequest{
		Kind:         meeting.KindReview,
		Task:         t,
		Round:        round,
		Participants: participants,
		Policy:       policy,
		Decide: func(ctx context.Context, m *Minutes) (meeting.Status, error) {
			var err error
			v, err = o.decide(ctx, t, round, m, policy)
			if err != nil {
				return "", err
			}
			if nerr := o.meetings.Note(ctx, m, meeting.OutcomeEntry(v.outcome())); nerr != nil {
				slog.Warn("record round outcome failed", "task_id", taskID, "round", round, "error", nerr)
			}
			return v.status(), nil
		},
	})
	if err != nil {
		if errors.Is(err, ErrWorkflowInterrupted) {
			slog.Info("review interrupted", "task_id", taskID, "round", round, "reason", err)
			return verdict{}, false
		}
		slog.Error("review meeting failed", "task_id", taskID, "round", round, "error", err)
		o.notify(ctx, notifier.EventMeetingFailed, notifier.LevelError, t,
			o.t("notice.meeting_failed", meeting.KindReview, t.Title, err), nil)
		return verdict{}, false
	}
	o.metrics.RoundEvaluated(ctx, string(mode))

	if v.action == verdictPause {
		o.requestRemediation(ctx, t, round, v.items)
	}
	return v, true
}

// decide applies the consensus rules to a finished round's final votes.
func (o *Orchestrator) decide(ctx context.Context, t *task.Task, round int, m *Minutes, policy config.Review) (verdict, error) {
	mode := meeting.ModeFor(round)

	finals := m.Finals()
	votes := make([]review.Vote, 0, len(finals))
	for _, e := range finals {
		votes = append(votes, review.ClassifyVote(o.classifier, e.SpeakerID, e.DepartmentID, e.Text))
	}
	part := review.PartitionHolds(votes, review.HoldLimits{
		PerRound:      policy.MaxBlockingHoldsPerRound,
		PerDepartment: policy.MaxHoldsPerDepartment,
	})

	for _, v := range part.Ignored {
		slog.Warn("hold over cap ignored", "task_id", t.ID, "round", round, "agent_id", v.AgentID, "department_id", v.DepartmentID)
	}
	if len(part.Deferred) > 0 {
		lines := make([]string, 0, len(part.Deferred))
		for _, v := range part.Deferred {
			lines = append(lines, o.t("memo.monitoring.item", v.DepartmentID, clip(v.Text, 240)))
		}
		o.appendMemo(ctx, t, task.MemoMonitoring, lines)
	}

	if !part.HasBlocking() {
		if mode == meeting.ModeMergeSynthesis {
			slog.Info("consolidation complete, scheduling next round", "task_id", t.ID, "round", round)
			return verdict{action: verdictNextRound}, nil
		}
		return verdict{action: verdictFinalize}, nil
	}

	fresh, err := o.recordIssues(ctx, t, round, m, part.Blocking, policy.MaxMemoItemsPerRound)
	if err != nil {
		return verdict{}, err
	}

	if mode.AllowsRemediation() && t.RemediationCount < policy.MaxRemediationRequests {
		if len(fresh) == 0 {
			slog.Info("blocking holds repeat known items, escalating", "task_id", t.ID, "round", round)
			return verdict{action: verdictNextRound}, nil
		}
		n, err := o.store.IncrementRemediationCount(ctx, t.ID)
		if err != nil {
			return verdict{}, fmt.Errorf("increment remediation count: %w", err)
		}
		t.RemediationCount = n
		return verdict{action: verdictPause, items: fresh}, nil
	}

	notes := make([]string, 0, len(part.Blocking))
	for _, v := range part.Blocking {
		notes = append(notes, clip(v.Text, 160))
	}
	o.appendMemo(ctx, t, task.MemoResidualRisk, []string{
		o.t("memo.residual_risk.item", round, strings.Join(notes, "; ")),
	})
	slog.Info("finalizing with residual risk", "task_id", t.ID, "round", round, "mode", mode,
		"remediation_count", t.RemediationCount)
	return verdict{action: verdictFinalize, residual: true}, nil
}

// recordIssues extracts issue statements from the blocking speakers and stores
// the ones the task's ledger has not seen, up to limit per round.
func (o *Orchestrator) recordIssues(ctx context.Context, t *task.Task, round int, m *Minutes, blocking []review.Vote, limit int) ([]review.MemoItem, error) {
	var fresh []review.MemoItem
	for _, v := range blocking {
		issues := review.ExtractIssues(strings.Join(m.Said(v.AgentID), "\n"))
		if len(issues) == 0 {
			issues = []string{clip(v.Text, 240)}
		}
		for _, note := range issues {
			if limit > 0 && len(fresh) >= limit {
				break
			}
			item := review.MemoItem{
				ID:         uuid.NewString(),
				TaskID:     t.ID,
				Note:       note,
				Normalized: review.NormalizeNote(note),
				Round:      round,
			}
			if item.Normalized == "" {
				continue
			}
			err := o.store.InsertRevisionNote(ctx, &item)
			if errors.Is(err, domain.ErrDuplicate) {
				slog.Debug("revision note already recorded", "task_id", t.ID, "note", item.Normalized)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("insert revision note: %w", err)
			}
			fresh = append(fresh, item)
		}
	}

	if len(fresh) > 0 {
		lines := make([]string, 0, len(fresh))
		for _, it := range fresh {
			lines = append(lines, o.t("memo.revision.item", it.Note))
		}
		o.appendMemo(ctx, t, task.MemoRevision, lines)
	}
	return fresh, nil
}

func (o *Orchestrator) requestRemediation(ctx context.Context, t *task.Task, round int, items []review.MemoItem) {
	o.metrics.RemediationPaused(ctx)
	evItems := make([]ws.RemediationItem, 0, len(items))
	notes := make([]string, 0, len(items))
	for _, it := range items {
		evItems = append(evItems, ws.RemediationItem{ID: it.ID, Note: it.Note})
		notes = append(notes, it.Note)
	}
	o.events.BroadcastEvent(ctx, ws.EventRemediationRequested, ws.RemediationRequestedEvent{
		TaskID: t.ID,
		Round:  round,
		Items:  evItems,
	})
	o.notify(ctx, notifier.EventRemediationRequested, notifier.LevelWarning, t,
		o.t("notice.remediation", round, t.Title, len(items)), notes)
	slog.Info("review paused for remediation", "task_id", t.ID, "round", round, "items", len(items))
}
