package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain"
	"github.com/ccivlcid/agentoffice-sub001/internal/logger"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/messagequeue"
)

// StartSubscribers consumes the task command subjects and returns their
// cancel funcs. Rejected commands are logged and acknowledged; only
// infrastructure failures are retried by the queue.
func (o *Orchestrator) StartSubscribers(ctx context.Context, q messagequeue.Queue) ([]func(), error) {
	handlers := []struct {
		subject string
		handle  func(context.Context, []byte) error
	}{
		{messagequeue.SubjectCommandTaskStart, o.handleStartCommand},
		{messagequeue.SubjectCommandTaskStop, o.handleStopCommand},
		{messagequeue.SubjectCommandRemediation, o.handleRemediationCommand},
	}

	var cancels []func()
	for _, h := range handlers {
		handle := h.handle
		subject := h.subject
		cancel, err := q.Subscribe(ctx, subject, func(msgCtx context.Context, _ string, data []byte) error {
			return commandResult(msgCtx, subject, handle(msgCtx, data))
		})
		if err != nil {
			for _, c := range cancels {
				c()
			}
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		cancels = append(cancels, cancel)
	}
	return cancels, nil
}

func (o *Orchestrator) handleStartCommand(ctx context.Context, data []byte) error {
	var p messagequeue.TaskStartPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("unmarshal task start: %w", err)
	}
	return o.StartTask(logger.WithTaskID(ctx, p.TaskID), p.TaskID, p.AgentID)
}

func (o *Orchestrator) handleStopCommand(ctx context.Context, data []byte) error {
	var p messagequeue.TaskStopPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("unmarshal task stop: %w", err)
	}
	return o.StopTask(logger.WithTaskID(ctx, p.TaskID), p.TaskID, StopMode(p.Mode))
}

func (o *Orchestrator) handleRemediationCommand(ctx context.Context, data []byte) error {
	var p messagequeue.RemediationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("unmarshal remediation: %w", err)
	}
	return o.ResolveRemediation(logger.WithTaskID(ctx, p.TaskID), p.TaskID, RemediationAction(p.Action), p.ItemIDs)
}

// commandResult drops domain rejections so the queue does not redeliver a
// command that can never succeed.
func commandResult(ctx context.Context, subject string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrInvalidTransition) {
		logger.From(ctx).Warn("command rejected", "subject", subject, "error", err)
		return nil
	}
	return err
}
