package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/ccivlcid/agentoffice-sub001/internal/port/executor"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/messagequeue"
)

const launchAckTimeout = 10 * time.Second

// Executor runs agents on remote workers listening on agents.launch.{name}
// and agents.oneshot.{name}. Output and exit codes come back on per-process
// subjects.
type Executor struct {
	nc       *nats.Conn
	name     string
	tailSize int
}

// NewExecutor creates a remote executor registered under name.
func NewExecutor(nc *nats.Conn, name string, tailSize int) *Executor {
	return &Executor{nc: nc, name: name, tailSize: tailSize}
}

// Name implements executor.Provider.
func (e *Executor) Name() string { return e.name }

type remoteProcess struct {
	*executor.Stream
	nc  *nats.Conn
	sub *nats.Subscription
}

func (p *remoteProcess) Stop(_ context.Context) error {
	return p.nc.Publish(messagequeue.SubjectAgentStop+"."+p.ID(), nil)
}

func (p *remoteProcess) unsubscribe() {
	_ = p.sub.Unsubscribe()
}

// Launch implements executor.Provider. The worker must acknowledge the
// launch before output subscriptions are considered live.
func (e *Executor) Launch(ctx context.Context, req executor.LaunchRequest) (executor.Process, error) {
	pid := uuid.New().String()
	p := &remoteProcess{Stream: executor.NewStream(pid, e.tailSize), nc: e.nc}

	// One subscription for output and exit keeps their order.
	outputSubject := messagequeue.SubjectAgentOutput + "." + pid
	exitSubject := messagequeue.SubjectAgentExit + "." + pid
	sub, err := e.nc.Subscribe("agents.*."+pid, func(m *nats.Msg) {
		switch m.Subject {
		case outputSubject:
			var out messagequeue.AgentOutputPayload
			if err := json.Unmarshal(m.Data, &out); err != nil {
				slog.Warn("remote output decode failed", "process", pid, "error", err)
				return
			}
			p.Emit(out.Line)
		case exitSubject:
			var ex messagequeue.AgentExitPayload
			code := 1
			if err := json.Unmarshal(m.Data, &ex); err == nil {
				code = ex.ExitCode
			}
			p.unsubscribe()
			p.Finish(code)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe process %s: %w", pid, err)
	}
	p.sub = sub

	data, err := json.Marshal(messagequeue.AgentLaunchPayload{
		ProcessID:  pid,
		TaskID:     req.TaskID,
		AgentID:    req.Agent.ID,
		Provider:   req.Agent.Provider,
		Prompt:     req.Prompt,
		WorkingDir: req.WorkingDir,
		ModelHints: req.ModelHints,
		SessionID:  req.SessionID,
	})
	if err != nil {
		p.unsubscribe()
		return nil, fmt.Errorf("marshal launch: %w", err)
	}

	actx, cancel := context.WithTimeout(ctx, launchAckTimeout)
	defer cancel()
	reply, err := e.nc.RequestWithContext(actx, messagequeue.SubjectAgentLaunch+"."+e.name, data)
	if err != nil {
		p.unsubscribe()
		return nil, fmt.Errorf("launch on %s: %w", e.name, err)
	}
	var ack messagequeue.AgentLaunchReply
	if err := json.Unmarshal(reply.Data, &ack); err != nil {
		p.unsubscribe()
		return nil, fmt.Errorf("decode launch ack: %w", err)
	}
	if !ack.Accepted {
		p.unsubscribe()
		return nil, fmt.Errorf("launch rejected by %s: %s", e.name, ack.Error)
	}
	return p, nil
}

// RunOneShot implements executor.Provider.
func (e *Executor) RunOneShot(ctx context.Context, req executor.OneShotRequest) (*executor.OneShotResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	data, err := json.Marshal(messagequeue.AgentOneShotPayload{
		AgentID:    req.Agent.ID,
		Provider:   req.Agent.Provider,
		Prompt:     req.Prompt,
		WorkingDir: req.WorkingDir,
		TimeoutMs:  req.Timeout.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal oneshot: %w", err)
	}

	msg, err := e.nc.RequestWithContext(ctx, messagequeue.SubjectAgentOneShot+"."+e.name, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return nil, executor.ErrTimeout
		}
		return nil, fmt.Errorf("oneshot on %s: %w", e.name, err)
	}

	var reply messagequeue.AgentOneShotReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decode oneshot reply: %w", err)
	}
	if reply.Error != "" || reply.ExitCode != 0 {
		return nil, fmt.Errorf("oneshot exit %d: %s", reply.ExitCode, reply.Error)
	}
	return &executor.OneShotResult{Text: reply.Text}, nil
}
