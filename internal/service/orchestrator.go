package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	aootel "github.com/ccivlcid/agentoffice-sub001/internal/adapter/otel"
	"github.com/ccivlcid/agentoffice-sub001/internal/adapter/ws"
	"github.com/ccivlcid/agentoffice-sub001/internal/config"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/agent"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/message"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/review"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
	"github.com/ccivlcid/agentoffice-sub001/internal/logger"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/broadcast"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/cache"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/database"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/executor"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/localizer"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/notifier"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/vcs"
	"github.com/ccivlcid/agentoffice-sub001/internal/resilience"
)

// Options carries the collaborators of an Orchestrator.
type Options struct {
	Store         database.Store
	Events        broadcast.Broadcaster
	Executors     *executor.Registry
	VCS           vcs.Helper // nil disables worktrees
	Localizer     localizer.Localizer
	Notifications *NotificationService
	Cache         cache.Cache // roster cache, may be nil
	Metrics       *aootel.Metrics
	Policy        *config.ReviewPolicy
	Classifier    review.Classifier // defaults to review.HeuristicClassifier
	Git           config.Git
	Runtime       config.Runtime
	Breaker       config.Breaker
	RosterTTL     time.Duration
}

// Orchestrator drives tasks through launch, review, finalization and
// delegation. Every active task runs as its own workflow goroutine; the
// registry serializes their shared bookkeeping.
type Orchestrator struct {
	store        database.Store
	events       broadcast.Broadcaster
	executors    *executor.Registry
	loc          localizer.Localizer
	notifier     *NotificationService
	metrics      *aootel.Metrics
	policy       *config.ReviewPolicy
	runtime      config.Runtime
	classifier   review.Classifier
	reg          *Registry
	meetings     *MeetingService
	participants *ParticipantResolver
	worktrees    *WorktreeService

	base   context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
	now    func() time.Time
}

// NewOrchestrator wires an Orchestrator and its sub-protocols.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Classifier == nil {
		opts.Classifier = review.HeuristicClassifier{}
	}
	if opts.Policy == nil {
		opts.Policy = config.NewReviewPolicy(config.Defaults().Review)
	}
	if opts.Events == nil {
		opts.Events = broadcast.Fanout(nil)
	}
	base, cancel := context.WithCancel(context.Background())
	reg := NewRegistry()
	o := &Orchestrator{
		store:      opts.Store,
		events:     opts.Events,
		executors:  opts.Executors,
		loc:        opts.Localizer,
		notifier:   opts.Notifications,
		metrics:    opts.Metrics,
		policy:     opts.Policy,
		runtime:    opts.Runtime,
		classifier: opts.Classifier,
		reg:        reg,
		base:       base,
		cancel:     cancel,
		now:        time.Now,
	}
	sp := &providerSpeaker{
		executors: opts.Executors,
		breakers:  resilience.NewGroup(opts.Breaker.MaxFailures, opts.Breaker.Timeout),
		policy:    opts.Policy,
	}
	o.meetings = NewMeetingService(opts.Store, opts.Events, reg, sp, opts.Localizer, opts.Classifier, opts.Metrics)
	o.participants = NewParticipantResolver(opts.Store, opts.Cache, opts.RosterTTL)
	o.worktrees = NewWorktreeService(opts.VCS, opts.Store, opts.Git)
	return o
}

// Registry exposes the workflow bookkeeping for inspection.
func (o *Orchestrator) Registry() *Registry { return o.reg }

// Wait blocks until every running workflow goroutine has returned.
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Close cancels all workflows and waits for them to unwind.
func (o *Orchestrator) Close() {
	o.cancel()
	o.reg.Close()
	o.wg.Wait()
}

// spawn runs fn as a tracked workflow goroutine. Panics are logged against
// the task instead of crashing the process.
func (o *Orchestrator) spawn(name, taskID string, fn func()) {
	o.wg.Go(func() {
		if r := panics.Try(fn); r != nil {
			slog.Error("workflow panicked",
				"workflow", name,
				"task_id", taskID,
				"panic", r.Value,
				"stack", string(r.Stack),
			)
		}
	})
}

// newWorkflow returns a context for a task workflow that keeps the caller's
// values, outlives the caller's request, and is cancelled by StopTask or Close.
func (o *Orchestrator) newWorkflow(ctx context.Context, taskID string) context.Context {
	wctx, cancel := context.WithCancel(logger.WithTaskID(context.WithoutCancel(ctx), taskID))
	stop := context.AfterFunc(o.base, cancel)
	o.reg.SetWorkflow(taskID, func() {
		stop()
		cancel()
	})
	return wctx
}

func (o *Orchestrator) locale() string {
	return o.policy.Load().Locale
}

func (o *Orchestrator) t(key string, args ...any) string {
	if o.loc == nil {
		return key
	}
	return o.loc.T(o.locale(), key, args...)
}

// setStatus validates and persists a task transition.
func (o *Orchestrator) setStatus(ctx context.Context, t *task.Task, to task.Status) error {
	if err := task.ValidateTransition(t.Status, to); err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}
	if err := o.store.UpdateTaskStatus(ctx, t.ID, to); err != nil {
		return fmt.Errorf("update task %s status: %w", t.ID, err)
	}
	slog.Info("task status changed", "task_id", t.ID, "from", t.Status, "to", to)
	t.Status = to
	o.broadcastTask(ctx, t)
	return nil
}

func (o *Orchestrator) broadcastTask(ctx context.Context, t *task.Task) {
	o.events.BroadcastEvent(ctx, ws.EventTaskUpdate, ws.TaskUpdateEvent{
		TaskID:       t.ID,
		Status:       string(t.Status),
		AgentID:      t.AgentID,
		DepartmentID: t.DepartmentID,
		SourceTaskID: t.SourceTaskID,
	})
}

func (o *Orchestrator) broadcastSubtask(ctx context.Context, s *task.Subtask) {
	o.events.BroadcastEvent(ctx, ws.EventSubtaskUpdate, ws.SubtaskUpdateEvent{
		SubtaskID:       s.ID,
		TaskID:          s.TaskID,
		Status:          string(s.Status),
		DelegatedTaskID: s.DelegatedTaskID,
		BlockedReason:   s.BlockedReason,
	})
}

func (o *Orchestrator) setAgentStatus(ctx context.Context, agentID string, status agent.Status, taskID string) {
	if agentID == "" {
		return
	}
	if err := o.store.UpdateAgentStatus(ctx, agentID, status, taskID); err != nil {
		slog.Warn("update agent status failed", "agent_id", agentID, "status", status, "error", err)
		return
	}
	o.participants.Invalidate(ctx)
	o.events.BroadcastEvent(ctx, ws.EventAgentStatus, ws.AgentStatusEvent{
		AgentID: agentID,
		Status:  string(status),
		TaskID:  taskID,
	})
}

// releaseAgent returns the task's agent to idle if it is still working on it.
func (o *Orchestrator) releaseAgent(ctx context.Context, t *task.Task) {
	if t.AgentID == "" {
		return
	}
	a, err := o.store.GetAgent(ctx, t.AgentID)
	if err != nil {
		slog.Warn("get agent failed", "agent_id", t.AgentID, "error", err)
		return
	}
	if a.CurrentTaskID != "" && a.CurrentTaskID != t.ID {
		return
	}
	o.setAgentStatus(ctx, a.ID, agent.StatusIdle, "")
}

// postMessage records a task message and pushes it to observers.
func (o *Orchestrator) postMessage(ctx context.Context, taskID string, sender *agent.Agent, kind message.Kind, text string) {
	m := &message.Message{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		SenderName: "system",
		Kind:       kind,
		Content:    text,
		CreatedAt:  o.now(),
	}
	if sender != nil {
		m.SenderID = sender.ID
		m.SenderName = sender.Name
	}
	if err := o.store.CreateMessage(ctx, m); err != nil {
		slog.Warn("create message failed", "task_id", taskID, "kind", kind, "error", err)
	}
	o.events.BroadcastEvent(ctx, ws.EventMessage, ws.MessageEvent{
		ID:       m.ID,
		TaskID:   taskID,
		SenderID: m.SenderID,
		Kind:     string(kind),
		Text:     text,
	})
}

func (o *Orchestrator) notify(ctx context.Context, ev notifier.Event, level notifier.Level, t *task.Task, msg string, items []string) {
	o.notifier.Notify(ctx, notifier.Notification{
		Event:   ev,
		TaskID:  t.ID,
		Title:   t.Title,
		Message: msg,
		Level:   level,
		Items:   items,
	})
}

func (o *Orchestrator) appendMemo(ctx context.Context, t *task.Task, header string, lines []string) {
	memo := task.FormatMemo(header, o.now(), lines)
	if err := o.store.AppendTaskMemo(ctx, t.ID, memo); err != nil {
		slog.Warn("append task memo failed", "task_id", t.ID, "header", header, "error", err)
		return
	}
	t.Description += memo
}

// providerSpeaker turns meeting turns into one-shot calls on the agent's
// execution provider, isolated per provider by a circuit breaker.
type providerSpeaker struct {
	executors *executor.Registry
	breakers  *resilience.Group
	policy    *config.ReviewPolicy
}

func (s *providerSpeaker) Speak(ctx context.Context, a agent.Agent, prompt, workingDir string) (string, error) {
	p, err := s.executors.Provider(a.Provider)
	if err != nil {
		return "", err
	}
	var res *executor.OneShotResult
	err = s.breakers.Execute(p.Name(), func() error {
		var err error
		res, err = p.RunOneShot(ctx, executor.OneShotRequest{
			Agent:      a,
			Prompt:     prompt,
			WorkingDir: workingDir,
			Timeout:    s.policy.Load().SpeechTimeout,
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("one-shot %s for %s: %w", p.Name(), a.ID, err)
	}
	return res.Text, nil
}
