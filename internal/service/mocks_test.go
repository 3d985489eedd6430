package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ccivlcid/agentoffice-sub001/internal/adapter/i18n"
	"github.com/ccivlcid/agentoffice-sub001/internal/config"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/agent"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/department"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/meeting"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/message"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/project"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/report"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/review"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/executor"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/vcs"
)

// memStore is an in-memory database.Store.
type memStore struct {
	mu       sync.Mutex
	seq      int
	tasks    map[string]*task.Task
	subtasks []task.Subtask
	agents   map[string]*agent.Agent
	depts    []department.Department
	projects map[string]*project.Project
	meetings []meeting.Record
	entries  []meeting.Entry
	notes    []review.MemoItem
	reports  map[string]*report.Report
	messages []message.Message
	outcomes map[string][]bool
	created  int // meeting records ever created
}

func newMemStore() *memStore {
	return &memStore{
		tasks:    map[string]*task.Task{},
		agents:   map[string]*agent.Agent{},
		projects: map[string]*project.Project{},
		reports:  map[string]*report.Report{},
		outcomes: map[string][]bool{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) addTask(t task.Task) *task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Kind == "" {
		t.Kind = task.KindGeneral
	}
	m.tasks[t.ID] = &t
	c := t
	return &c
}

func (m *memStore) addAgent(a agent.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.Provider == "" {
		a.Provider = "mock"
	}
	if a.Status == "" {
		a.Status = agent.StatusIdle
	}
	m.agents[a.ID] = &a
}

func (m *memStore) addSubtask(s task.Subtask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subtasks = append(m.subtasks, s)
}

func (m *memStore) task(id string) task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tasks[id]
}

func (m *memStore) subtask(id string) task.Subtask {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subtasks {
		if s.ID == id {
			return s
		}
	}
	return task.Subtask{}
}

func (m *memStore) meetingsCreated() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created
}

func (m *memStore) agentOutcomes(id string) []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.outcomes[id]...)
}

func (m *memStore) noteCount(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.notes {
		if it.TaskID == taskID {
			n++
		}
	}
	return n
}

func (m *memStore) meetingsFor(taskID string) []meeting.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []meeting.Record
	for _, r := range m.meetings {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out
}

// --- TaskStore ---

func (m *memStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("get task %s: %w", id, domain.ErrNotFound)
	}
	c := *t
	return &c, nil
}

func (m *memStore) listTasks(keep func(*task.Task) bool) []task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if keep(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) ListTasksBySource(_ context.Context, sourceTaskID string) ([]task.Task, error) {
	return m.listTasks(func(t *task.Task) bool { return t.SourceTaskID == sourceTaskID }), nil
}

func (m *memStore) ListTasksByProject(_ context.Context, projectID string) ([]task.Task, error) {
	return m.listTasks(func(t *task.Task) bool { return t.ProjectID == projectID }), nil
}

func (m *memStore) ListTasksByStatus(_ context.Context, statuses ...task.Status) ([]task.Task, error) {
	return m.listTasks(func(t *task.Task) bool {
		for _, s := range statuses {
			if t.Status == s {
				return true
			}
		}
		return false
	}), nil
}

func (m *memStore) CreateTask(_ context.Context, req task.CreateRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &task.Task{
		ID:           m.nextID("task"),
		Title:        req.Title,
		Description:  req.Description,
		Kind:         req.Kind,
		Status:       req.Status,
		DepartmentID: req.DepartmentID,
		SourceTaskID: req.SourceTaskID,
		ProjectID:    req.ProjectID,
		BaseBranch:   req.BaseBranch,
		CreatedAt:    time.Now(),
	}
	if t.Status == "" {
		t.Status = task.StatusInbox
	}
	if t.Kind == "" {
		t.Kind = task.KindGeneral
	}
	m.tasks[t.ID] = t
	c := *t
	return &c, nil
}

func (m *memStore) mutateTask(id string, fn func(*task.Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	fn(t)
	return nil
}

func (m *memStore) UpdateTaskStatus(_ context.Context, id string, status task.Status) error {
	return m.mutateTask(id, func(t *task.Task) { t.Status = status })
}

func (m *memStore) AssignTask(_ context.Context, id, agentID string) error {
	return m.mutateTask(id, func(t *task.Task) { t.AgentID = agentID })
}

func (m *memStore) UpdateTaskResult(_ context.Context, id, result string) error {
	return m.mutateTask(id, func(t *task.Task) { t.Result = result })
}

func (m *memStore) AppendTaskMemo(_ context.Context, id, memo string) error {
	return m.mutateTask(id, func(t *task.Task) { t.Description += memo })
}

func (m *memStore) IncrementRemediationCount(_ context.Context, id string) (int, error) {
	n := 0
	err := m.mutateTask(id, func(t *task.Task) {
		t.RemediationCount++
		n = t.RemediationCount
	})
	return n, err
}

func (m *memStore) SetTaskWorktree(_ context.Context, id, path, branch string) error {
	return m.mutateTask(id, func(t *task.Task) { t.WorktreePath, t.WorktreeBranch = path, branch })
}

func (m *memStore) MarkCheckpointDone(_ context.Context, id string) error {
	return m.mutateTask(id, func(t *task.Task) { t.CheckpointDone = true })
}

// --- SubtaskStore ---

func (m *memStore) ListSubtasks(_ context.Context, taskID string) ([]task.Subtask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Subtask
	for _, s := range m.subtasks {
		if s.TaskID == taskID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) ListSubtasksByDelegate(_ context.Context, delegatedTaskID string) ([]task.Subtask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Subtask
	for _, s := range m.subtasks {
		if s.DelegatedTaskID == delegatedTaskID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) CreateSubtask(_ context.Context, s *task.Subtask) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subtasks = append(m.subtasks, *s)
	return nil
}

func (m *memStore) UpdateSubtask(_ context.Context, s *task.Subtask) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.subtasks {
		if m.subtasks[i].ID == s.ID {
			m.subtasks[i] = *s
			return nil
		}
	}
	return fmt.Errorf("subtask %s: %w", s.ID, domain.ErrNotFound)
}

// --- AgentStore, DepartmentStore, ProjectStore ---

func (m *memStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("get agent %s: %w", id, domain.ErrNotFound)
	}
	c := *a
	return &c, nil
}

func (m *memStore) ListAgents(_ context.Context) ([]agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]agent.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateAgentStatus(_ context.Context, id string, status agent.Status, currentTaskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status, a.CurrentTaskID = status, currentTaskID
	return nil
}

func (m *memStore) RecordAgentOutcome(_ context.Context, id string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[id] = append(m.outcomes[id], success)
	return nil
}

func (m *memStore) ListDepartments(_ context.Context) ([]department.Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]department.Department(nil), m.depts...), nil
}

func (m *memStore) GetProject(_ context.Context, id string) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, fmt.Errorf("get project %s: %w", id, domain.ErrNotFound)
	}
	c := *p
	return &c, nil
}

// --- MeetingStore ---

func (m *memStore) CreateMeeting(_ context.Context, r *meeting.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meetings = append(m.meetings, *r)
	m.created++
	return nil
}

func (m *memStore) findMeeting(taskID string, kind meeting.Kind, keep func(meeting.Record) bool) (*meeting.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.meetings) - 1; i >= 0; i-- {
		r := m.meetings[i]
		if r.TaskID == taskID && r.Kind == kind && keep(r) {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("meeting for %s: %w", taskID, domain.ErrNotFound)
}

func (m *memStore) GetOpenMeeting(_ context.Context, taskID string, kind meeting.Kind) (*meeting.Record, error) {
	return m.findMeeting(taskID, kind, func(r meeting.Record) bool { return r.Status == meeting.StatusInProgress })
}

func (m *memStore) LatestMeeting(_ context.Context, taskID string, kind meeting.Kind) (*meeting.Record, error) {
	return m.findMeeting(taskID, kind, func(meeting.Record) bool { return true })
}

func (m *memStore) ListMeetings(_ context.Context, taskID string) ([]meeting.Record, error) {
	return m.meetingsFor(taskID), nil
}

func (m *memStore) ListMeetingsByStatus(_ context.Context, status meeting.Status) ([]meeting.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []meeting.Record
	for _, r := range m.meetings {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) AppendMeetingEntry(_ context.Context, e *meeting.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memStore) ListMeetingEntries(_ context.Context, meetingID string) ([]meeting.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []meeting.Entry
	for _, e := range m.entries {
		if e.MeetingID == meetingID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) UpdateMeetingStatus(_ context.Context, id string, status meeting.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.meetings {
		if m.meetings[i].ID == id {
			m.meetings[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("meeting %s: %w", id, domain.ErrNotFound)
}

func (m *memStore) DeleteTaskMeetings(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.meetings[:0]
	for _, r := range m.meetings {
		if r.TaskID != taskID {
			kept = append(kept, r)
		}
	}
	m.meetings = kept
	return nil
}

// --- RevisionStore ---

func (m *memStore) InsertRevisionNote(_ context.Context, item *review.MemoItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notes {
		if n.TaskID == item.TaskID && n.Normalized == item.Normalized {
			return domain.ErrDuplicate
		}
	}
	m.notes = append(m.notes, *item)
	return nil
}

func (m *memStore) ListRevisionNotes(_ context.Context, taskID string) ([]review.MemoItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []review.MemoItem
	for _, n := range m.notes {
		if n.TaskID == taskID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memStore) DeleteRevisionNotes(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.notes[:0]
	for _, n := range m.notes {
		if n.TaskID != taskID {
			kept = append(kept, n)
		}
	}
	m.notes = kept
	return nil
}

// --- ReportStore, MessageStore ---

func (m *memStore) UpsertReport(_ context.Context, r *report.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *r
	m.reports[r.RootTaskID] = &c
	return nil
}

func (m *memStore) GetReport(_ context.Context, rootTaskID string) (*report.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[rootTaskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *memStore) CreateMessage(_ context.Context, msg *message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *memStore) ListRecentMessages(_ context.Context, taskID string, limit int) ([]message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []message.Message
	for _, msg := range m.messages {
		if msg.TaskID == taskID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// mockProcess is a launched agent whose lifetime the test controls.
type mockProcess struct {
	id      string
	out     chan string
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	code    int
	tail    string
	stopped bool
}

func newMockProcess(id string) *mockProcess {
	return &mockProcess{id: id, out: make(chan string, 16), done: make(chan struct{})}
}

func (p *mockProcess) ID() string            { return p.id }
func (p *mockProcess) Output() <-chan string { return p.out }
func (p *mockProcess) Done() <-chan struct{} { return p.done }
func (p *mockProcess) ExitCode() int         { p.mu.Lock(); defer p.mu.Unlock(); return p.code }
func (p *mockProcess) Tail(int) string       { p.mu.Lock(); defer p.mu.Unlock(); return p.tail }

func (p *mockProcess) Stop(context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.exit(130, "")
	return nil
}

// exit finishes the process with code and output tail.
func (p *mockProcess) exit(code int, tail string) {
	p.once.Do(func() {
		p.mu.Lock()
		p.code = code
		if tail != "" {
			p.tail = tail
		}
		p.mu.Unlock()
		close(p.out)
		close(p.done)
	})
}

// mockProvider scripts one-shot replies per agent and hands out processes.
type mockProvider struct {
	mu       sync.Mutex
	replies  func(a agent.Agent, prompt string) string
	launches []executor.LaunchRequest
	procs    []*mockProcess
	launched chan *mockProcess
}

func newMockProvider(replies func(a agent.Agent, prompt string) string) *mockProvider {
	return &mockProvider{replies: replies, launched: make(chan *mockProcess, 16)}
}

func (p *mockProvider) Name() string { return "mock" }

func (p *mockProvider) Launch(_ context.Context, req executor.LaunchRequest) (executor.Process, error) {
	p.mu.Lock()
	proc := newMockProcess(fmt.Sprintf("proc-%d", len(p.procs)+1))
	p.launches = append(p.launches, req)
	p.procs = append(p.procs, proc)
	p.mu.Unlock()
	p.launched <- proc
	return proc, nil
}

func (p *mockProvider) RunOneShot(_ context.Context, req executor.OneShotRequest) (*executor.OneShotResult, error) {
	if p.replies == nil {
		return &executor.OneShotResult{Text: "Approve."}, nil
	}
	return &executor.OneShotResult{Text: p.replies(req.Agent, req.Prompt)}, nil
}

func (p *mockProvider) launchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.launches)
}

// waitLaunch returns the next launched process or fails the test.
func (p *mockProvider) waitLaunch(t *testing.T) *mockProcess {
	t.Helper()
	select {
	case proc := <-p.launched:
		return proc
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for launch")
		return nil
	}
}

// recordingBroadcaster keeps every event.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) BroadcastEvent(_ context.Context, eventType string, _ any) {
	b.mu.Lock()
	b.events = append(b.events, eventType)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// fakeVCS records merges and can report conflicts.
type fakeVCS struct {
	mu        sync.Mutex
	conflicts []string
	merged    []string
	cleaned   []string
}

func (f *fakeVCS) IsRepository(context.Context, string) bool { return true }

func (f *fakeVCS) Create(_ context.Context, repoPath, path, branch, baseBranch string) (*vcs.Workspace, error) {
	return &vcs.Workspace{RepoPath: repoPath, Path: path, Branch: branch, BaseBranch: baseBranch}, nil
}

func (f *fakeVCS) Diff(context.Context, vcs.Workspace) (string, error) { return "", nil }

func (f *fakeVCS) Merge(_ context.Context, ws vcs.Workspace, opts vcs.MergeOptions) (*vcs.MergeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conflicts) > 0 {
		return &vcs.MergeResult{Conflicts: append([]string(nil), f.conflicts...)}, nil
	}
	f.merged = append(f.merged, ws.Branch)
	return &vcs.MergeResult{Merged: true, CommitSHA: "abc123"}, nil
}

func (f *fakeVCS) Cleanup(_ context.Context, ws vcs.Workspace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = append(f.cleaned, ws.Path)
	return nil
}

type testEnv struct {
	store    *memStore
	provider *mockProvider
	events   *recordingBroadcaster
	vcs      *fakeVCS
	orch     *Orchestrator
}

type envOption func(*config.Review, *config.Runtime)

// newTestEnv wires an orchestrator over in-memory fakes with a planning lead
// and an engineering lead and worker.
func newTestEnv(t *testing.T, replies func(a agent.Agent, prompt string) string, opts ...envOption) *testEnv {
	t.Helper()
	store := newMemStore()
	store.depts = []department.Department{
		{ID: "planning", Name: "Planning", Order: 1},
		{ID: "engineering", Name: "Engineering", Keywords: []string{"api"}, Order: 2},
		{ID: "design", Name: "Design", Keywords: []string{"ui"}, Order: 3},
	}
	store.addAgent(agent.Agent{ID: "plan-lead", Name: "Pat", DepartmentID: "planning", Role: agent.RoleLead})
	store.addAgent(agent.Agent{ID: "eng-lead", Name: "Eli", DepartmentID: "engineering", Role: agent.RoleLead})
	store.addAgent(agent.Agent{ID: "eng-dev", Name: "Dana", DepartmentID: "engineering", Role: agent.RoleSenior})

	policy := config.Defaults().Review
	policy.TurnDelay = 0
	policy.MinParticipants = 1
	policy.PresenceTimeout = time.Minute
	runtime := config.Runtime{OutputTailBytes: 4000, RecentMessages: 5}
	for _, o := range opts {
		o(&policy, &runtime)
	}

	provider := newMockProvider(replies)
	executors := executor.NewRegistry()
	executors.Register("mock", provider)
	executors.SetFallback("mock")

	events := &recordingBroadcaster{}
	fv := &fakeVCS{}
	orch := NewOrchestrator(Options{
		Store:     store,
		Events:    events,
		Executors: executors,
		VCS:       fv,
		Localizer: i18n.MustLoad(),
		Policy:    config.NewReviewPolicy(policy),
		Git:       config.Defaults().Git,
		Runtime:   runtime,
		Breaker:   config.Breaker{MaxFailures: 100, Timeout: time.Second},
	})
	t.Cleanup(func() {
		provider.mu.Lock()
		procs := append([]*mockProcess(nil), provider.procs...)
		provider.mu.Unlock()
		for _, p := range procs {
			p.exit(137, "")
		}
		orch.Close()
	})
	return &testEnv{store: store, provider: provider, events: events, vcs: fv, orch: orch}
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hasMemo(t task.Task, header string) bool {
	return strings.Contains(t.Description, "["+header+" |")
}
