package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain/meeting"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/session"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/executor"
)

// Callback is queued against a task and fired once when that task's
// workflow reaches a steady point.
type Callback func(ctx context.Context)

// Seat is one participant's temporary presence in a meeting.
type Seat struct {
	AgentID   string
	Seat      int
	ExpiresAt time.Time
	timer     *time.Timer
}

// Registry holds the process-local workflow bookkeeping. Every map is keyed by
// task id, except rounds and locks which use meeting.LockKey.
// It performs no I/O and is rebuilt from the datastore by Recover.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*session.Session
	progress  map[string]context.CancelFunc
	presence  map[string]map[string]*Seat
	rounds    map[string]int
	inflight  map[string]struct{}
	callbacks map[string][]Callback
	workflows map[string]context.CancelFunc
	processes map[string]executor.Process
	gate      map[string]map[string]struct{}
	now       func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:  make(map[string]*session.Session),
		progress:  make(map[string]context.CancelFunc),
		presence:  make(map[string]map[string]*Seat),
		rounds:    make(map[string]int),
		inflight:  make(map[string]struct{}),
		callbacks: make(map[string][]Callback),
		workflows: make(map[string]context.CancelFunc),
		processes: make(map[string]executor.Process),
		gate:      make(map[string]map[string]struct{}),
		now:       time.Now,
	}
}

// --- Execution sessions ---

// OpenSession returns the session binding taskID to (agentID, provider).
// A session for a different agent or provider is rotated to a fresh identity.
func (r *Registry) OpenSession(taskID, agentID, provider string) (s *session.Session, rotated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if cur, ok := r.sessions[taskID]; ok {
		if cur.Matches(agentID, provider) {
			cur.TouchedAt = now
			return cur, false
		}
		rotated = true
	}
	s = &session.Session{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		AgentID:   agentID,
		Provider:  provider,
		OpenedAt:  now,
		TouchedAt: now,
	}
	r.sessions[taskID] = s
	return s, rotated
}

// Session returns the open session for taskID, if any.
func (r *Registry) Session(taskID string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[taskID]
	return s, ok
}

// CloseSession drops the session for taskID.
func (r *Registry) CloseSession(taskID string) {
	r.mu.Lock()
	delete(r.sessions, taskID)
	r.mu.Unlock()
}

// --- Progress timers ---

// SetProgress stores the stop function of a task's progress ticker, stopping
// any previous one.
func (r *Registry) SetProgress(taskID string, stop context.CancelFunc) {
	r.mu.Lock()
	prev := r.progress[taskID]
	r.progress[taskID] = stop
	r.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// StopProgress stops and forgets the progress ticker for taskID.
func (r *Registry) StopProgress(taskID string) {
	r.mu.Lock()
	stop := r.progress[taskID]
	delete(r.progress, taskID)
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// HasProgress reports whether a progress ticker is registered for taskID.
func (r *Registry) HasProgress(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.progress[taskID]
	return ok
}

// --- Meeting presence ---

// Place seats agentID in the meeting for taskID. The seat is released
// automatically after timeout unless the meeting releases it first.
func (r *Registry) Place(taskID, agentID string, seat int, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seats := r.presence[taskID]
	if seats == nil {
		seats = make(map[string]*Seat)
		r.presence[taskID] = seats
	}
	if old, ok := seats[agentID]; ok && old.timer != nil {
		old.timer.Stop()
	}
	s := &Seat{AgentID: agentID, Seat: seat, ExpiresAt: r.now().Add(timeout)}
	if timeout > 0 {
		s.timer = time.AfterFunc(timeout, func() { r.expire(taskID, agentID, s) })
	}
	seats[agentID] = s
}

func (r *Registry) expire(taskID, agentID string, s *Seat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seats := r.presence[taskID]
	if seats[agentID] != s {
		return
	}
	delete(seats, agentID)
	if len(seats) == 0 {
		delete(r.presence, taskID)
	}
}

// Presence returns the seated participants of taskID ordered by seat.
func (r *Registry) Presence(taskID string) []Seat {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Seat, 0, len(r.presence[taskID]))
	for _, s := range r.presence[taskID] {
		out = append(out, Seat{AgentID: s.AgentID, Seat: s.Seat, ExpiresAt: s.ExpiresAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seat < out[j].Seat })
	return out
}

// ReleasePresence removes every seat for taskID and returns the released agent ids.
func (r *Registry) ReleasePresence(taskID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seats := r.presence[taskID]
	ids := make([]string, 0, len(seats))
	for id, s := range seats {
		if s.timer != nil {
			s.timer.Stop()
		}
		ids = append(ids, id)
	}
	delete(r.presence, taskID)
	sort.Strings(ids)
	return ids
}

// --- Round counters ---

// Round returns the current round for a lock key, zero when none is recorded.
func (r *Registry) Round(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rounds[key]
}

// SetRound records the current round for a lock key.
func (r *Registry) SetRound(key string, round int) {
	r.mu.Lock()
	r.rounds[key] = round
	r.mu.Unlock()
}

// NextRound increments and returns the round for a lock key.
func (r *Registry) NextRound(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds[key]++
	return r.rounds[key]
}

// ClearRound forgets the round for a lock key.
func (r *Registry) ClearRound(key string) {
	r.mu.Lock()
	delete(r.rounds, key)
	r.mu.Unlock()
}

// --- In-flight locks ---

// TryLock acquires key and reports whether it was free.
func (r *Registry) TryLock(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, held := r.inflight[key]; held {
		return false
	}
	r.inflight[key] = struct{}{}
	return true
}

// Unlock releases key. Releasing a free key is a no-op.
func (r *Registry) Unlock(key string) {
	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()
}

// Locked reports whether key is held.
func (r *Registry) Locked(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.inflight[key]
	return held
}

// --- Delegation callbacks ---

// AddCallback queues fn against taskID.
func (r *Registry) AddCallback(taskID string, fn Callback) {
	r.mu.Lock()
	r.callbacks[taskID] = append(r.callbacks[taskID], fn)
	r.mu.Unlock()
}

// HasCallback reports whether any callback is queued for taskID.
func (r *Registry) HasCallback(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callbacks[taskID]) > 0
}

// TakeCallbacks removes and returns the callbacks queued for taskID, so each
// fires at most once.
func (r *Registry) TakeCallbacks(taskID string) []Callback {
	r.mu.Lock()
	defer r.mu.Unlock()
	cbs := r.callbacks[taskID]
	delete(r.callbacks, taskID)
	return cbs
}

// --- Workflow cancellation ---

// SetWorkflow stores the cancel function of the workflow driving taskID,
// cancelling any previous one.
func (r *Registry) SetWorkflow(taskID string, cancel context.CancelFunc) {
	r.mu.Lock()
	prev := r.workflows[taskID]
	r.workflows[taskID] = cancel
	r.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// CancelWorkflow cancels and forgets the workflow for taskID.
func (r *Registry) CancelWorkflow(taskID string) {
	r.mu.Lock()
	cancel := r.workflows[taskID]
	delete(r.workflows, taskID)
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// --- Running processes ---

// SetProcess records the running agent process for taskID.
func (r *Registry) SetProcess(taskID string, p executor.Process) {
	r.mu.Lock()
	r.processes[taskID] = p
	r.mu.Unlock()
}

// Process returns the running agent process for taskID.
func (r *Registry) Process(taskID string) (executor.Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[taskID]
	return p, ok
}

// ClearProcess forgets the process for taskID if it is still p.
func (r *Registry) ClearProcess(taskID string, p executor.Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.processes[taskID]; ok && cur == p {
		delete(r.processes, taskID)
	}
}

// --- Project gate waiters ---

// AddGateWaiter parks taskID until the gate of projectID opens.
func (r *Registry) AddGateWaiter(projectID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.gate[projectID]
	if w == nil {
		w = make(map[string]struct{})
		r.gate[projectID] = w
	}
	w[taskID] = struct{}{}
}

// HasGateWaiters reports whether any task is parked on the gate of projectID.
func (r *Registry) HasGateWaiters(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.gate[projectID]) > 0
}

// TakeGateWaiters removes and returns the parked tasks of projectID in id order.
func (r *Registry) TakeGateWaiters(projectID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.gate[projectID]))
	for id := range r.gate[projectID] {
		ids = append(ids, id)
	}
	delete(r.gate, projectID)
	sort.Strings(ids)
	return ids
}

func (r *Registry) dropGateWaiter(taskID string) {
	for pid, w := range r.gate {
		delete(w, taskID)
		if len(w) == 0 {
			delete(r.gate, pid)
		}
	}
}

// ClearTask drops the derived state of a task that reached a terminal or
// externally invalidated state. Queued callbacks are kept; they are fired by
// the caller through TakeCallbacks.
func (r *Registry) ClearTask(taskID string) {
	r.mu.Lock()
	reviewKey := meeting.LockKey(meeting.KindReview, taskID)
	plannedKey := meeting.LockKey(meeting.KindPlanned, taskID)
	delete(r.rounds, reviewKey)
	delete(r.rounds, plannedKey)
	delete(r.inflight, reviewKey)
	delete(r.inflight, plannedKey)
	delete(r.sessions, taskID)
	delete(r.processes, taskID)
	r.dropGateWaiter(taskID)
	stop := r.progress[taskID]
	delete(r.progress, taskID)
	cancel := r.workflows[taskID]
	delete(r.workflows, taskID)
	r.mu.Unlock()

	r.ReleasePresence(taskID)
	if stop != nil {
		stop()
	}
	if cancel != nil {
		cancel()
	}
}

// Close cancels every workflow and ticker and releases all presence.
func (r *Registry) Close() {
	r.mu.Lock()
	var stops []context.CancelFunc
	for _, c := range r.workflows {
		stops = append(stops, c)
	}
	for _, c := range r.progress {
		stops = append(stops, c)
	}
	tasks := make([]string, 0, len(r.presence))
	for id := range r.presence {
		tasks = append(tasks, id)
	}
	r.workflows = make(map[string]context.CancelFunc)
	r.progress = make(map[string]context.CancelFunc)
	r.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	for _, id := range tasks {
		r.ReleasePresence(id)
	}
}
