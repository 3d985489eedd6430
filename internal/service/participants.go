package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ccivlcid/agentoffice-sub001/internal/config"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/agent"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/department"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/cache"
)

const rosterKey = "roster:v1"

// rosterStore is the datastore surface participant resolution reads.
type rosterStore interface {
	ListAgents(ctx context.Context) ([]agent.Agent, error)
	ListDepartments(ctx context.Context) ([]department.Department, error)
	ListSubtasks(ctx context.Context, taskID string) ([]task.Subtask, error)
}

type roster struct {
	Agents      []agent.Agent           `json:"agents"`
	Departments []department.Department `json:"departments"`
}

// ParticipantResolver picks the department leaders that sit in a task's meetings.
type ParticipantResolver struct {
	store rosterStore
	cache cache.Cache
	ttl   time.Duration
	group singleflight.Group
}

// NewParticipantResolver creates a resolver. c may be nil to disable caching.
func NewParticipantResolver(store rosterStore, c cache.Cache, ttl time.Duration) *ParticipantResolver {
	return &ParticipantResolver{store: store, cache: c, ttl: ttl}
}

// Invalidate drops the cached roster.
func (p *ParticipantResolver) Invalidate(ctx context.Context) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Delete(ctx, rosterKey); err != nil {
		slog.Warn("roster cache invalidate failed", "error", err)
	}
}

func (p *ParticipantResolver) roster(ctx context.Context) (*roster, error) {
	if p.cache != nil {
		var r roster
		ok, err := cache.GetJSON(ctx, p.cache, rosterKey, &r)
		if err != nil {
			slog.Warn("roster cache read failed", "error", err)
		}
		if ok {
			return &r, nil
		}
	}

	v, err, _ := p.group.Do(rosterKey, func() (any, error) {
		agents, err := p.store.ListAgents(ctx)
		if err != nil {
			return nil, fmt.Errorf("list agents: %w", err)
		}
		depts, err := p.store.ListDepartments(ctx)
		if err != nil {
			return nil, fmt.Errorf("list departments: %w", err)
		}
		r := &roster{Agents: agents, Departments: depts}
		if p.cache != nil {
			if err := cache.SetJSON(ctx, p.cache, rosterKey, r, p.ttl); err != nil {
				slog.Warn("roster cache write failed", "error", err)
			}
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*roster), nil
}

// Resolve returns the meeting participants for t, chair first. Departments are
// related by assignment, subtask routing and keyword detection; the
// coordinating department's leader always chairs. Too few matches fall back to
// every active leader.
func (p *ParticipantResolver) Resolve(ctx context.Context, t *task.Task, policy config.Review) ([]agent.Agent, error) {
	r, err := p.roster(ctx)
	if err != nil {
		return nil, err
	}

	leaders := map[string]agent.Agent{}
	var allLeaders []agent.Agent
	for i := range r.Agents {
		a := r.Agents[i]
		if !a.IsLeader() || !a.Active() {
			continue
		}
		if _, dup := leaders[a.DepartmentID]; !dup {
			leaders[a.DepartmentID] = a
			allLeaders = append(allLeaders, a)
		}
	}

	deptIDs := []string{policy.CoordinatorDepartment, t.DepartmentID}
	subs, err := p.store.ListSubtasks(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks %s: %w", t.ID, err)
	}
	for i := range subs {
		deptIDs = append(deptIDs, subs[i].TargetDepartmentID)
	}
	deptIDs = append(deptIDs, department.Detect(r.Departments, t.Title+"\n"+t.Description)...)

	var out []agent.Agent
	seen := map[string]bool{}
	add := func(a agent.Agent) {
		if seen[a.ID] {
			return
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	for _, id := range deptIDs {
		if a, ok := leaders[id]; ok && id != "" {
			add(a)
		}
	}

	if len(out) < policy.MinParticipants {
		if chair, ok := leaders[policy.CoordinatorDepartment]; ok {
			add(chair)
		}
		for _, a := range orderByDepartment(allLeaders, r.Departments) {
			add(a)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no active leaders available for task %s", t.ID)
	}
	if policy.MaxParticipants > 0 && len(out) > policy.MaxParticipants {
		out = out[:policy.MaxParticipants]
	}
	return out, nil
}

func orderByDepartment(agents []agent.Agent, depts []department.Department) []agent.Agent {
	order := make(map[string]int, len(depts))
	for _, d := range depts {
		order[d.ID] = d.Order
	}
	out := make([]agent.Agent, len(agents))
	copy(out, agents)
	sort.SliceStable(out, func(i, j int) bool {
		return order[out[i].DepartmentID] < order[out[j].DepartmentID]
	})
	return out
}

// leaderOf returns the active leader of departmentID from the cached roster.
func (p *ParticipantResolver) leaderOf(ctx context.Context, departmentID string) (*agent.Agent, error) {
	r, err := p.roster(ctx)
	if err != nil {
		return nil, err
	}
	for i := range r.Agents {
		a := r.Agents[i]
		if a.DepartmentID == departmentID && a.IsLeader() && a.Active() {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("department %q has no active leader", departmentID)
}

// worker returns an available member of departmentID, preferring non-leaders
// and falling back to the leader.
func (p *ParticipantResolver) worker(ctx context.Context, departmentID string) (*agent.Agent, error) {
	r, err := p.roster(ctx)
	if err != nil {
		return nil, err
	}
	var leader *agent.Agent
	for i := range r.Agents {
		a := r.Agents[i]
		if a.DepartmentID != departmentID || !a.Active() {
			continue
		}
		if a.IsLeader() {
			if leader == nil {
				leader = &a
			}
			continue
		}
		if a.Available() {
			return &a, nil
		}
	}
	if leader != nil {
		return leader, nil
	}
	return nil, fmt.Errorf("department %q has no active agents", departmentID)
}
