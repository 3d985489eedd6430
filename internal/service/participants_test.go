package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ccivlcid/agentoffice-sub001/internal/adapter/i18n"
	"github.com/ccivlcid/agentoffice-sub001/internal/config"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/agent"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/department"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/executor"
)

// countingCache is an in-memory cache.Cache that counts misses.
type countingCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	misses int
}

func (c *countingCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		c.misses++
	}
	return v, ok, nil
}

func (c *countingCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *countingCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func rosterFixture() *memStore {
	s := newMemStore()
	s.depts = []department.Department{
		{ID: "planning", Name: "Planning", Order: 1},
		{ID: "engineering", Name: "Engineering", Keywords: []string{"api"}, Order: 2},
		{ID: "design", Name: "Design", Keywords: []string{"ui", "layout"}, Order: 3},
		{ID: "qa", Name: "QA", Keywords: []string{"regression"}, Order: 4},
	}
	s.addAgent(agent.Agent{ID: "plan-lead", Name: "Pat", DepartmentID: "planning", Role: agent.RoleLead})
	s.addAgent(agent.Agent{ID: "eng-lead", Name: "Eli", DepartmentID: "engineering", Role: agent.RoleLead})
	s.addAgent(agent.Agent{ID: "eng-dev", Name: "Dana", DepartmentID: "engineering", Role: agent.RoleSenior})
	s.addAgent(agent.Agent{ID: "design-lead", Name: "Dee", DepartmentID: "design", Role: agent.RoleLead})
	s.addAgent(agent.Agent{ID: "qa-lead", Name: "Quinn", DepartmentID: "qa", Role: agent.RoleLead})
	return s
}

func ids(agents []agent.Agent) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.ID
	}
	return out
}

func TestResolve_RelatedDepartments(t *testing.T) {
	ctx := context.Background()
	s := rosterFixture()
	s.addSubtask(task.Subtask{ID: "s1", TaskID: "t1", Title: "Regression pass", Status: task.SubtaskPending, TargetDepartmentID: "qa"})
	r := NewParticipantResolver(s, nil, 0)
	policy := config.Defaults().Review
	tk := &task.Task{ID: "t1", Title: "New settings layout", DepartmentID: "engineering"}

	got, err := r.Resolve(ctx, tk, policy)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{"plan-lead", "eng-lead", "qa-lead", "design-lead"}
	if g := ids(got); !equalStrings(g, want) {
		t.Fatalf("participants = %v, want %v", g, want)
	}
}

func TestResolve_FallsBackToAllLeaders(t *testing.T) {
	ctx := context.Background()
	s := rosterFixture()
	r := NewParticipantResolver(s, nil, 0)
	policy := config.Defaults().Review
	policy.MinParticipants = 3
	tk := &task.Task{ID: "t2", Title: "Quarterly plan", DepartmentID: "planning"}

	got, err := r.Resolve(ctx, tk, policy)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []string{"plan-lead", "eng-lead", "design-lead", "qa-lead"}
	if g := ids(got); !equalStrings(g, want) {
		t.Fatalf("participants = %v, want %v", g, want)
	}
}

func TestResolve_CapsParticipants(t *testing.T) {
	s := rosterFixture()
	r := NewParticipantResolver(s, nil, 0)
	policy := config.Defaults().Review
	policy.MinParticipants = 4
	policy.MaxParticipants = 2

	got, err := r.Resolve(context.Background(), &task.Task{ID: "t3", Title: "x", DepartmentID: "qa"}, policy)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if g := ids(got); !equalStrings(g, []string{"plan-lead", "qa-lead"}) {
		t.Fatalf("participants = %v", g)
	}
}

func TestResolve_SkipsOfflineLeaders(t *testing.T) {
	s := rosterFixture()
	s.addAgent(agent.Agent{ID: "plan-lead", Name: "Pat", DepartmentID: "planning", Role: agent.RoleLead, Status: agent.StatusOffline})
	r := NewParticipantResolver(s, nil, 0)

	got, err := r.Resolve(context.Background(), &task.Task{ID: "t4", Title: "x", DepartmentID: "engineering"}, config.Defaults().Review)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for _, a := range got {
		if a.ID == "plan-lead" {
			t.Fatal("offline leader must not be seated")
		}
	}
	if got[0].ID != "eng-lead" {
		t.Fatalf("expected eng-lead first, got %v", ids(got))
	}
}

func TestWorker_PrefersAvailableMembers(t *testing.T) {
	ctx := context.Background()
	s := rosterFixture()
	r := NewParticipantResolver(s, nil, 0)

	a, err := r.worker(ctx, "engineering")
	if err != nil || a.ID != "eng-dev" {
		t.Fatalf("worker = %v, %v; want eng-dev", a, err)
	}

	_ = s.UpdateAgentStatus(ctx, "eng-dev", agent.StatusWorking, "busy")
	a, err = r.worker(ctx, "engineering")
	if err != nil || a.ID != "eng-lead" {
		t.Fatalf("busy members should fall back to the leader, got %v, %v", a, err)
	}

	if _, err := r.worker(ctx, "legal"); err == nil {
		t.Fatal("expected error for a department without agents")
	}
}

func TestResolver_CachesRoster(t *testing.T) {
	ctx := context.Background()
	s := rosterFixture()
	c := &countingCache{data: map[string][]byte{}}
	r := NewParticipantResolver(s, c, time.Minute)

	if _, err := r.leaderOf(ctx, "design"); err != nil {
		t.Fatalf("leaderOf: %v", err)
	}
	s.addAgent(agent.Agent{ID: "design-lead", Name: "Dee", DepartmentID: "design", Role: agent.RoleLead, Status: agent.StatusOffline})
	if _, err := r.leaderOf(ctx, "design"); err != nil {
		t.Fatal("cached roster should still list the leader")
	}

	r.Invalidate(ctx)
	if _, err := r.leaderOf(ctx, "design"); err == nil {
		t.Fatal("invalidated roster should see the leader offline")
	}
	if c.misses != 2 {
		t.Fatalf("expected 2 cache misses, got %d", c.misses)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestParticipants_AgentStatusChangeRefreshesRoster(t *testing.T) {
	ctx := context.Background()
	s := rosterFixture()
	c := &countingCache{data: map[string][]byte{}}
	o := NewOrchestrator(Options{
		Store:     s,
		Events:    &recordingBroadcaster{},
		Executors: executor.NewRegistry(),
		VCS:       &fakeVCS{},
		Localizer: i18n.MustLoad(),
		Policy:    config.NewReviewPolicy(config.Defaults().Review),
		Git:       config.Defaults().Git,
		Runtime:   config.Runtime{OutputTailBytes: 4000, RecentMessages: 5},
		Breaker:   config.Breaker{MaxFailures: 100, Timeout: time.Second},
		Cache:     c,
		RosterTTL: time.Minute,
	})
	t.Cleanup(o.Close)

	w, err := o.participants.worker(ctx, "engineering")
	if err != nil || w.ID != "eng-dev" {
		t.Fatalf("expected eng-dev, got %v (%v)", w, err)
	}
	o.setAgentStatus(ctx, "eng-dev", agent.StatusWorking, "t1")

	w, err = o.participants.worker(ctx, "engineering")
	if err != nil || w.ID != "eng-lead" {
		t.Fatalf("a working agent must not be picked from a stale roster, got %v (%v)", w, err)
	}
	if c.misses != 2 {
		t.Fatalf("expected the status change to drop the cached roster, got %d misses", c.misses)
	}
}
