package service

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain/project"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/vcs"
)

func TestFinalize_MergeConflictStaysInReview(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.store.projects["p1"] = &project.Project{ID: "p1", Path: "/repo", DefaultBranch: "main"}
	env.vcs.conflicts = []string{"b.go", "a.go", "b.go"}
	tk := reviewTask("m1", "Add login form")
	tk.ProjectID = "p1"
	tk.WorktreePath = "/repo/.agentoffice/worktrees/m1"
	tk.WorktreeBranch = "agentoffice/task-m1"
	env.store.addTask(tk)

	err := env.orch.finalize(ctx, "m1", finalizeOptions{})
	var conflict *MergeConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected MergeConflictError, got %v", err)
	}
	if !errors.Is(err, vcs.ErrMergeConflict) {
		t.Fatal("MergeConflictError should unwrap to vcs.ErrMergeConflict")
	}
	if want := []string{"a.go", "b.go"}; !reflect.DeepEqual(conflict.Files, want) {
		t.Fatalf("expected files %v, got %v", want, conflict.Files)
	}
	if conflict.Target != "main" {
		t.Fatalf("expected target main, got %s", conflict.Target)
	}

	got := env.store.task("m1")
	if got.Status != task.StatusReview {
		t.Fatalf("expected review after conflict, got %s", got.Status)
	}
	if !got.HasWorktree() {
		t.Fatal("worktree must stay mapped after a conflict")
	}
}

func TestFinalize_MergesWorktreeAndRecordsNote(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.store.projects["p1"] = &project.Project{ID: "p1", Path: "/repo", DefaultBranch: "main"}
	tk := reviewTask("m2", "Add login form")
	tk.ProjectID = "p1"
	tk.WorktreePath = "/repo/.agentoffice/worktrees/m2"
	tk.WorktreeBranch = "agentoffice/task-m2"
	env.store.addTask(tk)

	if err := env.orch.finalize(ctx, "m2", finalizeOptions{}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	got := env.store.task("m2")
	if got.Status != task.StatusDone {
		t.Fatalf("expected done, got %s", got.Status)
	}
	if !hasMemo(got, task.MemoMerge) {
		t.Fatal("expected merge memo")
	}
	if len(env.vcs.merged) != 1 || len(env.vcs.cleaned) != 1 {
		t.Fatalf("expected one merge and cleanup, got %v / %v", env.vcs.merged, env.vcs.cleaned)
	}
	if got.HasWorktree() {
		t.Fatal("worktree mapping should be cleared after merge")
	}
}

func TestFinalize_ProjectGateWaitsForAllRoots(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.store.projects["p2"] = &project.Project{ID: "p2", Path: "/repo2"}
	a := reviewTask("g1", "Add login form")
	a.ProjectID = "p2"
	b := reviewTask("g2", "Add signup form")
	b.ProjectID = "p2"
	b.Status = task.StatusInProgress
	env.store.addTask(a)
	env.store.addTask(b)

	if err := env.orch.finalize(ctx, "g1", finalizeOptions{}); err != nil {
		t.Fatalf("finalize g1: %v", err)
	}
	if got := env.store.task("g1"); got.Status != task.StatusReview {
		t.Fatalf("g1 must wait on the gate, got %s", got.Status)
	}

	_ = env.store.UpdateTaskStatus(ctx, "g2", task.StatusReview)
	if err := env.orch.finalize(ctx, "g2", finalizeOptions{}); err != nil {
		t.Fatalf("finalize g2: %v", err)
	}
	for _, id := range []string{"g1", "g2"} {
		if got := env.store.task(id); got.Status != task.StatusDone {
			t.Fatalf("%s: expected done once the gate opened, got %s", id, got.Status)
		}
	}
}

func TestFinalize_CancelReleasesProjectGate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.store.projects["p3"] = &project.Project{ID: "p3", Path: "/repo3"}
	a := reviewTask("g3", "Add login form")
	a.ProjectID = "p3"
	b := reviewTask("g4", "Add signup form")
	b.ProjectID = "p3"
	b.Status = task.StatusInbox
	env.store.addTask(a)
	env.store.addTask(b)

	if err := env.orch.finalize(ctx, "g3", finalizeOptions{}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := env.orch.StopTask(ctx, "g4", StopCancel); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := env.store.task("g3"); got.Status != task.StatusDone {
		t.Fatalf("g3 should finalize once g4 left the gate, got %s", got.Status)
	}
}

func TestFinalize_SiblingReportReleasesProjectGate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.store.projects["p4"] = &project.Project{ID: "p4", Path: "/repo4"}
	a := reviewTask("ga", "Add login form")
	a.ProjectID = "p4"
	r := inboxTask("gr", "Weekly status report")
	r.Kind = task.KindReport
	r.ProjectID = "p4"
	env.store.addTask(a)
	env.store.addTask(r)

	if err := env.orch.StartTask(ctx, "gr", "eng-dev"); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if err := env.orch.finalize(ctx, "ga", finalizeOptions{}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if got := env.store.task("ga"); got.Status != task.StatusReview {
		t.Fatalf("ga must wait while gr runs, got %s", got.Status)
	}

	env.provider.waitLaunch(t).exit(0, "status: green")
	env.orch.Wait()

	if got := env.store.task("gr"); got.Status != task.StatusDone {
		t.Fatalf("expected report done, got %s", got.Status)
	}
	if got := env.store.task("ga"); got.Status != task.StatusDone {
		t.Fatalf("ga should finalize once gr left the gate, got %s", got.Status)
	}
	if env.orch.Registry().HasGateWaiters("p4") {
		t.Fatal("gate waiters should be drained")
	}
}

func TestFinalize_HealsDelegatedSubtaskAndFinishesChildren(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.store.addTask(reviewTask("parent", "Add login form"))
	child := reviewTask("child", "Design login form")
	child.DepartmentID = "design"
	child.SourceTaskID = "parent"
	env.store.addTask(child)
	env.store.addSubtask(task.Subtask{
		ID:                 "s1",
		TaskID:             "parent",
		Title:              "Design login form",
		Status:             task.SubtaskBlocked,
		TargetDepartmentID: "design",
		DelegatedTaskID:    "child",
		BlockedReason:      task.BlockedAwaitingDelegate,
	})

	if err := env.orch.finalize(ctx, "parent", finalizeOptions{}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if s := env.store.subtask("s1"); s.Status != task.SubtaskDone || s.BlockedReason != "" {
		t.Fatalf("expected healed subtask, got %s (%q)", s.Status, s.BlockedReason)
	}
	for _, id := range []string{"parent", "child"} {
		if got := env.store.task(id); got.Status != task.StatusDone {
			t.Fatalf("%s: expected done, got %s", id, got.Status)
		}
	}
	if _, err := env.store.GetReport(ctx, "child"); err == nil {
		t.Fatal("child tasks must not write a report")
	}
	r, err := env.store.GetReport(ctx, "parent")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if len(r.Sections) != 2 {
		t.Fatalf("expected parent and child sections, got %d", len(r.Sections))
	}
}

func TestFinalize_DefersWhileSubtasksOpen(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.store.addTask(reviewTask("open", "Add login form"))
	env.store.addSubtask(task.Subtask{ID: "s2", TaskID: "open", Title: "Write tests", Status: task.SubtaskPending})

	if err := env.orch.finalize(ctx, "open", finalizeOptions{}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if got := env.store.task("open"); got.Status != task.StatusReview {
		t.Fatalf("expected review while subtasks are open, got %s", got.Status)
	}
}
