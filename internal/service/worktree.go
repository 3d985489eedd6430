package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	aootel "github.com/ccivlcid/agentoffice-sub001/internal/adapter/otel"
	"github.com/ccivlcid/agentoffice-sub001/internal/config"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/project"
	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/vcs"
)

type worktreeStore interface {
	GetProject(ctx context.Context, id string) (*project.Project, error)
	SetTaskWorktree(ctx context.Context, id, path, branch string) error
}

// WorktreeService owns the per-task isolated branch lifecycle.
type WorktreeService struct {
	vcs   vcs.Helper
	store worktreeStore
	cfg   config.Git
}

// NewWorktreeService creates a WorktreeService. A nil helper disables worktrees.
func NewWorktreeService(h vcs.Helper, store worktreeStore, cfg config.Git) *WorktreeService {
	return &WorktreeService{vcs: h, store: store, cfg: cfg}
}

// BranchFor returns the deterministic branch name of a task.
func (w *WorktreeService) BranchFor(taskID string) string {
	return w.cfg.BranchPrefix + taskID
}

func (w *WorktreeService) pathFor(p *project.Project, taskID string) string {
	dir := w.cfg.WorktreeDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(p.Path, dir)
	}
	return filepath.Join(dir, taskID)
}

func (w *WorktreeService) baseFor(p *project.Project, t *task.Task) string {
	switch {
	case t.BaseBranch != "":
		return t.BaseBranch
	case p.DefaultBranch != "":
		return p.DefaultBranch
	default:
		return w.cfg.DefaultBaseBranch
	}
}

// Ensure provisions the task's worktree and returns the directory the agent
// should run in. Tasks outside a git project run in the project directory.
func (w *WorktreeService) Ensure(ctx context.Context, t *task.Task) (string, error) {
	if t.ProjectID == "" {
		return "", nil
	}
	p, err := w.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return "", fmt.Errorf("get project %s: %w", t.ProjectID, err)
	}
	if w.vcs == nil || !w.vcs.IsRepository(ctx, p.Path) {
		return p.Path, nil
	}

	ws, err := w.vcs.Create(ctx, p.Path, w.pathFor(p, t.ID), w.BranchFor(t.ID), w.baseFor(p, t))
	if err != nil {
		return p.Path, fmt.Errorf("create worktree for %s: %w", t.ID, err)
	}
	if err := w.store.SetTaskWorktree(ctx, t.ID, ws.Path, ws.Branch); err != nil {
		return ws.Path, fmt.Errorf("record worktree for %s: %w", t.ID, err)
	}
	t.WorktreePath, t.WorktreeBranch = ws.Path, ws.Branch
	return ws.Path, nil
}

// Merge merges the task branch into its target. On success the worktree is
// removed; on conflict it is left intact and a *MergeConflictError returned.
func (w *WorktreeService) Merge(ctx context.Context, t *task.Task) (*vcs.MergeResult, string, error) {
	p, err := w.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return nil, "", fmt.Errorf("get project %s: %w", t.ProjectID, err)
	}
	target := w.baseFor(p, t)
	ws := vcs.Workspace{RepoPath: p.Path, Path: t.WorktreePath, Branch: t.WorktreeBranch, BaseBranch: target}

	ctx, span := aootel.StartMergeSpan(ctx, t.ID, ws.Branch)
	defer span.End()

	res, err := w.vcs.Merge(ctx, ws, vcs.MergeOptions{
		TargetBranch:  target,
		CommitMessage: strings.TrimSpace(w.cfg.CommitPrefix + " " + t.Title),
		PullRequest:   w.cfg.OpenPullRequests && p.HasRemote(),
		Title:         t.Title,
		Body:          task.LatestMemo(t.Description, task.MemoRevision),
	})
	if err != nil {
		span.RecordError(err)
		return nil, target, fmt.Errorf("merge %s into %s: %w", ws.Branch, target, err)
	}
	if len(res.Conflicts) > 0 {
		return res, target, &MergeConflictError{TaskID: t.ID, Target: target, Files: uniqueSorted(res.Conflicts)}
	}
	if err := w.Cleanup(ctx, t); err != nil {
		slog.Warn("worktree cleanup after merge failed", "task_id", t.ID, "error", err)
	}
	return res, target, nil
}

// Cleanup removes the task's worktree and branch and forgets the mapping.
func (w *WorktreeService) Cleanup(ctx context.Context, t *task.Task) error {
	if !t.HasWorktree() || w.vcs == nil {
		return nil
	}
	p, err := w.store.GetProject(ctx, t.ProjectID)
	if err != nil {
		return fmt.Errorf("get project %s: %w", t.ProjectID, err)
	}
	ws := vcs.Workspace{RepoPath: p.Path, Path: t.WorktreePath, Branch: t.WorktreeBranch, BaseBranch: w.baseFor(p, t)}
	if err := w.vcs.Cleanup(ctx, ws); err != nil {
		return fmt.Errorf("cleanup worktree %s: %w", ws.Path, err)
	}
	if err := w.store.SetTaskWorktree(ctx, t.ID, "", ""); err != nil {
		return fmt.Errorf("clear worktree for %s: %w", t.ID, err)
	}
	t.WorktreePath, t.WorktreeBranch = "", ""
	return nil
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
