// Package gitlocal implements the vcs.Helper interface using local git CLI
// commands: one git worktree per task, merged back or proposed as a pull
// request at finalization.
package gitlocal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ccivlcid/agentoffice-sub001/internal/git"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/vcs"
)

const (
	fallbackUserName  = "agentoffice"
	fallbackUserEmail = "agentoffice@localhost"
)

// Helper manages task worktrees via the git CLI.
type Helper struct {
	pool *git.Pool
}

// NewHelper creates a Helper that limits concurrent git operations via pool.
func NewHelper(pool *git.Pool) *Helper {
	return &Helper{pool: pool}
}

// IsRepository reports whether path is inside a git work tree.
func (h *Helper) IsRepository(ctx context.Context, path string) bool {
	var inside bool
	_ = h.pool.Run(ctx, func() error {
		out, err := runGit(ctx, path, "rev-parse", "--is-inside-work-tree")
		inside = err == nil && strings.TrimSpace(out) == "true"
		return nil
	})
	return inside
}

// Create adds a worktree at path on branch. An existing worktree already on
// branch is reused; an existing branch is checked out rather than recreated.
func (h *Helper) Create(ctx context.Context, repoPath, path, branch, baseBranch string) (*vcs.Workspace, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("gitlocal: resolve path: %w", err)
	}

	ws := &vcs.Workspace{RepoPath: repoPath, Path: absPath, Branch: branch, BaseBranch: baseBranch}
	err = h.pool.RunRepo(ctx, repoPath, func() error {
		if cur, err := runGit(ctx, absPath, "rev-parse", "--abbrev-ref", "HEAD"); err == nil && strings.TrimSpace(cur) == branch {
			return nil
		}

		if ws.BaseBranch == "" {
			cur, err := runGit(ctx, repoPath, "rev-parse", "--abbrev-ref", "HEAD")
			if err != nil {
				return fmt.Errorf("gitlocal: resolve base branch: %w", err)
			}
			ws.BaseBranch = strings.TrimSpace(cur)
		}

		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return fmt.Errorf("gitlocal: create worktree parent: %w", err)
		}

		if _, err := runGit(ctx, repoPath, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch); err == nil {
			if _, err := runGit(ctx, repoPath, "worktree", "add", absPath, branch); err != nil {
				return fmt.Errorf("gitlocal: worktree add %s: %w", branch, err)
			}
			return nil
		}
		if _, err := runGit(ctx, repoPath, "worktree", "add", "-b", branch, absPath, ws.BaseBranch); err != nil {
			return fmt.Errorf("gitlocal: worktree add -b %s: %w", branch, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// Diff returns the working tree of the workspace compared to its base branch.
func (h *Helper) Diff(ctx context.Context, ws vcs.Workspace) (string, error) {
	var out string
	err := h.pool.Run(ctx, func() error {
		var err error
		out, err = runGit(ctx, ws.Path, "diff", ws.BaseBranch)
		if err != nil {
			return fmt.Errorf("gitlocal: diff: %w", err)
		}
		return nil
	})
	return out, err
}

// Merge commits pending work in the workspace and integrates its branch into
// opts.TargetBranch, or pushes it and opens a pull request. Conflicts abort
// the merge and are reported in the result.
func (h *Helper) Merge(ctx context.Context, ws vcs.Workspace, opts vcs.MergeOptions) (*vcs.MergeResult, error) {
	target := opts.TargetBranch
	if target == "" {
		target = ws.BaseBranch
	}
	msg := opts.CommitMessage
	if msg == "" {
		msg = "Merge " + ws.Branch
	}

	var res *vcs.MergeResult
	err := h.pool.RunRepo(ctx, ws.RepoPath, func() error {
		if err := commitPending(ctx, ws.Path, msg); err != nil {
			return err
		}

		ahead, err := runGit(ctx, ws.RepoPath, "rev-list", "--count", target+".."+ws.Branch)
		if err != nil {
			return fmt.Errorf("gitlocal: count commits: %w", err)
		}
		if n, _ := strconv.Atoi(strings.TrimSpace(ahead)); n == 0 {
			res = &vcs.MergeResult{Merged: true}
			return nil
		}

		if opts.PullRequest {
			res, err = openPullRequest(ctx, ws, target, opts)
			return err
		}

		res, err = mergeLocal(ctx, ws, target, msg)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func mergeLocal(ctx context.Context, ws vcs.Workspace, target, msg string) (*vcs.MergeResult, error) {
	cur, err := runGit(ctx, ws.RepoPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("gitlocal: current branch: %w", err)
	}
	if strings.TrimSpace(cur) != target {
		if _, err := runGit(ctx, ws.RepoPath, "checkout", target); err != nil {
			return nil, fmt.Errorf("gitlocal: checkout %s: %w", target, err)
		}
	}

	if _, mergeErr := runGit(ctx, ws.RepoPath, withIdentity(ctx, ws.RepoPath, "merge", "--no-ff", "-m", msg, ws.Branch)...); mergeErr != nil {
		out, _ := runGit(ctx, ws.RepoPath, "diff", "--name-only", "--diff-filter=U")
		files := parseConflicts(out)
		if _, abortErr := runGit(ctx, ws.RepoPath, "merge", "--abort"); abortErr != nil {
			return nil, errors.Join(fmt.Errorf("gitlocal: merge %s: %w", ws.Branch, mergeErr), abortErr)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("gitlocal: merge %s: %w", ws.Branch, mergeErr)
		}
		return &vcs.MergeResult{Conflicts: files}, nil
	}

	sha, err := runGit(ctx, ws.RepoPath, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("gitlocal: resolve merge commit: %w", err)
	}
	return &vcs.MergeResult{Merged: true, CommitSHA: strings.TrimSpace(sha)}, nil
}

func openPullRequest(ctx context.Context, ws vcs.Workspace, target string, opts vcs.MergeOptions) (*vcs.MergeResult, error) {
	if _, err := runGit(ctx, ws.Path, "push", "-u", "origin", ws.Branch); err != nil {
		return nil, fmt.Errorf("gitlocal: push %s: %w", ws.Branch, err)
	}
	title := opts.Title
	if title == "" {
		title = ws.Branch
	}
	out, err := runCmd(ctx, ws.Path, "gh", "pr", "create",
		"--base", target, "--head", ws.Branch, "--title", title, "--body", opts.Body)
	if err != nil {
		return nil, fmt.Errorf("gitlocal: open pull request: %w", err)
	}
	return &vcs.MergeResult{PullRequestURL: lastLine(out)}, nil
}

// Cleanup removes the worktree directory and deletes its branch. Missing
// worktrees and branches are not errors.
func (h *Helper) Cleanup(ctx context.Context, ws vcs.Workspace) error {
	return h.pool.RunRepo(ctx, ws.RepoPath, func() error {
		var errs []error
		if _, err := os.Stat(ws.Path); err == nil {
			if _, err := runGit(ctx, ws.RepoPath, "worktree", "remove", "--force", ws.Path); err != nil {
				errs = append(errs, fmt.Errorf("gitlocal: worktree remove: %w", err))
			}
		}
		if _, err := runGit(ctx, ws.RepoPath, "worktree", "prune"); err != nil {
			errs = append(errs, fmt.Errorf("gitlocal: worktree prune: %w", err))
		}
		if ws.Branch != "" {
			if _, err := runGit(ctx, ws.RepoPath, "rev-parse", "--verify", "--quiet", "refs/heads/"+ws.Branch); err == nil {
				if _, err := runGit(ctx, ws.RepoPath, "branch", "-D", ws.Branch); err != nil {
					errs = append(errs, fmt.Errorf("gitlocal: delete branch: %w", err))
				}
			}
		}
		return errors.Join(errs...)
	})
}

func commitPending(ctx context.Context, dir, msg string) error {
	status, err := runGit(ctx, dir, "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("gitlocal: status: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		return nil
	}
	if _, err := runGit(ctx, dir, "add", "-A"); err != nil {
		return fmt.Errorf("gitlocal: stage: %w", err)
	}
	if _, err := runGit(ctx, dir, withIdentity(ctx, dir, "commit", "-m", msg)...); err != nil {
		return fmt.Errorf("gitlocal: commit: %w", err)
	}
	return nil
}

// withIdentity prefixes args with a fallback committer when the repository
// has none configured.
func withIdentity(ctx context.Context, dir string, args ...string) []string {
	if email, err := runGit(ctx, dir, "config", "user.email"); err == nil && strings.TrimSpace(email) != "" {
		return args
	}
	return append([]string{"-c", "user.name=" + fallbackUserName, "-c", "user.email=" + fallbackUserEmail}, args...)
}

// parseConflicts returns the unique, sorted file paths of a
// `git diff --name-only --diff-filter=U` listing.
func parseConflicts(out string) []string {
	seen := make(map[string]struct{})
	var files []string
	for _, line := range strings.Split(out, "\n") {
		f := strings.TrimSpace(line)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// runGit executes a git command and returns its stdout.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	return runCmd(ctx, dir, "git", args...)
}

func runCmd(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}
