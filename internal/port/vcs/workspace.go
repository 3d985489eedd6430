// Package vcs defines the version-control helper port for per-task workspaces.
package vcs

import (
	"context"
	"errors"
)

// ErrMergeConflict is wrapped by MergeResult errors when files conflict.
var ErrMergeConflict = errors.New("vcs: merge conflict")

// Workspace describes one isolated per-task checkout.
type Workspace struct {
	RepoPath   string `json:"repo_path"`
	Path       string `json:"path"`
	Branch     string `json:"branch"`
	BaseBranch string `json:"base_branch"`
}

// MergeResult reports how a workspace was integrated.
type MergeResult struct {
	Merged         bool     `json:"merged"`
	PullRequestURL string   `json:"pull_request_url,omitempty"`
	Conflicts      []string `json:"conflicts,omitempty"`
	CommitSHA      string   `json:"commit_sha,omitempty"`
}

// MergeOptions controls integration at finalization.
type MergeOptions struct {
	TargetBranch  string
	CommitMessage string
	// PullRequest opens a pull request on the remote instead of merging.
	PullRequest bool
	Title       string
	Body        string
}

// Helper creates, inspects, merges and removes isolated workspaces.
type Helper interface {
	// IsRepository reports whether path is inside a git work tree.
	IsRepository(ctx context.Context, path string) bool
	// Create provisions (or reuses) a workspace for branch, based on baseBranch.
	Create(ctx context.Context, repoPath, path, branch, baseBranch string) (*Workspace, error)
	// Diff returns the changes on the workspace branch relative to its base.
	Diff(ctx context.Context, ws Workspace) (string, error)
	// Merge integrates the workspace. Conflicts are returned in the result,
	// not as an error, and leave the workspace intact.
	Merge(ctx context.Context, ws Workspace, opts MergeOptions) (*MergeResult, error)
	// Cleanup removes the workspace and its branch.
	Cleanup(ctx context.Context, ws Workspace) error
}
