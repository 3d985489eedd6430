// Package git provides shared utilities for git CLI operations.
package git

import (
	"context"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent git CLI operations and serializes operations on
// the same repository. Worktree add/remove and merges all touch the shared
// .git directory, so two tasks of one project must not run them at once.
type Pool struct {
	sem *semaphore.Weighted

	mu    sync.Mutex
	repos map[string]chan struct{}
}

// NewPool creates a Pool that allows at most limit concurrent git operations.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{
		sem:   semaphore.NewWeighted(int64(limit)),
		repos: make(map[string]chan struct{}),
	}
}

// Run acquires a global slot, runs fn, and releases the slot. Returns
// ctx.Err() if the context is cancelled while waiting. A nil pool runs fn
// directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// RunRepo is Run plus exclusive access to repo.
func (p *Pool) RunRepo(ctx context.Context, repo string, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	lock := p.repoLock(repo)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()
	return p.Run(ctx, fn)
}

func (p *Pool) repoLock(repo string) chan struct{} {
	key := filepath.Clean(repo)
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.repos[key]
	if !ok {
		lock = make(chan struct{}, 1)
		p.repos[key] = lock
	}
	return lock
}
