package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce lets editors finish write+rename sequences before re-reading.
const reloadDebounce = 250 * time.Millisecond

// ReviewPolicy is an atomically swappable view of the review knobs.
// Meetings read it once at start, so a reload only affects new meetings.
type ReviewPolicy struct {
	v atomic.Pointer[Review]
}

// NewReviewPolicy returns a policy holder seeded with r.
func NewReviewPolicy(r Review) *ReviewPolicy {
	p := &ReviewPolicy{}
	p.Store(r)
	return p
}

// Load returns the current policy.
func (p *ReviewPolicy) Load() Review {
	return *p.v.Load()
}

// Store replaces the current policy.
func (p *ReviewPolicy) Store(r Review) {
	p.v.Store(&r)
}

// Watch re-reads the YAML file at path whenever it changes and swaps the
// review section into policy. Invalid files are logged and ignored.
// Blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, policy *ReviewPolicy) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory so atomic replaces (write temp, rename) are seen.
	dir := filepath.Dir(path)
	name := filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	slog.Info("watching config for review policy changes", "path", path)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				reloadReview(path, policy)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watch error", "error", err)
		}
	}
}

func reloadReview(path string, policy *ReviewPolicy) {
	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		slog.Warn("config reload failed", "path", path, "error", err)
		return
	}
	loadEnv(&cfg)
	if err := validateReview(&cfg.Review); err != nil {
		slog.Warn("config reload rejected", "path", path, "error", err)
		return
	}
	policy.Store(cfg.Review)
	slog.Info("review policy reloaded",
		"max_remediation_requests", cfg.Review.MaxRemediationRequests,
		"min_participants", cfg.Review.MinParticipants,
	)
}
