package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/ccivlcid/agentoffice-sub001/internal/port/cache"
)

// Tiered combines an L1 and an optional L2. Get checks L1 first, then L2,
// backfilling L1 on an L2 hit. L2 failures degrade to L1-only instead of
// failing the caller.
type Tiered struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
}

// NewTiered creates a tiered cache. l2 may be nil.
// l1Expire controls how long L2 backfill entries live in L1.
func NewTiered(l1, l2 cache.Cache, l1Expire time.Duration) *Tiered {
	return &Tiered{l1: l1, l2: l2, l1Expire: l1Expire}
}

// Get checks L1, then L2.
func (t *Tiered) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := t.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found || t.l2 == nil {
		return val, found, nil
	}

	val, found, err = t.l2.Get(ctx, key)
	if err != nil {
		slog.Warn("l2 cache get failed", "key", key, "error", err)
		return nil, false, nil
	}
	if found {
		_ = t.l1.Set(ctx, key, val, t.l1Expire)
		return val, true, nil
	}
	return nil, false, nil
}

// Set writes to L1 and, best-effort, to L2.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if t.l2 != nil {
		if err := t.l2.Set(ctx, key, value, ttl); err != nil {
			slog.Warn("l2 cache set failed", "key", key, "error", err)
		}
	}
	return nil
}

// Delete removes from both levels.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	if err := t.l1.Delete(ctx, key); err != nil {
		return err
	}
	if t.l2 != nil {
		return t.l2.Delete(ctx, key)
	}
	return nil
}
