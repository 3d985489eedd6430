// Package cache implements the cache port as an in-process ristretto L1,
// a NATS JetStream KV L2, and a tiered combination of both.
package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Local is an in-process L1 cache.
type Local struct {
	c *ristretto.Cache[string, []byte]
}

// NewLocal creates a ristretto-backed cache bounded to maxMB megabytes.
func NewLocal(maxMB int64) (*Local, error) {
	maxCost := maxMB << 20
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCost / 100 * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Local{c: c}, nil
}

// Get retrieves a value from the cache.
func (l *Local) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := l.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores a value with ttl and waits for the write buffer so a
// subsequent Get observes it.
func (l *Local) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	l.c.SetWithTTL(key, value, int64(len(value)), ttl)
	l.c.Wait()
	return nil
}

// Delete removes a value from the cache.
func (l *Local) Delete(_ context.Context, key string) error {
	l.c.Del(key)
	return nil
}

// Close shuts down the cache and releases resources.
func (l *Local) Close() {
	l.c.Close()
}
