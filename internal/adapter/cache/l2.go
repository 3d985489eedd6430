package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Remote is a NATS JetStream KV L2 cache shared between orchestrator
// instances. TTL is enforced per bucket.
type Remote struct {
	kv jetstream.KeyValue
}

// NewRemote wraps an existing KV bucket.
func NewRemote(kv jetstream.KeyValue) *Remote {
	return &Remote{kv: kv}
}

// kvKey maps cache keys onto the KV key alphabet ([-/_=.a-zA-Z0-9]).
func kvKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '/', r == '_', r == '=', r == '.':
			return r
		}
		return '_'
	}, key)
}

// Get retrieves a value from the KV store.
func (r *Remote) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := r.kv.Get(ctx, kvKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set stores a value in the KV store.
func (r *Remote) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := r.kv.Put(ctx, kvKey(key), value)
	return err
}

// Delete removes a value from the KV store.
func (r *Remote) Delete(ctx context.Context, key string) error {
	err := r.kv.Delete(ctx, kvKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}
