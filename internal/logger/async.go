package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes and stops the async handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// entry pairs a record with the handler that must render it, so records
// logged through With/WithGroup keep their attributes.
type entry struct {
	h   slog.Handler
	rec slog.Record
}

type asyncCore struct {
	ch      chan entry
	wg      sync.WaitGroup
	dropped atomic.Int64
	once    sync.Once
}

// AsyncHandler hands records to a pool of writer goroutines. Records below
// warn are dropped when the buffer is full; warn and above wait for room so
// workflow failures always reach the log.
type AsyncHandler struct {
	inner slog.Handler
	core  *asyncCore
}

// NewAsyncHandler creates an AsyncHandler with the given buffer size and
// writer count.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	core := &asyncCore{ch: make(chan entry, chanSize)}
	for range workers {
		core.wg.Add(1)
		go core.drain()
	}
	return &AsyncHandler{inner: inner, core: core}
}

func (c *asyncCore) drain() {
	defer c.wg.Done()
	for e := range c.ch {
		_ = e.h.Handle(context.Background(), e.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	e := entry{h: h.inner, rec: rec.Clone()}
	if rec.Level >= slog.LevelWarn {
		h.core.ch <- e
		return nil
	}
	select {
	case h.core.ch <- e:
	default:
		h.core.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler on the same buffer with attrs added.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), core: h.core}
}

// WithGroup returns a handler on the same buffer with the group opened.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), core: h.core}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.core.dropped.Load()
}

// Close drains the buffer and stops the writers. A final warn record
// reports how many records were dropped, if any. Safe to call twice.
func (h *AsyncHandler) Close() {
	h.core.once.Do(func() {
		close(h.core.ch)
		h.core.wg.Wait()
		if n := h.core.dropped.Load(); n > 0 {
			rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async log records dropped", 0)
			rec.AddAttrs(slog.Int64("dropped", n))
			_ = h.inner.Handle(context.Background(), rec)
		}
	})
}
