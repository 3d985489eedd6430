package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ccivlcid/agentoffice-sub001/internal/domain/task"
	"github.com/ccivlcid/agentoffice-sub001/internal/port/messagequeue"
)

// fakeQueue records subscriptions and delivers messages synchronously.
type fakeQueue struct {
	mu        sync.Mutex
	handlers  map[string]messagequeue.Handler
	failOn    string
	cancelled int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{handlers: map[string]messagequeue.Handler{}}
}

func (q *fakeQueue) Publish(ctx context.Context, subject string, data []byte) error {
	q.mu.Lock()
	h := q.handlers[subject]
	q.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(ctx, subject, data)
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	if subject == q.failOn {
		return nil, errors.New("stream unavailable")
	}
	q.mu.Lock()
	q.handlers[subject] = h
	q.mu.Unlock()
	return func() {
		q.mu.Lock()
		q.cancelled++
		delete(q.handlers, subject)
		q.mu.Unlock()
	}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func publishJSON(t *testing.T, q *fakeQueue, subject string, v any) error {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return q.Publish(context.Background(), subject, data)
}

func TestCommands_StartAndStop(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.store.addTask(inboxTask("c1", "Build login api"))
	q := newFakeQueue()

	cancels, err := env.orch.StartSubscribers(ctx, q)
	if err != nil {
		t.Fatalf("StartSubscribers: %v", err)
	}
	if len(cancels) != 3 {
		t.Fatalf("expected 3 subscriptions, got %d", len(cancels))
	}

	if err := publishJSON(t, q, messagequeue.SubjectCommandTaskStart, messagequeue.TaskStartPayload{TaskID: "c1", AgentID: "eng-dev"}); err != nil {
		t.Fatalf("start command: %v", err)
	}
	env.provider.waitLaunch(t)
	if err := publishJSON(t, q, messagequeue.SubjectCommandTaskStop, messagequeue.TaskStopPayload{TaskID: "c1", Mode: "cancel"}); err != nil {
		t.Fatalf("stop command: %v", err)
	}
	env.orch.Wait()

	if got := env.store.task("c1"); got.Status != task.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	for _, c := range cancels {
		c()
	}
	if q.cancelled != 3 {
		t.Fatalf("expected 3 cancellations, got %d", q.cancelled)
	}
}

func TestCommands_RejectionsAreAcknowledged(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.store.addTask(reviewTask("c2", "Add login form"))
	q := newFakeQueue()
	if _, err := env.orch.StartSubscribers(ctx, q); err != nil {
		t.Fatalf("StartSubscribers: %v", err)
	}

	tests := []struct {
		name    string
		subject string
		payload any
	}{
		{"unknown task", messagequeue.SubjectCommandTaskStart, messagequeue.TaskStartPayload{TaskID: "missing"}},
		{"bad transition", messagequeue.SubjectCommandTaskStop, messagequeue.TaskStopPayload{TaskID: "c2", Mode: "pause"}},
		{"unknown mode", messagequeue.SubjectCommandTaskStop, messagequeue.TaskStopPayload{TaskID: "c2", Mode: "halt"}},
		{"no paused round", messagequeue.SubjectCommandRemediation, messagequeue.RemediationPayload{TaskID: "c2", Action: "act"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := publishJSON(t, q, tt.subject, tt.payload); err != nil {
				t.Fatalf("rejection should be acknowledged, got %v", err)
			}
		})
	}

	if err := q.Publish(ctx, messagequeue.SubjectCommandTaskStart, []byte("{not json")); err == nil {
		t.Fatal("malformed payload should be returned for dead-lettering")
	}
}

func TestCommands_SubscribeFailureCancelsEarlier(t *testing.T) {
	env := newTestEnv(t, nil)
	q := newFakeQueue()
	q.failOn = messagequeue.SubjectCommandRemediation

	if _, err := env.orch.StartSubscribers(context.Background(), q); err == nil {
		t.Fatal("expected subscribe error")
	}
	if q.cancelled != 2 {
		t.Fatalf("earlier subscriptions should be cancelled, got %d", q.cancelled)
	}
}

func TestCommands_StopWithoutModeCancels(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.store.addTask(inboxTask("c3", "Build login api"))
	q := newFakeQueue()
	if _, err := env.orch.StartSubscribers(ctx, q); err != nil {
		t.Fatalf("StartSubscribers: %v", err)
	}

	if err := publishJSON(t, q, messagequeue.SubjectCommandTaskStop, messagequeue.TaskStopPayload{TaskID: "c3"}); err != nil {
		t.Fatalf("stop command: %v", err)
	}
	if got := env.store.task("c3"); got.Status != task.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}
