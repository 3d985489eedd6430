package slack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ccivlcid/agentoffice-sub001/internal/port/notifier"
)

// Compile-time interface check.
var _ notifier.Notifier = (*Notifier)(nil)

func TestNotifierName(t *testing.T) {
	n := NewNotifier("")
	if n.Name() != "slack" {
		t.Fatalf("expected 'slack', got %q", n.Name())
	}
}

func TestRegistered(t *testing.T) {
	n, err := notifier.New("slack", map[string]string{"webhook_url": "http://example.invalid"})
	if err != nil {
		t.Fatalf("expected slack notifier to be registered: %v", err)
	}
	if n.Name() != "slack" {
		t.Fatalf("unexpected notifier %q", n.Name())
	}
	if _, err := notifier.New("slack", map[string]string{}); !errors.Is(err, notifier.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured without a webhook, got %v", err)
	}
}

func TestSendNotConfigured(t *testing.T) {
	n := NewNotifier("")
	err := n.Send(context.Background(), notifier.Notification{Title: "test"})
	if err != notifier.ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendMergeConflict(t *testing.T) {
	var got slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{
		Event:  notifier.EventMergeConflict,
		TaskID: "t1",
		Title:  "Merge conflict",
		Level:  notifier.LevelError,
		Items:  []string{"a.go", "b.go"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Text != "[ERROR] Merge conflict" {
		t.Fatalf("fallback text = %q", got.Text)
	}
	if len(got.Blocks) != 3 {
		t.Fatalf("expected header, items and context blocks, got %d", len(got.Blocks))
	}
	if !strings.Contains(got.Blocks[1].Text.Text, "`b.go`") {
		t.Fatalf("items block missing file: %q", got.Blocks[1].Text.Text)
	}
}

func TestBuildMessageTruncatesItems(t *testing.T) {
	items := make([]string, maxItems+5)
	for i := range items {
		items[i] = "f.go"
	}
	msg := buildMessage(notifier.Notification{Title: "x", Items: items})
	text := msg.Blocks[1].Text.Text
	if !strings.HasSuffix(text, "_and 5 more_") {
		t.Fatalf("expected truncation marker, got %q", text)
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid_token"))
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL)
	err := n.Send(context.Background(), notifier.Notification{Title: "test"})
	if err == nil || !strings.Contains(err.Error(), "invalid_token") {
		t.Fatalf("expected API error, got %v", err)
	}
}
