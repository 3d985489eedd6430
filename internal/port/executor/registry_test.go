package executor_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/ccivlcid/agentoffice-sub001/internal/port/executor"
)

type testProvider struct {
	name string
}

func (p *testProvider) Name() string { return p.name }
func (p *testProvider) Launch(_ context.Context, _ executor.LaunchRequest) (executor.Process, error) {
	return nil, nil
}
func (p *testProvider) RunOneShot(_ context.Context, _ executor.OneShotRequest) (*executor.OneShotResult, error) {
	return &executor.OneShotResult{Text: p.name}, nil
}

func TestRegisterAndResolve(t *testing.T) {
	r := executor.NewRegistry()
	r.Register("claude", &testProvider{name: "claude"})

	p, err := r.Provider("claude")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "claude" {
		t.Fatalf("expected claude, got %s", p.Name())
	}
}

func TestUnknownProvider(t *testing.T) {
	r := executor.NewRegistry()
	if _, err := r.Provider("nope"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestFallback(t *testing.T) {
	r := executor.NewRegistry()
	r.Register("remote", &testProvider{name: "remote"})
	r.SetFallback("remote")

	p, err := r.Provider("gemini")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "remote" {
		t.Errorf("expected fallback remote, got %s", p.Name())
	}
}

func TestDuplicatePanics(t *testing.T) {
	r := executor.NewRegistry()
	r.Register("x", &testProvider{name: "x"})
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	r.Register("x", &testProvider{name: "x"})
}

func TestAvailableSorted(t *testing.T) {
	r := executor.NewRegistry()
	r.Register("b", &testProvider{name: "b"})
	r.Register("a", &testProvider{name: "a"})
	if got := r.Available(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Available = %v", got)
	}
}

func TestStreamTailAndFinish(t *testing.T) {
	s := executor.NewStream("p1", 8)
	s.Emit("hello")
	s.Emit("world")

	if got := s.Tail(0); got != "o\nworld\n" {
		t.Fatalf("tail = %q", got)
	}
	if got := s.Tail(3); got != "ld\n" {
		t.Fatalf("tail(3) = %q", got)
	}

	s.Finish(2)
	s.Finish(0)
	s.Emit("late")

	<-s.Done()
	if s.ExitCode() != 2 {
		t.Fatalf("exit code = %d, want 2", s.ExitCode())
	}
	var lines []string
	for l := range s.Output() {
		lines = append(lines, l)
	}
	if !reflect.DeepEqual(lines, []string{"hello", "world"}) {
		t.Fatalf("lines = %v", lines)
	}
}
