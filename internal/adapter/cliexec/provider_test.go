package cliexec

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/ccivlcid/agentoffice-sub001/internal/port/executor"
)

var _ executor.Provider = (*Provider)(nil)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available in test environment")
	}
}

func TestNewProviderRejectsEmptyCommand(t *testing.T) {
	if _, err := NewProvider("x", nil, 100); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestLaunchStreamsOutputAndExitCode(t *testing.T) {
	requireShell(t)
	p, err := NewProvider("sh", []string{"sh", "-c", `cat; echo "task=$AGENTOFFICE_TASK_ID"; echo oops >&2; exit 3`}, 4000)
	if err != nil {
		t.Fatal(err)
	}

	proc, err := p.Launch(context.Background(), executor.LaunchRequest{
		TaskID:     "t1",
		Prompt:     "do the thing",
		WorkingDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	var lines []string
	for l := range proc.Output() {
		lines = append(lines, l)
	}
	<-proc.Done()

	if proc.ExitCode() != 3 {
		t.Errorf("exit code = %d, want 3", proc.ExitCode())
	}
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"do the thing", "task=t1", "oops"} {
		if !strings.Contains(joined, want) {
			t.Errorf("output missing %q: %q", want, joined)
		}
	}
	if !strings.Contains(proc.Tail(100), "task=t1") {
		t.Errorf("tail = %q", proc.Tail(100))
	}
}

func TestPumpCutsOverlongLines(t *testing.T) {
	s := executor.NewStream("p", 4000)
	in := strings.Repeat("x", 40) + "\nnext line\n" + strings.Repeat("가", 10)
	pump(strings.NewReader(in), s, 16)
	s.Finish(0)

	var lines []string
	for l := range s.Output() {
		lines = append(lines, l)
	}
	want := []string{
		strings.Repeat("x", 16) + " [line truncated]",
		"next line",
		strings.Repeat("가", 5) + " [line truncated]",
	}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
}

func TestLaunchSurvivesOverlongOutputLine(t *testing.T) {
	requireShell(t)
	for _, tool := range []string{"head", "tr"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available in test environment", tool)
		}
	}
	p, err := NewProvider("sh", []string{"sh", "-c", `head -c 3000000 /dev/zero | tr '\0' a; echo; echo done`}, 100)
	if err != nil {
		t.Fatal(err)
	}
	proc, err := p.Launch(context.Background(), executor.LaunchRequest{TaskID: "t3", WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	var last string
	timeout := time.After(10 * time.Second)
	for {
		select {
		case l, ok := <-proc.Output():
			if !ok {
				if last != "done" {
					t.Fatalf("expected output to continue after the long line, last = %q", last)
				}
				if proc.ExitCode() != 0 {
					t.Fatalf("exit code = %d, want 0", proc.ExitCode())
				}
				return
			}
			last = l
		case <-timeout:
			t.Fatal("process blocked on an overlong output line")
		}
	}
}

func TestStopEndsProcess(t *testing.T) {
	requireShell(t)
	p, _ := NewProvider("sleep", []string{"sh", "-c", "exec sleep 30"}, 100)
	proc, err := p.Launch(context.Background(), executor.LaunchRequest{TaskID: "t2", WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := proc.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Stop")
	}
	if proc.ExitCode() == 0 {
		t.Error("stopped process should not report success")
	}
}

func TestRunOneShot(t *testing.T) {
	requireShell(t)
	p, _ := NewProvider("cat", []string{"cat"}, 100)
	res, err := p.RunOneShot(context.Background(), executor.OneShotRequest{Prompt: "  hello \n", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("RunOneShot: %v", err)
	}
	if res.Text != "hello" {
		t.Errorf("text = %q", res.Text)
	}
}

func TestRunOneShotFailures(t *testing.T) {
	requireShell(t)

	slow, _ := NewProvider("slow", []string{"sh", "-c", "sleep 5"}, 100)
	_, err := slow.RunOneShot(context.Background(), executor.OneShotRequest{Timeout: 100 * time.Millisecond})
	if !errors.Is(err, executor.ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}

	failing, _ := NewProvider("fail", []string{"sh", "-c", "echo bad >&2; exit 2"}, 100)
	_, err = failing.RunOneShot(context.Background(), executor.OneShotRequest{Timeout: 5 * time.Second})
	if err == nil || !strings.Contains(err.Error(), "exit 2: bad") {
		t.Errorf("expected exit error, got %v", err)
	}
}
