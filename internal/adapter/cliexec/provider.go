// Package cliexec implements the execution provider port by running agent
// CLIs (claude, codex, gemini, ...) as local child processes. The prompt is
// written to stdin and stdout/stderr lines are streamed back.
package cliexec

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/ccivlcid/agentoffice-sub001/internal/port/executor"
)

const (
	stopGrace = 5 * time.Second
	maxLine   = 1024 * 1024
)

// Provider runs one agent CLI.
type Provider struct {
	name     string
	argv     []string
	tailSize int
}

// NewProvider creates a provider that runs argv for every launch.
func NewProvider(name string, argv []string, tailSize int) (*Provider, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("cliexec %s: empty command", name)
	}
	return &Provider{name: name, argv: argv, tailSize: tailSize}, nil
}

// Name implements executor.Provider.
func (p *Provider) Name() string { return p.name }

type process struct {
	*executor.Stream
	cmd *exec.Cmd
}

// Stop interrupts the process and kills it after a grace period or when ctx
// ends, whichever comes first.
func (p *process) Stop(ctx context.Context) error {
	select {
	case <-p.Done():
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		return p.cmd.Process.Kill()
	}
	select {
	case <-p.Done():
		return nil
	case <-ctx.Done():
	case <-time.After(stopGrace):
	}
	return p.cmd.Process.Kill()
}

func (p *Provider) env(taskID, sessionID string, hints map[string]string) []string {
	env := append(os.Environ(), "AGENTOFFICE_TASK_ID="+taskID)
	if sessionID != "" {
		env = append(env, "AGENTOFFICE_SESSION_ID="+sessionID)
	}
	for k, v := range hints {
		env = append(env, "AGENTOFFICE_MODEL_"+strings.ToUpper(k)+"="+v)
	}
	return env
}

// Launch implements executor.Provider. The process outlives ctx; use Stop
// to end it.
func (p *Provider) Launch(_ context.Context, req executor.LaunchRequest) (executor.Process, error) {
	cmd := exec.Command(p.argv[0], p.argv[1:]...) //nolint:gosec // command from trusted config
	cmd.Dir = req.WorkingDir
	cmd.Env = p.env(req.TaskID, req.SessionID, req.ModelHints)
	cmd.Stdin = strings.NewReader(req.Prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("cliexec %s: stdout pipe: %w", p.name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("cliexec %s: stderr pipe: %w", p.name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("cliexec %s: start: %w", p.name, err)
	}

	proc := &process{
		Stream: executor.NewStream(fmt.Sprintf("%s-%d", p.name, cmd.Process.Pid), p.tailSize),
		cmd:    cmd,
	}

	var wg conc.WaitGroup
	wg.Go(func() { pump(stdout, proc.Stream, maxLine) })
	wg.Go(func() { pump(stderr, proc.Stream, maxLine) })
	go func() {
		wg.Wait()
		proc.Finish(exitCode(cmd.Wait()))
	}()

	slog.Debug("agent process started", "provider", p.name, "process", proc.ID(), "task_id", req.TaskID)
	return proc, nil
}

// pump emits r line by line until EOF. Lines longer than limit bytes are cut
// and marked, and reading continues so the child never blocks on a full pipe.
func pump(r io.Reader, s *executor.Stream, limit int) {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	cut := false
	emit := func() {
		text := string(line)
		if cut {
			text = strings.ToValidUTF8(text, "") + " [line truncated]"
		}
		s.Emit(text)
		line, cut = line[:0], false
	}
	for {
		frag, more, err := br.ReadLine()
		if err != nil {
			if len(line) > 0 || cut {
				emit()
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				slog.Warn("agent output read failed", "process", s.ID(), "error", err)
			}
			return
		}
		if room := limit - len(line); len(frag) > room {
			frag = frag[:max(room, 0)]
			cut = true
		}
		line = append(line, frag...)
		if !more {
			emit()
		}
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}

// RunOneShot implements executor.Provider.
func (p *Provider) RunOneShot(ctx context.Context, req executor.OneShotRequest) (*executor.OneShotResult, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...) //nolint:gosec // command from trusted config
	cmd.Dir = req.WorkingDir
	cmd.Env = p.env("", "", req.Agent.ModelHints())
	cmd.Stdin = strings.NewReader(req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, executor.ErrTimeout
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("cliexec %s: exit %d: %s", p.name, exitCode(err), strings.TrimSpace(stderr.String()))
	}
	return &executor.OneShotResult{Text: strings.TrimSpace(stdout.String())}, nil
}
