package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"drover/internal/agent/ports"
	"drover/internal/logging"
)

// maxCapturedOutput bounds how much stdout or stderr a result carries.
const maxCapturedOutput = 1 << 20

// ShellExecutor runs commands through bash inside the workspace.
type ShellExecutor struct {
	ws             *Workspace
	defaultTimeout time.Duration
	logger         logging.Logger
}

// NewShellExecutor creates an executor rooted at the workspace. Commands
// without their own timeout get defaultTimeout; zero disables the cap.
func NewShellExecutor(ws *Workspace, defaultTimeout time.Duration, logger logging.Logger) *ShellExecutor {
	return &ShellExecutor{ws: ws, defaultTimeout: defaultTimeout, logger: logging.OrNop(logger)}
}

func (e *ShellExecutor) Run(ctx context.Context, req ports.CommandRequest) (*ports.CommandResult, error) {
	command := strings.TrimSpace(req.Command)
	if command == "" {
		return nil, fmt.Errorf("command cannot be empty")
	}

	dir := e.ws.Root()
	if req.Dir != "" {
		resolved, err := e.ws.Resolve(req.Dir)
		if err != nil {
			return nil, err
		}
		dir = resolved
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "bash", "-c", command)
	cmd.Dir = dir
	if len(req.Env) > 0 {
		cmd.Env = append(cmd.Environ(), req.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("running %q in %s", command, dir)
	started := time.Now()
	runErr := cmd.Run()
	duration := time.Since(started)

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			exitCode = exitErr.ExitCode()
		case timedOut:
			exitCode = -1
		default:
			// The command never launched.
			return nil, runErr
		}
	}

	result := &ports.CommandResult{
		Command:  command,
		Dir:      dir,
		ExitCode: exitCode,
		Stdout:   capOutput(stdout.String()),
		Stderr:   capOutput(stderr.String()),
		Duration: duration,
		TimedOut: timedOut,
	}
	if timedOut {
		e.logger.Warn("command %q timed out after %s", command, timeout)
	}
	return result, nil
}

func capOutput(s string) string {
	if len(s) <= maxCapturedOutput {
		return s
	}
	return s[:maxCapturedOutput] + "\n... output truncated"
}
