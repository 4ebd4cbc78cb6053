package ports

import (
	"context"
	"time"
)

// CommandExecutor runs shell commands on behalf of the agent.
type CommandExecutor interface {
	// Run executes the command and returns its captured outcome. A
	// non-zero exit code is reported in the result, not as an error;
	// errors are reserved for failures to launch or deliver the command.
	Run(ctx context.Context, req CommandRequest) (*CommandResult, error)
}

// CommandRequest describes one command execution.
type CommandRequest struct {
	Command string        `json:"command"`
	Dir     string        `json:"dir,omitempty"`
	Env     []string      `json:"env,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// CommandResult captures what the command did.
type CommandResult struct {
	Command  string        `json:"command"`
	Dir      string        `json:"dir,omitempty"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out,omitempty"`
}
