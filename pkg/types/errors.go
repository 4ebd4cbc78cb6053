package types

import (
	"errors"
	"fmt"
)

// IterationLimitMessage is the message recorded on the terminal error step
// when a run exhausts its iteration budget.
const IterationLimitMessage = "iteration limit exceeded"

// PermissionDeniedError reports a tool call rejected by a hook rule.
type PermissionDeniedError struct {
	Tool   string
	RuleID string
}

func (e *PermissionDeniedError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("permission denied: tool %q rejected by rule %q", e.Tool, e.RuleID)
	}
	return fmt.Sprintf("permission denied: tool %q rejected", e.Tool)
}

// PendingApprovalError reports a tool call parked for human approval. The
// run stalls until the approval is resolved through the runner API.
type PendingApprovalError struct {
	ApprovalID string
	Tool       string
}

func (e *PendingApprovalError) Error() string {
	return fmt.Sprintf("tool %q awaiting approval %s", e.Tool, e.ApprovalID)
}

// PatchParseError reports malformed unified diff input.
type PatchParseError struct {
	Line   int
	Reason string
}

func (e *PatchParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("patch parse error at line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("patch parse error: %s", e.Reason)
}

// PatchConflictError reports a hunk whose context no longer matches the
// current file content. Nothing is written when any hunk conflicts.
type PatchConflictError struct {
	Path   string
	Hunk   int
	Reason string
}

func (e *PatchConflictError) Error() string {
	if e.Hunk > 0 {
		return fmt.Sprintf("patch conflict in %s (hunk %d): %s", e.Path, e.Hunk, e.Reason)
	}
	return fmt.Sprintf("patch conflict in %s: %s", e.Path, e.Reason)
}

// ToolExecutionError reports a tool that was permitted but failed to run.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q execution failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// IterationLimitError reports a run that hit its iteration cap before
// reaching a done step.
type IterationLimitError struct {
	Limit int
}

func (e *IterationLimitError) Error() string {
	return IterationLimitMessage
}

// FatalError reports an unrecoverable run failure, such as a reasoning
// provider outage or an internal invariant violation.
type FatalError struct {
	Phase string
	Err   error
}

func (e *FatalError) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("fatal agent error during %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("fatal agent error: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether the run can continue after the error. A
// denied or failed tool call feeds back into the next reasoning turn; the
// remaining taxonomy ends the run.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}

	var denied *PermissionDeniedError
	if errors.As(err, &denied) {
		return true
	}

	var execErr *ToolExecutionError
	if errors.As(err, &execErr) {
		return true
	}

	return false
}

// IsTerminal reports whether the error must end the run in a failed state.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}

	var limit *IterationLimitError
	if errors.As(err, &limit) {
		return true
	}

	var fatal *FatalError
	return errors.As(err, &fatal)
}

// IsPending reports whether the error marks a stalled run waiting on a
// human decision rather than a failure.
func IsPending(err error) bool {
	if err == nil {
		return false
	}
	var pending *PendingApprovalError
	return errors.As(err, &pending)
}
