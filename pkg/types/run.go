package types

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of an agent run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no transition can leave the status.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

var runTransitions = map[RunStatus][]RunStatus{
	RunQueued:  {RunRunning},
	RunRunning: {RunPaused, RunCompleted, RunFailed},
	RunPaused:  {RunRunning, RunFailed},
}

// CanTransition reports whether moving from s to next is a legal status
// change. Illegal transitions are programming errors; callers surface
// them instead of coercing the status.
func (s RunStatus) CanTransition(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StepKind discriminates the payload carried by a step.
type StepKind string

const (
	StepThink    StepKind = "think"
	StepToolCall StepKind = "tool_call"
	StepPatch    StepKind = "patch"
	StepRun      StepKind = "run"
	StepEvaluate StepKind = "evaluate"
	StepDone     StepKind = "done"
	StepError    StepKind = "error"
)

// ToolCallStatus tracks a tool_call step through its lifecycle. Each
// stage is entered at most once.
type ToolCallStatus string

const (
	ToolCallProposed        ToolCallStatus = "proposed"
	ToolCallPendingApproval ToolCallStatus = "pending_approval"
	ToolCallExecuted        ToolCallStatus = "executed"
	ToolCallDenied          ToolCallStatus = "denied"
	ToolCallFailed          ToolCallStatus = "failed"
)

var toolCallTransitions = map[ToolCallStatus][]ToolCallStatus{
	ToolCallProposed:        {ToolCallPendingApproval, ToolCallExecuted, ToolCallDenied, ToolCallFailed},
	ToolCallPendingApproval: {ToolCallExecuted, ToolCallDenied, ToolCallFailed},
}

// PatchOutcome is the fate of a patch step.
type PatchOutcome string

const (
	PatchApplied   PatchOutcome = "applied"
	PatchFailed    PatchOutcome = "failed"
	PatchCancelled PatchOutcome = "cancelled"
)

// Error step classes.
const (
	ErrorClassIterationLimit = "iteration_limit"
	ErrorClassStopped        = "stopped"
	ErrorClassFatal          = "fatal"
)

// ThinkStep records one reasoning turn.
type ThinkStep struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used,omitempty"`
}

// ToolCallStep records a tool call and its way through the gateway.
type ToolCallStep struct {
	Call       ToolCall       `json:"call"`
	Status     ToolCallStatus `json:"status"`
	ApprovalID string         `json:"approval_id,omitempty"`
	RuleID     string         `json:"rule_id,omitempty"`
	Result     *ToolResult    `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Transition moves the step to next, refusing revisits and every other
// illegal move.
func (s *ToolCallStep) Transition(next ToolCallStatus) error {
	for _, allowed := range toolCallTransitions[s.Status] {
		if allowed == next {
			s.Status = next
			return nil
		}
	}
	return fmt.Errorf("illegal tool call transition from %s to %s", s.Status, next)
}

// ChangeSummary names one file touched by a patch.
type ChangeSummary struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

// PatchStep records a diff application attempt.
type PatchStep struct {
	Diff    string          `json:"diff"`
	Outcome PatchOutcome    `json:"outcome"`
	Changes []ChangeSummary `json:"changes,omitempty"`
	Added   int             `json:"added"`
	Removed int             `json:"removed"`
	Error   string          `json:"error,omitempty"`
}

// RunStep records one command execution.
type RunStep struct {
	Command  string `json:"command"`
	Dir      string `json:"dir,omitempty"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// EvaluateStep records the provider's verdict on the goal.
type EvaluateStep struct {
	GoalMet bool   `json:"goal_met"`
	Summary string `json:"summary,omitempty"`
}

// DoneStep ends the run successfully.
type DoneStep struct {
	Answer string `json:"answer,omitempty"`
}

// ErrorStep records a failure. Fatal errors end the run.
type ErrorStep struct {
	Message string `json:"message"`
	Class   string `json:"class"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// Step is one entry in an iteration. Exactly one payload field matching
// Kind is populated.
type Step struct {
	Kind       StepKind  `json:"kind"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Think    *ThinkStep    `json:"think,omitempty"`
	ToolCall *ToolCallStep `json:"tool_call,omitempty"`
	Patch    *PatchStep    `json:"patch,omitempty"`
	Run      *RunStep      `json:"run,omitempty"`
	Evaluate *EvaluateStep `json:"evaluate,omitempty"`
	Done     *DoneStep     `json:"done,omitempty"`
	Error    *ErrorStep    `json:"error,omitempty"`
}

// Clone returns a deep copy of the step, payload included.
func (s Step) Clone() Step {
	return cloneStep(s)
}

// Terminal reports whether the step ends the run.
func (s Step) Terminal() bool {
	switch s.Kind {
	case StepDone:
		return true
	case StepError:
		return s.Error != nil && s.Error.Fatal
	}
	return false
}

// Iteration is one pass of the think-act-observe cycle.
type Iteration struct {
	Index int    `json:"index"`
	Steps []Step `json:"steps"`
}

// AgentRun is the complete record of one agent run. Iterations and steps
// are append-only; indices are contiguous from zero.
type AgentRun struct {
	ID            string      `json:"id"`
	Goal          string      `json:"goal"`
	Status        RunStatus   `json:"status"`
	Iterations    []Iteration `json:"iterations"`
	MaxIterations int         `json:"max_iterations"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// StepCount returns the total number of steps across all iterations.
func (r AgentRun) StepCount() int {
	total := 0
	for _, iter := range r.Iterations {
		total += len(iter.Steps)
	}
	return total
}

// Clone returns a copy safe for concurrent reads while the original keeps
// mutating. Step payloads are copied; values inside tool results are not
// mutated after the fact, so sharing them is safe.
func (r AgentRun) Clone() AgentRun {
	out := r
	out.Iterations = make([]Iteration, len(r.Iterations))
	for i, iter := range r.Iterations {
		cloned := iter
		cloned.Steps = make([]Step, len(iter.Steps))
		for j, step := range iter.Steps {
			cloned.Steps[j] = cloneStep(step)
		}
		out.Iterations[i] = cloned
	}
	return out
}

func cloneStep(s Step) Step {
	if s.Think != nil {
		v := *s.Think
		s.Think = &v
	}
	if s.ToolCall != nil {
		v := *s.ToolCall
		v.Call.Arguments = cloneArguments(v.Call.Arguments)
		if v.Result != nil {
			rv := *v.Result
			v.Result = &rv
		}
		s.ToolCall = &v
	}
	if s.Patch != nil {
		v := *s.Patch
		v.Changes = append([]ChangeSummary(nil), v.Changes...)
		s.Patch = &v
	}
	if s.Run != nil {
		v := *s.Run
		s.Run = &v
	}
	if s.Evaluate != nil {
		v := *s.Evaluate
		s.Evaluate = &v
	}
	if s.Done != nil {
		v := *s.Done
		s.Done = &v
	}
	if s.Error != nil {
		v := *s.Error
		s.Error = &v
	}
	return s
}

func cloneArguments(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
