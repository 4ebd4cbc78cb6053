package ports

import (
	"context"

	"drover/pkg/types"
)

// ReasoningProvider produces the next thought for a run. Implementations
// wrap an LLM, a scripted plan, or anything else that can decide what the
// agent should do next.
type ReasoningProvider interface {
	// Think inspects the run context and returns the next thought.
	Think(ctx context.Context, req ThinkRequest) (*Thought, error)
}

// ThinkRequest carries everything a provider may consult when reasoning.
type ThinkRequest struct {
	RunID      string            `json:"run_id"`
	Goal       string            `json:"goal"`
	Iteration  int               `json:"iteration"`
	Transcript []TranscriptEntry `json:"transcript,omitempty"`
	// TokenBudget caps the rendered transcript size; zero means unbounded.
	TokenBudget int `json:"token_budget,omitempty"`
}

// TranscriptEntry summarizes one prior step for the provider.
type TranscriptEntry struct {
	Kind    string `json:"kind"`
	Summary string `json:"summary"`
	Tokens  int    `json:"tokens,omitempty"`
}

// Thought is the provider's answer: reasoning text plus at most one next
// action. The runner consults the action fields in declaration order and
// performs the first one set; a thought with no action at all records its
// text as a plain reasoning step.
type Thought struct {
	Text       string            `json:"text"`
	TokensUsed int               `json:"tokens_used,omitempty"`
	ToolCalls  []types.ToolCall  `json:"tool_calls,omitempty"`
	Patch      *PatchAction      `json:"patch,omitempty"`
	Run        *RunAction        `json:"run,omitempty"`
	Done       *DoneAction       `json:"done,omitempty"`
	Evaluation *EvaluationAction `json:"evaluation,omitempty"`
}

// PatchAction asks the runner to apply a unified diff, optionally chasing
// it with a command run.
type PatchAction struct {
	Diff     string `json:"diff"`
	RunAfter string `json:"run_after,omitempty"`
	Dir      string `json:"dir,omitempty"`
}

// RunAction asks the runner to execute a command.
type RunAction struct {
	Command string `json:"command"`
	Dir     string `json:"dir,omitempty"`
}

// EvaluationAction reports whether the provider believes the goal is met.
type EvaluationAction struct {
	GoalMet bool   `json:"goal_met"`
	Summary string `json:"summary,omitempty"`
}

// DoneAction ends the run successfully with a final answer.
type DoneAction struct {
	Answer string `json:"answer,omitempty"`
}
