package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"drover/pkg/types"
)

func TestBuildTranscriptKeepsStepOrder(t *testing.T) {
	t.Parallel()

	run := types.AgentRun{Iterations: []types.Iteration{
		{Index: 0, Steps: []types.Step{
			{Kind: types.StepThink, Think: &types.ThinkStep{Text: "look at the failing test"}},
			{Kind: types.StepToolCall, ToolCall: &types.ToolCallStep{
				Call:   types.ToolCall{Name: "read_file"},
				Status: types.ToolCallExecuted,
				Result: &types.ToolResult{Content: "package main"},
			}},
			{Kind: types.StepEvaluate, Evaluate: &types.EvaluateStep{GoalMet: false, Summary: "not yet"}},
		}},
		{Index: 1, Steps: []types.Step{
			{Kind: types.StepPatch, Patch: &types.PatchStep{
				Outcome: types.PatchApplied, Added: 2, Removed: 1,
				Changes: []types.ChangeSummary{{Path: "main.go", Kind: "modified"}},
			}},
			{Kind: types.StepRun, Run: &types.RunStep{Command: "go test", ExitCode: 0, Stdout: "ok"}},
			{Kind: types.StepDone, Done: &types.DoneStep{Answer: "fixed"}},
		}},
	}}

	entries := buildTranscript(run, 0)
	require.Len(t, entries, 6)

	require.Equal(t, "think", entries[0].Kind)
	require.Equal(t, "look at the failing test", entries[0].Summary)
	require.Contains(t, entries[1].Summary, "tool read_file executed")
	require.Contains(t, entries[1].Summary, "package main")
	require.Equal(t, "goal not met: not yet", entries[2].Summary)
	require.Equal(t, "patch applied (+2 -1): main.go", entries[3].Summary)
	require.Equal(t, `ran "go test" exit 0: ok`, entries[4].Summary)
	require.Equal(t, "done: fixed", entries[5].Summary)

	for _, entry := range entries {
		require.Positive(t, entry.Tokens)
	}
}

func TestBuildTranscriptBudgetKeepsNewest(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("alpha beta gamma delta ", 50)
	run := types.AgentRun{Iterations: []types.Iteration{{Index: 0, Steps: []types.Step{
		{Kind: types.StepThink, Think: &types.ThinkStep{Text: long}},
		{Kind: types.StepThink, Think: &types.ThinkStep{Text: "short note"}},
		{Kind: types.StepThink, Think: &types.ThinkStep{Text: "final step"}},
	}}}}

	all := buildTranscript(run, 0)
	require.Len(t, all, 3)

	trimmed := buildTranscript(run, 40)
	require.Len(t, trimmed, 2)
	require.Equal(t, "short note", trimmed[0].Summary)
	require.Equal(t, "final step", trimmed[1].Summary)

	roomy := buildTranscript(run, 1_000_000)
	require.Len(t, roomy, 3)

	// A budget too small for even the newest entry yields nothing.
	require.Empty(t, buildTranscript(run, 1))
}

func TestSummarizeToolCallStates(t *testing.T) {
	t.Parallel()

	pending := summarizeStep(types.Step{Kind: types.StepToolCall, ToolCall: &types.ToolCallStep{
		Call:       types.ToolCall{Name: "run_command"},
		Status:     types.ToolCallPendingApproval,
		ApprovalID: "appr_1",
	}})
	require.Equal(t, "tool run_command pending_approval (awaiting appr_1)", pending.Summary)

	denied := summarizeStep(types.Step{Kind: types.StepToolCall, ToolCall: &types.ToolCallStep{
		Call:   types.ToolCall{Name: "write_file"},
		Status: types.ToolCallDenied,
		Error:  "denied by rule no-writes",
	}})
	require.Equal(t, "tool write_file denied: denied by rule no-writes", denied.Summary)

	executed := summarizeStep(types.Step{Kind: types.StepToolCall, ToolCall: &types.ToolCallStep{
		Call:   types.ToolCall{Name: "read_file"},
		Status: types.ToolCallExecuted,
	}})
	require.Equal(t, "tool read_file executed", executed.Summary)
}

func TestSummarizeRunPrefersStderrOnFailure(t *testing.T) {
	t.Parallel()

	failed := summarizeStep(types.Step{Kind: types.StepRun, Run: &types.RunStep{
		Command:  "go test ./...",
		ExitCode: 1,
		Stdout:   "=== RUN TestGreeter",
		Stderr:   "FAIL: TestGreeter",
	}})
	require.Contains(t, failed.Summary, "exit 1")
	require.Contains(t, failed.Summary, "FAIL: TestGreeter")
	require.NotContains(t, failed.Summary, "=== RUN")

	timedOut := summarizeStep(types.Step{Kind: types.StepRun, Run: &types.RunStep{
		Command:  "sleep 60",
		ExitCode: -1,
		TimedOut: true,
	}})
	require.Contains(t, timedOut.Summary, "(timed out)")
}

func TestSummarizeErrorStep(t *testing.T) {
	t.Parallel()

	entry := summarizeStep(types.Step{Kind: types.StepError, Error: &types.ErrorStep{
		Message: "provider unreachable",
		Class:   types.ErrorClassFatal,
		Fatal:   true,
	}})
	require.Equal(t, "error (fatal): provider unreachable", entry.Summary)
}
