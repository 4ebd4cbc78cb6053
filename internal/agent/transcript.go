package agent

import (
	"fmt"
	"strings"

	"drover/internal/agent/ports"
	tokenutil "drover/internal/shared/token"
	"drover/pkg/types"
)

// resultExcerptTokens bounds how much of a tool result or command output
// makes it into the transcript.
const resultExcerptTokens = 120

// buildTranscript summarizes the run's steps for the reasoning provider,
// oldest first. With a positive budget the oldest entries are dropped
// until the remainder fits; the latest steps are what the provider most
// needs to see.
func buildTranscript(run types.AgentRun, budget int) []ports.TranscriptEntry {
	var entries []ports.TranscriptEntry
	for _, iter := range run.Iterations {
		for _, step := range iter.Steps {
			entries = append(entries, summarizeStep(step))
		}
	}
	if budget <= 0 {
		return entries
	}

	total := 0
	cut := len(entries)
	for i := len(entries) - 1; i >= 0; i-- {
		total += entries[i].Tokens
		if total > budget {
			break
		}
		cut = i
	}
	return entries[cut:]
}

func summarizeStep(step types.Step) ports.TranscriptEntry {
	summary := ""
	switch step.Kind {
	case types.StepThink:
		if step.Think != nil {
			summary = step.Think.Text
		}
	case types.StepToolCall:
		summary = summarizeToolCall(step.ToolCall)
	case types.StepPatch:
		summary = summarizePatch(step.Patch)
	case types.StepRun:
		summary = summarizeRun(step.Run)
	case types.StepEvaluate:
		if step.Evaluate != nil {
			verdict := "goal not met"
			if step.Evaluate.GoalMet {
				verdict = "goal met"
			}
			summary = joinNonEmpty(verdict, step.Evaluate.Summary)
		}
	case types.StepDone:
		if step.Done != nil {
			summary = joinNonEmpty("done", step.Done.Answer)
		}
	case types.StepError:
		if step.Error != nil {
			summary = fmt.Sprintf("error (%s): %s", step.Error.Class, step.Error.Message)
		}
	}

	return ports.TranscriptEntry{
		Kind:    string(step.Kind),
		Summary: summary,
		Tokens:  tokenutil.CountTokens(summary),
	}
}

func summarizeToolCall(tc *types.ToolCallStep) string {
	if tc == nil {
		return ""
	}
	head := fmt.Sprintf("tool %s %s", tc.Call.Name, tc.Status)

	switch tc.Status {
	case types.ToolCallExecuted:
		if tc.Result != nil && tc.Result.Content != "" {
			return head + ": " + tokenutil.TruncateToTokens(tc.Result.Content, resultExcerptTokens)
		}
	case types.ToolCallDenied, types.ToolCallFailed:
		if tc.Error != "" {
			return head + ": " + tc.Error
		}
	case types.ToolCallPendingApproval:
		return head + " (awaiting " + tc.ApprovalID + ")"
	}
	return head
}

func summarizePatch(p *types.PatchStep) string {
	if p == nil {
		return ""
	}
	paths := make([]string, 0, len(p.Changes))
	for _, change := range p.Changes {
		paths = append(paths, change.Path)
	}
	head := fmt.Sprintf("patch %s (+%d -%d)", p.Outcome, p.Added, p.Removed)
	if len(paths) > 0 {
		head += ": " + strings.Join(paths, ", ")
	}
	if p.Error != "" {
		head += ": " + p.Error
	}
	return head
}

func summarizeRun(r *types.RunStep) string {
	if r == nil {
		return ""
	}
	head := fmt.Sprintf("ran %q exit %d", r.Command, r.ExitCode)
	if r.TimedOut {
		head += " (timed out)"
	}
	output := r.Stdout
	if r.ExitCode != 0 && r.Stderr != "" {
		output = r.Stderr
	}
	if output != "" {
		head += ": " + tokenutil.TruncateToTokens(output, resultExcerptTokens)
	}
	return head
}

func joinNonEmpty(head, tail string) string {
	if tail == "" {
		return head
	}
	return head + ": " + tail
}
