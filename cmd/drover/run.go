package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"drover/internal/agent"
	"drover/internal/agent/ports"
	"drover/internal/approval"
	"drover/internal/observability"
	"drover/internal/script"
	"drover/pkg/types"
)

func newRunCommand(cli *CLI) *cobra.Command {
	var (
		scriptPath      string
		maxIterations   int
		autoApprove     bool
		approvalTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Drive a run to completion in the terminal",
		Long: `Drive a run to completion, prompting for every parked tool call.

The reasoning provider is a playbook file: a YAML or JSON list of
scripted thoughts, replayed one per iteration step.

Examples:
  drover run "fix the failing test" --script plan.yaml
  drover run "apply the refactor" -s plan.yaml --auto-approve`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}
			defer cli.close()

			pb, err := script.Load(scriptPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			co, err := cli.buildCollaborators(ctx)
			if err != nil {
				return err
			}
			defer co.shutdown(context.Background(), cli)

			iterations := maxIterations
			if iterations <= 0 {
				iterations = cli.cfg.Agent.MaxIterations
			}

			runner, err := agent.New(strings.Join(args, " "), iterations, agent.Collaborators{
				Provider: script.NewProvider(pb),
				Gateway:  co.gate,
				Pipeline: co.pipeline,
				Executor: co.executor,
				Parser:   co.parser,
				Events:   co.events,
				Logger:   cli.logger,
			}, agent.WithTokenBudget(cli.cfg.Agent.TokenBudget))
			if err != nil {
				return err
			}

			if !autoApprove && approvalTimeout == 0 && !isTTY() {
				cli.logger.Warn("stdin is not a TTY; parked approvals cannot be prompted interactively")
			}

			approver := approval.NewTerminal(approvalTimeout, autoApprove)
			return cli.driveRun(ctx, co, runner, approver)
		},
	}

	cmd.Flags().StringVarP(&scriptPath, "script", "s", "", "Playbook standing in for the reasoning provider (required)")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Override agent.max_iterations")
	cmd.Flags().BoolVarP(&autoApprove, "auto-approve", "y", false, "Approve parked tool calls without prompting")
	cmd.Flags().DurationVar(&approvalTimeout, "approval-timeout", 0, "Deny parked calls after this long (0 waits forever)")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

// driveRun advances the run until it finishes, resolving parked
// approvals through the approver and persisting every snapshot.
func (c *CLI) driveRun(ctx context.Context, co *collaborators, runner *agent.Runner, approver ports.ApprovalSurface) error {
	snap, err := runner.Start(ctx)
	if err != nil {
		return err
	}
	c.persist(ctx, co, snap)

	fmt.Printf("%s %s\n", bold("Run"), blue(snap.ID))
	fmt.Printf("%s %s\n\n", bold("Goal"), snap.Goal)

	printer := &runPrinter{lastIteration: -1}
	printer.print(snap)

	for {
		if ctx.Err() != nil {
			snap, _ = runner.Stop()
			c.persist(context.Background(), co, snap)
			printer.print(snap)
			return errors.New("interrupted")
		}

		spanCtx, span := co.tracer.StartSpan(ctx, observability.SpanRunAdvance, observability.RunAttrs(runner.ID())...)
		snap, err = runner.Advance(spanCtx)
		if err != nil && !types.IsPending(err) {
			span.SetAttributes(observability.ErrorAttrs(err)...)
		}
		span.SetAttributes(observability.StatusAttrs(string(snap.Status))...)
		span.End()

		c.persist(ctx, co, snap)
		printer.print(snap)

		var pending *types.PendingApprovalError
		if errors.As(err, &pending) {
			snap, err = c.resolveApproval(ctx, co, runner, approver, pending)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					snap, _ = runner.Stop()
					c.persist(context.Background(), co, snap)
					return errors.New("interrupted")
				}
				return err
			}
			c.persist(ctx, co, snap)
			printer.printResolution(snap, pending.ApprovalID)
			continue
		}
		if snap.Status.Terminal() {
			break
		}
		if err != nil {
			return err
		}
	}
	return c.printOutcome(snap)
}

func (c *CLI) resolveApproval(ctx context.Context, co *collaborators, runner *agent.Runner, approver ports.ApprovalSurface, pending *types.PendingApprovalError) (types.AgentRun, error) {
	record, ok := co.gate.Approval(pending.ApprovalID)
	if !ok {
		return runner.Snapshot(), fmt.Errorf("approval %s is gone from the gateway", pending.ApprovalID)
	}

	resp, err := approver.RequestApproval(ctx, approval.RequestFromPending(record))
	if err != nil {
		return runner.Snapshot(), err
	}
	decidedBy := resp.DecidedBy
	if decidedBy == "" {
		decidedBy = "user"
	}

	switch resp.Action {
	case ports.ApprovalApprove:
		return runner.Approve(ctx, pending.ApprovalID, decidedBy)
	case ports.ApprovalAlwaysAllow:
		return runner.AlwaysAllow(ctx, pending.ApprovalID, decidedBy)
	default:
		return runner.Deny(ctx, pending.ApprovalID, decidedBy)
	}
}

func (c *CLI) persist(ctx context.Context, co *collaborators, snap types.AgentRun) {
	if err := co.store.Save(ctx, snap); err != nil {
		c.logger.Warn("failed to persist run %s: %v", snap.ID, err)
	}
}

func (c *CLI) printOutcome(run types.AgentRun) error {
	fmt.Println()
	switch run.Status {
	case types.RunCompleted:
		answer := finalAnswer(run)
		if answer == "" {
			answer = "goal reached"
		}
		fmt.Printf("%s %s\n", green(bold("Completed")), answer)
		return nil
	case types.RunFailed:
		return fmt.Errorf("run %s failed: %s", run.ID, failureReason(run))
	default:
		fmt.Printf("run %s is %s\n", run.ID, run.Status)
		return nil
	}
}

func finalAnswer(run types.AgentRun) string {
	for i := len(run.Iterations) - 1; i >= 0; i-- {
		steps := run.Iterations[i].Steps
		for j := len(steps) - 1; j >= 0; j-- {
			switch {
			case steps[j].Done != nil:
				return steps[j].Done.Answer
			case steps[j].Evaluate != nil && steps[j].Evaluate.GoalMet:
				return steps[j].Evaluate.Summary
			}
		}
	}
	return ""
}

func failureReason(run types.AgentRun) string {
	for i := len(run.Iterations) - 1; i >= 0; i-- {
		steps := run.Iterations[i].Steps
		for j := len(steps) - 1; j >= 0; j-- {
			if steps[j].Error != nil {
				return steps[j].Error.Message
			}
		}
	}
	return "no error step recorded"
}

// runPrinter renders steps as they appear, announcing new iterations.
type runPrinter struct {
	printed       int
	lastIteration int
}

func (p *runPrinter) print(run types.AgentRun) {
	seen := 0
	for _, iter := range run.Iterations {
		for i := range iter.Steps {
			seen++
			if seen <= p.printed {
				continue
			}
			if iter.Index != p.lastIteration {
				fmt.Println(gray(fmt.Sprintf("-- iteration %d --", iter.Index+1)))
				p.lastIteration = iter.Index
			}
			fmt.Println(stepLine(iter.Steps[i]))
		}
	}
	p.printed = seen
}

// printResolution re-renders the parked step mutated by a decision; the
// step count does not change, so print would skip it.
func (p *runPrinter) printResolution(run types.AgentRun, approvalID string) {
	for _, iter := range run.Iterations {
		for i := range iter.Steps {
			step := iter.Steps[i]
			if step.Kind == types.StepToolCall && step.ToolCall != nil && step.ToolCall.ApprovalID == approvalID {
				fmt.Println(stepLine(step))
			}
		}
	}
	p.print(run)
}

func stepLine(step types.Step) string {
	switch step.Kind {
	case types.StepThink:
		return fmt.Sprintf("  %s %s", yellow("think"), step.Think.Text)
	case types.StepToolCall:
		return toolCallLine(step.ToolCall)
	case types.StepPatch:
		return patchLine(step.Patch)
	case types.StepRun:
		return runLine(step.Run)
	case types.StepEvaluate:
		if step.Evaluate.GoalMet {
			return fmt.Sprintf("  %s %s", green("goal met"), step.Evaluate.Summary)
		}
		return fmt.Sprintf("  %s %s", yellow("not yet"), step.Evaluate.Summary)
	case types.StepDone:
		return fmt.Sprintf("  %s %s", green("done"), step.Done.Answer)
	case types.StepError:
		return fmt.Sprintf("  %s %s", red(step.Error.Class), step.Error.Message)
	default:
		return fmt.Sprintf("  %s", gray(string(step.Kind)))
	}
}

func toolCallLine(tc *types.ToolCallStep) string {
	name := cyan(tc.Call.Name)
	switch tc.Status {
	case types.ToolCallExecuted:
		detail := ""
		if tc.Result != nil {
			detail = firstLine(tc.Result.Content)
		}
		return fmt.Sprintf("  %s %s %s", name, green("ok"), gray(detail))
	case types.ToolCallDenied:
		return fmt.Sprintf("  %s %s %s", name, red("denied"), gray(tc.Error))
	case types.ToolCallPendingApproval:
		return fmt.Sprintf("  %s %s", name, yellow("awaiting approval"))
	case types.ToolCallFailed:
		return fmt.Sprintf("  %s %s %s", name, red("failed"), gray(tc.Error))
	default:
		return fmt.Sprintf("  %s %s", name, gray(string(tc.Status)))
	}
}

func patchLine(p *types.PatchStep) string {
	switch p.Outcome {
	case types.PatchApplied:
		return fmt.Sprintf("  %s %s %s", cyan("patch"), green("applied"),
			gray(fmt.Sprintf("%d files, +%d -%d", len(p.Changes), p.Added, p.Removed)))
	case types.PatchCancelled:
		return fmt.Sprintf("  %s %s %s", cyan("patch"), yellow("cancelled"), gray(p.Error))
	default:
		return fmt.Sprintf("  %s %s %s", cyan("patch"), red("failed"), gray(p.Error))
	}
}

func runLine(r *types.RunStep) string {
	if r.TimedOut {
		return fmt.Sprintf("  %s %s %s", cyan("run"), red("timed out"), gray(r.Command))
	}
	if r.ExitCode == 0 {
		return fmt.Sprintf("  %s %s %s", cyan("run"), green("exit 0"), gray(r.Command))
	}
	return fmt.Sprintf("  %s %s %s", cyan("run"), red(fmt.Sprintf("exit %d", r.ExitCode)), gray(r.Command))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
