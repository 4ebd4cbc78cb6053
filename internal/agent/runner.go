// Package agent drives autonomous runs through the think-act-observe
// cycle. The runner owns all run state behind a single lock; reasoning,
// tool execution, patching and command runs happen through collaborators
// passed in at construction.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"drover/internal/agent/ports"
	"drover/internal/gateway"
	"drover/internal/logging"
	"drover/internal/parser"
	"drover/internal/patch"
	"drover/internal/utils/id"
	"drover/pkg/types"
)

// Collaborators carries the runner's dependencies. Provider and Gateway
// are required; the others may be nil when the corresponding actions
// never occur.
type Collaborators struct {
	Provider ports.ReasoningProvider
	Gateway  *gateway.Gateway
	Pipeline *patch.Pipeline
	Executor ports.CommandExecutor
	Parser   *parser.Parser
	Events   *Broadcaster
	Logger   logging.Logger
}

// Option adjusts runner construction.
type Option func(*Runner)

// WithTokenBudget caps the transcript handed to the reasoning provider.
func WithTokenBudget(tokens int) Option {
	return func(r *Runner) { r.tokenBudget = tokens }
}

// stallPoint remembers which appended step waits on which approval.
type stallPoint struct {
	approvalID string
	tool       string
	iteration  int
	step       int
}

// Runner executes one agent run. All mutations happen under mu;
// Snapshot is safe from any goroutine. Collaborator calls are made
// without the lock so Pause and Stop stay responsive mid-step.
type Runner struct {
	provider    ports.ReasoningProvider
	gate        *gateway.Gateway
	pipeline    *patch.Pipeline
	executor    ports.CommandExecutor
	parser      *parser.Parser
	events      *Broadcaster
	logger      logging.Logger
	tokenBudget int

	mu             sync.Mutex
	run            types.AgentRun
	inFlight       bool
	pauseRequested bool
	stall          *stallPoint
	cancelInFlight context.CancelFunc
}

// New creates a queued run with zero iterations.
func New(goal string, maxIterations int, collab Collaborators, opts ...Option) (*Runner, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, errors.New("goal must not be empty")
	}
	if maxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be positive, got %d", maxIterations)
	}
	if collab.Provider == nil {
		return nil, errors.New("reasoning provider is required")
	}
	if collab.Gateway == nil {
		return nil, errors.New("tool call gateway is required")
	}

	now := time.Now()
	r := &Runner{
		provider: collab.Provider,
		gate:     collab.Gateway,
		pipeline: collab.Pipeline,
		executor: collab.Executor,
		parser:   collab.Parser,
		events:   collab.Events,
		logger:   logging.OrNop(collab.Logger),
		run: types.AgentRun{
			ID:            id.NewRunID(),
			Goal:          goal,
			Status:        types.RunQueued,
			MaxIterations: maxIterations,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ID returns the run identifier.
func (r *Runner) ID() string {
	return r.run.ID
}

// Snapshot returns a copy of the run safe for concurrent reads.
func (r *Runner) Snapshot() types.AgentRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run.Clone()
}

// PendingApprovalID returns the approval the run is stalled on, if any.
func (r *Runner) PendingApprovalID() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stall == nil {
		return "", false
	}
	return r.stall.approvalID, true
}

// Start moves the run from queued to running and begins iteration 0.
func (r *Runner) Start(ctx context.Context) (types.AgentRun, error) {
	_ = ctx
	r.mu.Lock()
	if r.run.Status != types.RunQueued {
		snap := r.run.Clone()
		r.mu.Unlock()
		return snap, fmt.Errorf("run %s cannot start from %s", snap.ID, snap.Status)
	}
	if err := r.transitionLocked(types.RunRunning); err != nil {
		snap := r.run.Clone()
		r.mu.Unlock()
		return snap, err
	}
	r.run.Iterations = append(r.run.Iterations, types.Iteration{Index: 0})
	snap := r.run.Clone()
	r.mu.Unlock()

	r.logger.Info("run %s started: %s", snap.ID, snap.Goal)
	r.emit(
		Event{Type: EventRunStarted, Goal: snap.Goal, Status: types.RunRunning},
		Event{Type: EventIterationStarted, Iteration: 0},
	)
	return snap, nil
}

// Advance asks the provider to think and performs whatever the thought
// requires, appending the resulting step or steps. Recoverable setbacks
// (denied tools, failed patches, non-zero exits) are recorded in steps
// and return a nil error; the provider observes them on the next turn.
func (r *Runner) Advance(ctx context.Context) (types.AgentRun, error) {
	r.mu.Lock()
	if r.run.Status != types.RunRunning {
		snap := r.run.Clone()
		r.mu.Unlock()
		return snap, fmt.Errorf("run %s is %s, cannot advance", snap.ID, snap.Status)
	}
	if r.stall != nil {
		pending := &types.PendingApprovalError{ApprovalID: r.stall.approvalID, Tool: r.stall.tool}
		snap := r.run.Clone()
		r.mu.Unlock()
		return snap, pending
	}
	if r.inFlight {
		snap := r.run.Clone()
		r.mu.Unlock()
		return snap, errors.New("advance already in flight")
	}

	newIteration := false
	if iterationConcluded(r.run.Iterations[len(r.run.Iterations)-1]) {
		if len(r.run.Iterations) >= r.run.MaxIterations {
			return r.failIterationLimitLocked()
		}
		r.run.Iterations = append(r.run.Iterations, types.Iteration{Index: len(r.run.Iterations)})
		newIteration = true
	}
	iterIndex := len(r.run.Iterations) - 1

	req := ports.ThinkRequest{
		RunID:       r.run.ID,
		Goal:        r.run.Goal,
		Iteration:   iterIndex,
		Transcript:  buildTranscript(r.run, r.tokenBudget),
		TokenBudget: r.tokenBudget,
	}
	advanceCtx, cancel := context.WithCancel(ctx)
	r.inFlight = true
	r.cancelInFlight = cancel
	maxIterations := r.run.MaxIterations
	r.mu.Unlock()
	defer cancel()

	if newIteration {
		r.emit(Event{Type: EventIterationStarted, Iteration: iterIndex})
	}
	r.logger.Info("run %s iteration %d/%d: thinking with %d transcript entries",
		req.RunID, iterIndex+1, maxIterations, len(req.Transcript))

	thought, err := r.provider.Think(advanceCtx, req)
	if err != nil {
		return r.finishFatal("think", err)
	}
	if thought == nil {
		return r.finishFatal("think", errors.New("provider returned no thought"))
	}
	return r.performThought(advanceCtx, thought)
}

// failIterationLimitLocked is called with mu held when a new iteration
// would begin past the cap. It releases the lock.
func (r *Runner) failIterationLimitLocked() (types.AgentRun, error) {
	limit := r.run.MaxIterations
	step := errorStep(types.IterationLimitMessage, types.ErrorClassIterationLimit)
	iterIdx, _ := r.appendStepLocked(step)
	_ = r.transitionLocked(types.RunFailed)
	snap := r.run.Clone()
	r.mu.Unlock()

	r.logger.Warn("run %s exhausted its %d iterations", snap.ID, limit)
	r.emit(
		stepEvent(iterIdx, step),
		Event{Type: EventRunFinished, Status: types.RunFailed},
	)
	return snap, &types.IterationLimitError{Limit: limit}
}

// performThought routes the thought to the action it requires.
func (r *Runner) performThought(ctx context.Context, thought *ports.Thought) (types.AgentRun, error) {
	toolCalls := thought.ToolCalls
	narration := strings.TrimSpace(thought.Text) != ""
	if len(toolCalls) == 0 && narration && r.parser != nil {
		if extracted := r.parser.Parse(thought.Text); len(extracted) > 0 {
			// The text was the carrier for inline calls, not narration.
			toolCalls = extracted
			narration = false
		}
	}

	var pre []types.Step
	if narration && (len(toolCalls) > 0 || thought.Patch != nil || thought.Run != nil) {
		pre = append(pre, thinkStep(thought))
	}

	switch {
	case len(toolCalls) > 0:
		return r.performToolCalls(ctx, pre, toolCalls)
	case thought.Patch != nil:
		return r.performPatch(ctx, pre, thought.Patch)
	case thought.Run != nil:
		return r.conclude(append(pre, r.executeCommand(ctx, thought.Run.Command, thought.Run.Dir)), nil, nil)
	case thought.Done != nil:
		answer := thought.Done.Answer
		if answer == "" {
			answer = thought.Text
		}
		now := time.Now()
		step := types.Step{Kind: types.StepDone, StartedAt: now, FinishedAt: now, Done: &types.DoneStep{Answer: answer}}
		return r.conclude([]types.Step{step}, nil, nil)
	case thought.Evaluation != nil:
		now := time.Now()
		step := types.Step{
			Kind: types.StepEvaluate, StartedAt: now, FinishedAt: now,
			Evaluate: &types.EvaluateStep{GoalMet: thought.Evaluation.GoalMet, Summary: thought.Evaluation.Summary},
		}
		return r.conclude([]types.Step{step}, nil, nil)
	default:
		return r.conclude([]types.Step{thinkStep(thought)}, nil, nil)
	}
}

// performToolCalls proposes each call through the gateway in order. A
// parked call stalls the run; calls after it are dropped, the provider
// reissues them once the approval resolves.
func (r *Runner) performToolCalls(ctx context.Context, pre []types.Step, toolCalls []types.ToolCall) (types.AgentRun, error) {
	steps := pre
	var parked *types.PendingApprovalError
	for i := range toolCalls {
		call := toolCalls[i]
		if call.ID == "" {
			call.ID = id.NewCallID()
		}
		call.RunID = r.run.ID

		step, pending := r.executeToolCall(ctx, call)
		steps = append(steps, step)
		if pending != nil {
			parked = pending
			break
		}
	}
	return r.conclude(steps, parked, parkedErr(parked))
}

func parkedErr(parked *types.PendingApprovalError) error {
	if parked == nil {
		return nil
	}
	return parked
}

func (r *Runner) executeToolCall(ctx context.Context, call types.ToolCall) (types.Step, *types.PendingApprovalError) {
	tc := &types.ToolCallStep{Call: call, Status: types.ToolCallProposed}
	step := types.Step{Kind: types.StepToolCall, StartedAt: time.Now(), ToolCall: tc}

	if r.parser != nil {
		if err := r.parser.Validate(call); err != nil {
			_ = tc.Transition(types.ToolCallFailed)
			tc.Error = err.Error()
			step.FinishedAt = time.Now()
			r.logger.Warn("tool call %s rejected before the gateway: %v", call.Name, err)
			return step, nil
		}
	}

	outcome, err := r.gate.Propose(ctx, call)
	if outcome != nil && outcome.Rule != nil {
		tc.RuleID = outcome.Rule.ID
	}

	var pendingErr *types.PendingApprovalError
	var deniedErr *types.PermissionDeniedError
	var execErr *types.ToolExecutionError
	switch {
	case err == nil:
		_ = tc.Transition(types.ToolCallExecuted)
		if outcome != nil {
			tc.Result = outcome.Result
		}
	case errors.As(err, &pendingErr):
		_ = tc.Transition(types.ToolCallPendingApproval)
		tc.ApprovalID = pendingErr.ApprovalID
		// FinishedAt stays zero until the approval resolves.
		return step, pendingErr
	case errors.As(err, &deniedErr):
		_ = tc.Transition(types.ToolCallDenied)
		tc.Error = err.Error()
	case errors.As(err, &execErr):
		_ = tc.Transition(types.ToolCallFailed)
		tc.Error = err.Error()
		if outcome != nil {
			tc.Result = outcome.Result
		}
	default:
		_ = tc.Transition(types.ToolCallFailed)
		tc.Error = err.Error()
	}
	step.FinishedAt = time.Now()
	return step, nil
}

// performPatch parses and applies the diff, chaining the follow-up
// command when one is requested. Patch and run outcomes are separate
// steps.
func (r *Runner) performPatch(ctx context.Context, pre []types.Step, action *ports.PatchAction) (types.AgentRun, error) {
	ps := &types.PatchStep{Diff: action.Diff}
	step := types.Step{Kind: types.StepPatch, StartedAt: time.Now(), Patch: ps}

	fail := func(reason string) (types.AgentRun, error) {
		ps.Outcome = types.PatchFailed
		ps.Error = reason
		step.FinishedAt = time.Now()
		r.logger.Warn("run %s patch failed: %s", r.run.ID, reason)
		return r.conclude(append(pre, step), nil, nil)
	}

	if r.pipeline == nil {
		return fail("no patch pipeline configured")
	}
	patches, err := patch.Parse(action.Diff)
	if err != nil {
		return fail(err.Error())
	}
	stats := patch.ComputeStats(patches)
	ps.Added = stats.Added
	ps.Removed = stats.Removed

	steps := pre
	if action.RunAfter == "" {
		changes, err := r.pipeline.Apply(ctx, patches)
		if err != nil {
			return fail(err.Error())
		}
		ps.Outcome = types.PatchApplied
		ps.Changes = changeSummaries(changes)
		step.FinishedAt = time.Now()
		steps = append(steps, step)
		return r.conclude(steps, nil, nil)
	}

	changes, result, err := r.pipeline.ApplyAndRun(ctx, patches, action.RunAfter, action.Dir)
	if changes == nil && err != nil {
		return fail(err.Error())
	}
	ps.Outcome = types.PatchApplied
	ps.Changes = changeSummaries(changes)
	step.FinishedAt = time.Now()
	steps = append(steps, step)

	rs := &types.RunStep{Command: action.RunAfter, Dir: action.Dir}
	runStep := types.Step{Kind: types.StepRun, StartedAt: step.FinishedAt, Run: rs}
	switch {
	case result != nil:
		rs.ExitCode = result.ExitCode
		rs.Stdout = result.Stdout
		rs.Stderr = result.Stderr
		rs.TimedOut = result.TimedOut
		if result.Dir != "" {
			rs.Dir = result.Dir
		}
	case err != nil:
		rs.ExitCode = -1
		rs.Stderr = err.Error()
	}
	runStep.FinishedAt = time.Now()
	steps = append(steps, runStep)
	return r.conclude(steps, nil, nil)
}

// executeCommand runs one command through the executor. Launch failures
// are recorded as exit -1 with the error on stderr; the run continues.
func (r *Runner) executeCommand(ctx context.Context, command, dir string) types.Step {
	rs := &types.RunStep{Command: command, Dir: dir}
	step := types.Step{Kind: types.StepRun, StartedAt: time.Now(), Run: rs}

	if r.executor == nil {
		rs.ExitCode = -1
		rs.Stderr = "no command executor configured"
		step.FinishedAt = time.Now()
		return step
	}

	result, err := r.executor.Run(ctx, ports.CommandRequest{Command: command, Dir: dir})
	switch {
	case err != nil:
		rs.ExitCode = -1
		rs.Stderr = err.Error()
		r.logger.Warn("run %s command %q failed to launch: %v", r.run.ID, command, err)
	case result != nil:
		rs.ExitCode = result.ExitCode
		rs.Stdout = result.Stdout
		rs.Stderr = result.Stderr
		rs.TimedOut = result.TimedOut
		if result.Dir != "" {
			rs.Dir = result.Dir
		}
	}
	step.FinishedAt = time.Now()
	return step
}

// conclude appends the produced steps under the lock, applies terminal
// transitions and a requested pause, then emits the collected events.
// When Stop already failed the run mid-step the steps are discarded.
func (r *Runner) conclude(steps []types.Step, parked *types.PendingApprovalError, retErr error) (types.AgentRun, error) {
	r.mu.Lock()
	r.inFlight = false
	r.cancelInFlight = nil
	if r.run.Status.Terminal() {
		snap := r.run.Clone()
		r.mu.Unlock()
		return snap, nil
	}

	var events []Event
	for _, step := range steps {
		iterIdx, stepIdx := r.appendStepLocked(step)
		events = append(events, stepEvent(iterIdx, step))

		if parked != nil && step.Kind == types.StepToolCall && step.ToolCall != nil &&
			step.ToolCall.ApprovalID == parked.ApprovalID {
			r.stall = &stallPoint{
				approvalID: parked.ApprovalID,
				tool:       parked.Tool,
				iteration:  iterIdx,
				step:       stepIdx,
			}
			events = append(events, Event{Type: EventApprovalRequested, ApprovalID: parked.ApprovalID, Iteration: iterIdx})
		}

		if step.Terminal() {
			next := types.RunCompleted
			if step.Kind == types.StepError {
				next = types.RunFailed
			}
			_ = r.transitionLocked(next)
			events = append(events, Event{Type: EventRunFinished, Status: next})
		}
	}

	if r.pauseRequested {
		r.pauseRequested = false
		if r.run.Status == types.RunRunning {
			_ = r.transitionLocked(types.RunPaused)
			events = append(events, Event{Type: EventRunPaused, Status: types.RunPaused})
		}
	}
	snap := r.run.Clone()
	r.mu.Unlock()

	r.emit(events...)
	return snap, retErr
}

// finishFatal records a terminal error step and fails the run.
func (r *Runner) finishFatal(phase string, cause error) (types.AgentRun, error) {
	r.mu.Lock()
	r.inFlight = false
	r.cancelInFlight = nil
	if r.run.Status.Terminal() {
		// Stop won the race; its error step already ended the run.
		snap := r.run.Clone()
		r.mu.Unlock()
		return snap, nil
	}

	fatal := &types.FatalError{Phase: phase, Err: cause}
	step := errorStep(fatal.Error(), types.ErrorClassFatal)
	iterIdx, _ := r.appendStepLocked(step)
	_ = r.transitionLocked(types.RunFailed)
	snap := r.run.Clone()
	r.mu.Unlock()

	r.logger.Error("run %s failed during %s: %v", snap.ID, phase, cause)
	r.emit(
		stepEvent(iterIdx, step),
		Event{Type: EventRunFinished, Status: types.RunFailed},
	)
	return snap, fatal
}

// Pause requests a pause. It lands after the in-flight step completes,
// never mid-step; with no step in flight it takes effect at once.
func (r *Runner) Pause() (types.AgentRun, error) {
	r.mu.Lock()
	if r.run.Status != types.RunRunning {
		snap := r.run.Clone()
		r.mu.Unlock()
		return snap, fmt.Errorf("run %s is %s, cannot pause", snap.ID, snap.Status)
	}
	if r.inFlight {
		r.pauseRequested = true
		snap := r.run.Clone()
		r.mu.Unlock()
		r.logger.Info("run %s pause requested, waiting for the in-flight step", snap.ID)
		return snap, nil
	}
	_ = r.transitionLocked(types.RunPaused)
	snap := r.run.Clone()
	r.mu.Unlock()

	r.logger.Info("run %s paused", snap.ID)
	r.emit(Event{Type: EventRunPaused, Status: types.RunPaused})
	return snap, nil
}

// Resume moves a paused run back to running. A stalled approval stays
// stalled until resolved.
func (r *Runner) Resume(ctx context.Context) (types.AgentRun, error) {
	_ = ctx
	r.mu.Lock()
	if r.run.Status != types.RunPaused {
		snap := r.run.Clone()
		r.mu.Unlock()
		return snap, fmt.Errorf("run %s is %s, cannot resume", snap.ID, snap.Status)
	}
	_ = r.transitionLocked(types.RunRunning)
	snap := r.run.Clone()
	r.mu.Unlock()

	r.logger.Info("run %s resumed", snap.ID)
	r.emit(Event{Type: EventRunResumed, Status: types.RunRunning})
	return snap, nil
}

// Stop fails the run immediately and cancels in-flight collaborator
// work. Results of a step racing with Stop are discarded. Stopping a
// terminal run is a no-op.
func (r *Runner) Stop() (types.AgentRun, error) {
	r.mu.Lock()
	if r.run.Status.Terminal() {
		snap := r.run.Clone()
		r.mu.Unlock()
		return snap, nil
	}
	if r.run.Status == types.RunQueued {
		snap := r.run.Clone()
		r.mu.Unlock()
		return snap, fmt.Errorf("run %s has not started", snap.ID)
	}

	if r.cancelInFlight != nil {
		r.cancelInFlight()
		r.cancelInFlight = nil
	}
	r.pauseRequested = false
	r.stall = nil

	step := errorStep("run stopped", types.ErrorClassStopped)
	iterIdx, _ := r.appendStepLocked(step)
	_ = r.transitionLocked(types.RunFailed)
	snap := r.run.Clone()
	r.mu.Unlock()

	r.logger.Info("run %s stopped", snap.ID)
	r.emit(
		stepEvent(iterIdx, step),
		Event{Type: EventRunFinished, Status: types.RunFailed},
	)
	return snap, nil
}

// Approve resolves the stalled approval and executes the parked call.
// The tool call step moves to executed or failed; either way the run
// continues.
func (r *Runner) Approve(ctx context.Context, approvalID, decidedBy string) (types.AgentRun, error) {
	return r.resolveApproval(ctx, approvalID, decidedBy, ports.ApprovalApprove)
}

// Deny resolves the stalled approval as denied. The tool call step
// records the denial; the run continues and the provider observes it.
func (r *Runner) Deny(ctx context.Context, approvalID, decidedBy string) (types.AgentRun, error) {
	return r.resolveApproval(ctx, approvalID, decidedBy, ports.ApprovalDeny)
}

// AlwaysAllow resolves as Approve and grants the tool a session-wide
// always-allow, so later calls skip the rules.
func (r *Runner) AlwaysAllow(ctx context.Context, approvalID, decidedBy string) (types.AgentRun, error) {
	return r.resolveApproval(ctx, approvalID, decidedBy, ports.ApprovalAlwaysAllow)
}

func (r *Runner) resolveApproval(ctx context.Context, approvalID, decidedBy string, action ports.ApprovalAction) (types.AgentRun, error) {
	r.mu.Lock()
	if r.stall == nil || r.stall.approvalID != approvalID {
		snap := r.run.Clone()
		r.mu.Unlock()
		return snap, fmt.Errorf("run %s has no pending approval %q", snap.ID, approvalID)
	}
	point := *r.stall
	r.mu.Unlock()

	var outcome *gateway.Outcome
	var err error
	switch action {
	case ports.ApprovalApprove:
		outcome, err = r.gate.Approve(ctx, approvalID, decidedBy)
	case ports.ApprovalDeny:
		outcome, err = r.gate.Deny(ctx, approvalID, decidedBy)
	case ports.ApprovalAlwaysAllow:
		outcome, err = r.gate.AlwaysAllow(ctx, approvalID, decidedBy)
	default:
		return r.Snapshot(), fmt.Errorf("unknown approval action %q", action)
	}

	r.mu.Lock()
	if r.run.Status.Terminal() {
		snap := r.run.Clone()
		r.mu.Unlock()
		return snap, nil
	}

	tc := r.run.Iterations[point.iteration].Steps[point.step].ToolCall
	var deniedErr *types.PermissionDeniedError
	var execErr *types.ToolExecutionError
	switch {
	case err == nil:
		_ = tc.Transition(types.ToolCallExecuted)
		if outcome != nil {
			tc.Result = outcome.Result
		}
	case errors.As(err, &deniedErr):
		_ = tc.Transition(types.ToolCallDenied)
		tc.Error = err.Error()
	case errors.As(err, &execErr):
		_ = tc.Transition(types.ToolCallFailed)
		tc.Error = err.Error()
		if outcome != nil {
			tc.Result = outcome.Result
		}
	default:
		// The gateway did not recognize the approval; leave the stall.
		snap := r.run.Clone()
		r.mu.Unlock()
		return snap, err
	}

	now := time.Now()
	r.run.Iterations[point.iteration].Steps[point.step].FinishedAt = now
	r.run.UpdatedAt = now
	r.stall = nil
	snap := r.run.Clone()
	r.mu.Unlock()

	r.logger.Info("run %s approval %s resolved: %s", snap.ID, approvalID, action)
	r.emit(Event{
		Type:       EventApprovalResolved,
		ApprovalID: approvalID,
		Resolution: string(action),
		Iteration:  point.iteration,
	})
	return snap, nil
}

func (r *Runner) transitionLocked(next types.RunStatus) error {
	if !r.run.Status.CanTransition(next) {
		return fmt.Errorf("illegal run transition from %s to %s", r.run.Status, next)
	}
	r.run.Status = next
	r.run.UpdatedAt = time.Now()
	return nil
}

func (r *Runner) appendStepLocked(step types.Step) (iterIdx, stepIdx int) {
	iterIdx = len(r.run.Iterations) - 1
	iter := &r.run.Iterations[iterIdx]
	iter.Steps = append(iter.Steps, step)
	r.run.UpdatedAt = time.Now()
	return iterIdx, len(iter.Steps) - 1
}

func (r *Runner) emit(events ...Event) {
	if r.events == nil {
		return
	}
	for i := range events {
		if events[i].RunID == "" {
			events[i].RunID = r.run.ID
		}
		r.events.Publish(events[i])
	}
}

// iterationConcluded reports whether the iteration's last step closed it
// without ending the run: an evaluation that found the goal unmet.
func iterationConcluded(iter types.Iteration) bool {
	if len(iter.Steps) == 0 {
		return false
	}
	last := iter.Steps[len(iter.Steps)-1]
	return last.Kind == types.StepEvaluate && last.Evaluate != nil && !last.Evaluate.GoalMet
}

func thinkStep(thought *ports.Thought) types.Step {
	now := time.Now()
	return types.Step{
		Kind: types.StepThink, StartedAt: now, FinishedAt: now,
		Think: &types.ThinkStep{Text: thought.Text, TokensUsed: thought.TokensUsed},
	}
}

func errorStep(message, class string) types.Step {
	now := time.Now()
	return types.Step{
		Kind: types.StepError, StartedAt: now, FinishedAt: now,
		Error: &types.ErrorStep{Message: message, Class: class, Fatal: true},
	}
}

func stepEvent(iteration int, step types.Step) Event {
	cloned := step.Clone()
	return Event{Type: EventStepAppended, Iteration: iteration, Step: &cloned}
}

func changeSummaries(changes []patch.FileChange) []types.ChangeSummary {
	out := make([]types.ChangeSummary, 0, len(changes))
	for _, change := range changes {
		out = append(out, types.ChangeSummary{Path: change.Path, Kind: string(change.Kind)})
	}
	return out
}

