// Package gateway routes proposed tool calls through the permission
// engine. Denials come back as recoverable errors, permitted calls
// execute through the tool runner, and asks park the call until a human
// resolves it.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"drover/internal/agent/ports"
	"drover/internal/audit"
	"drover/internal/hooks"
	"drover/internal/logging"
	"drover/internal/policy"
	"drover/internal/utils/id"
	"drover/pkg/types"
)

// Outcome describes what the gateway did with one proposed call.
type Outcome struct {
	Call     types.ToolCall
	Decision types.Decision
	// Rule is the matched rule, nil for cache hits and defaults.
	Rule *types.HookRule
	// CacheHit marks a decision served by the session always-allow cache.
	CacheHit bool
	// Result is set when the call executed.
	Result *types.ToolResult
	// Pending is set when the call is parked for approval.
	Pending *ports.PendingApproval
}

type pendingCall struct {
	approval ports.PendingApproval
	resolved bool
}

// Gateway enforces the permission policy on every tool call and owns the
// registry of calls parked for human approval.
type Gateway struct {
	engine   *policy.Engine
	session  *policy.SessionPermissions
	runner   ports.ToolRunner
	dispatch *hooks.Dispatcher
	sink     ports.AuditSink
	logger   logging.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall
	order   []string
}

// New creates a gateway. dispatch may be nil when no side-effect rules
// exist; session may be nil for a fresh anonymous session.
func New(engine *policy.Engine, session *policy.SessionPermissions, runner ports.ToolRunner, dispatch *hooks.Dispatcher, sink ports.AuditSink, logger logging.Logger) *Gateway {
	if session == nil {
		session = policy.NewSessionPermissions("")
	}
	return &Gateway{
		engine:   engine,
		session:  session,
		runner:   runner,
		dispatch: dispatch,
		sink:     audit.OrNop(sink),
		logger:   logging.OrNop(logger),
		pending:  make(map[string]*pendingCall),
	}
}

// Session returns the session's always-allow cache.
func (g *Gateway) Session() *policy.SessionPermissions {
	return g.session
}

// Propose runs the call through PreToolUse evaluation.
//
// deny returns a PermissionDeniedError, ask parks the call and returns a
// PendingApprovalError, and every permitting decision executes the call.
// Side-effect actions are handed to the dispatcher without blocking.
func (g *Gateway) Propose(ctx context.Context, call types.ToolCall) (*Outcome, error) {
	eval := g.engine.Evaluate(g.session, types.EventPreToolUse, call)
	outcome := &Outcome{
		Call:     call,
		Decision: eval.Decision,
		Rule:     eval.Rule,
		CacheHit: eval.CacheHit,
	}

	switch eval.Decision {
	case types.DecisionDeny:
		g.logger.Info("tool %s denied by rule %s", call.Name, ruleID(eval.Rule))
		return outcome, &types.PermissionDeniedError{Tool: call.Name, RuleID: ruleID(eval.Rule)}

	case types.DecisionAsk:
		pending := g.park(call, eval.Rule)
		outcome.Pending = pending
		g.logger.Info("tool %s parked for approval %s", call.Name, pending.ID)
		return outcome, &types.PendingApprovalError{ApprovalID: pending.ID, Tool: call.Name}

	default:
		g.sideEffect(eval, types.EventPreToolUse, call)
		return g.execute(ctx, outcome)
	}
}

// Approve resolves a parked call and executes it.
func (g *Gateway) Approve(ctx context.Context, approvalID, decidedBy string) (*Outcome, error) {
	resolved, err := g.resolvePending(approvalID, ports.ApprovalApprove, decidedBy)
	if err != nil {
		return nil, err
	}
	g.auditResolution(ctx, resolved)

	outcome := &Outcome{
		Call:     resolved.Call,
		Decision: types.DecisionAllow,
		Rule:     resolved.Rule,
	}
	return g.execute(ctx, outcome)
}

// Deny resolves a parked call as denied. The returned error is the same
// recoverable PermissionDeniedError a direct deny produces.
func (g *Gateway) Deny(ctx context.Context, approvalID, decidedBy string) (*Outcome, error) {
	resolved, err := g.resolvePending(approvalID, ports.ApprovalDeny, decidedBy)
	if err != nil {
		return nil, err
	}
	g.auditResolution(ctx, resolved)

	outcome := &Outcome{
		Call:     resolved.Call,
		Decision: types.DecisionDeny,
		Rule:     resolved.Rule,
	}
	return outcome, &types.PermissionDeniedError{Tool: resolved.Call.Name, RuleID: ruleID(resolved.Rule)}
}

// AlwaysAllow resolves a parked call as approved and records the tool in
// the session cache so later proposals skip rule evaluation.
func (g *Gateway) AlwaysAllow(ctx context.Context, approvalID, decidedBy string) (*Outcome, error) {
	resolved, err := g.resolvePending(approvalID, ports.ApprovalAlwaysAllow, decidedBy)
	if err != nil {
		return nil, err
	}
	g.session.AlwaysAllow(resolved.Call.Name, decidedBy)
	g.auditResolution(ctx, resolved)

	outcome := &Outcome{
		Call:     resolved.Call,
		Decision: types.DecisionAllow,
		Rule:     resolved.Rule,
	}
	return g.execute(ctx, outcome)
}

// Pending returns unresolved approvals in arrival order.
func (g *Gateway) Pending() []ports.PendingApproval {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]ports.PendingApproval, 0, len(g.pending))
	for _, pid := range g.order {
		if pc, ok := g.pending[pid]; ok && !pc.resolved {
			out = append(out, pc.approval)
		}
	}
	return out
}

// Approval returns one approval by ID, resolved or not.
func (g *Gateway) Approval(approvalID string) (ports.PendingApproval, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pc, ok := g.pending[approvalID]
	if !ok {
		return ports.PendingApproval{}, false
	}
	return pc.approval, true
}

// execute runs the call and fires PostToolUse evaluation. Tool failures
// come back as recoverable ToolExecutionErrors with the result attached.
func (g *Gateway) execute(ctx context.Context, outcome *Outcome) (*Outcome, error) {
	call := outcome.Call
	if g.runner == nil {
		return outcome, &types.ToolExecutionError{Tool: call.Name, Err: fmt.Errorf("no tool runner configured")}
	}

	result, err := g.runner.RunTool(ctx, call)
	outcome.Result = result
	if err != nil {
		g.logger.Warn("tool %s failed to run: %v", call.Name, err)
		return outcome, &types.ToolExecutionError{Tool: call.Name, Err: err}
	}

	g.firePostToolUse(outcome)
	if result != nil && result.Error != nil {
		g.logger.Info("tool %s returned an error: %v", call.Name, result.Error)
		return outcome, &types.ToolExecutionError{Tool: call.Name, Err: result.Error}
	}
	return outcome, nil
}

// firePostToolUse evaluates PostToolUse rules for an executed call. The
// always-allow cache does not apply here; it is a pre-execution concept.
func (g *Gateway) firePostToolUse(outcome *Outcome) {
	eval := g.engine.Evaluate(nil, types.EventPostToolUse, outcome.Call)
	if eval.Rule == nil {
		return
	}
	g.sideEffect(eval, types.EventPostToolUse, outcome.Call)
}

// sideEffect hands webhook and notify actions to the dispatcher and
// writes the log action's line. Nothing here blocks.
func (g *Gateway) sideEffect(eval policy.Evaluation, event types.HookEvent, call types.ToolCall) {
	if eval.Rule == nil || !eval.Decision.SideEffect() {
		return
	}
	rule := *eval.Rule

	switch rule.Action {
	case types.ActionLog:
		g.logger.Info("hook rule %s logged %s: tool=%s command=%q", rule.ID, event, call.Name, call.Command())
	case types.ActionTransform:
		g.logger.Info("hook rule %s marked %s call to %s for transform", rule.ID, event, call.Name)
	case types.ActionWebhook, types.ActionNotify:
		if g.dispatch == nil {
			g.logger.Warn("rule %s needs a dispatcher, none configured", rule.ID)
			return
		}
		g.dispatch.Dispatch(rule, event, call.RunID, map[string]any{
			"tool":     call.Name,
			"command":  call.Command(),
			"call_id":  call.ID,
			"decision": string(eval.Decision),
		})
	}
}

func (g *Gateway) park(call types.ToolCall, rule *types.HookRule) *ports.PendingApproval {
	approval := ports.PendingApproval{
		ID:        id.NewApprovalID(),
		Call:      call,
		Rule:      rule,
		CreatedAt: time.Now(),
	}

	g.mu.Lock()
	g.pending[approval.ID] = &pendingCall{approval: approval}
	g.order = append(g.order, approval.ID)
	g.mu.Unlock()

	copied := approval
	return &copied
}

// resolvePending flips a pending approval to resolved exactly once and
// returns a snapshot of it.
func (g *Gateway) resolvePending(approvalID string, action ports.ApprovalAction, decidedBy string) (ports.PendingApproval, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pc, ok := g.pending[approvalID]
	if !ok {
		return ports.PendingApproval{}, fmt.Errorf("unknown approval %q", approvalID)
	}
	if pc.resolved {
		return ports.PendingApproval{}, fmt.Errorf("approval %q already resolved to %s", approvalID, pc.approval.Resolution)
	}

	now := time.Now()
	pc.resolved = true
	pc.approval.ResolvedAt = &now
	pc.approval.Resolution = action
	pc.approval.ResolvedBy = decidedBy
	return pc.approval, nil
}

func (g *Gateway) auditResolution(ctx context.Context, approval ports.PendingApproval) {
	detail := map[string]any{
		"approval_id": approval.ID,
		"tool":        approval.Call.Name,
	}
	if approval.ResolvedBy != "" {
		detail["decided_by"] = approval.ResolvedBy
	}
	if approval.ResolvedAt != nil {
		detail["waited_ms"] = approval.ResolvedAt.Sub(approval.CreatedAt).Milliseconds()
	}

	rec := ports.AuditRecord{
		Category: ports.AuditApproval,
		RunID:    approval.Call.RunID,
		RuleID:   ruleID(approval.Rule),
		Event:    string(types.EventPreToolUse),
		Outcome:  string(approval.Resolution),
		Detail:   detail,
	}
	if err := g.sink.Append(ctx, rec); err != nil {
		g.logger.Error("failed to append approval audit record: %v", err)
	}
}

func ruleID(rule *types.HookRule) string {
	if rule == nil {
		return ""
	}
	return rule.ID
}
