package gateway

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drover/internal/hooks"
	"drover/internal/logging"
	"drover/internal/policy"
	"drover/internal/testutil"
	"drover/pkg/types"
)

func newTestGateway(t *testing.T, rules []types.HookRule) (*Gateway, *testutil.ScriptedToolRunner, *testutil.MemoryAuditSink) {
	t.Helper()
	engine, err := policy.NewEngine(rules, logging.Nop())
	require.NoError(t, err)

	runner := &testutil.ScriptedToolRunner{}
	sink := &testutil.MemoryAuditSink{}
	g := New(engine, policy.NewSessionPermissions("sess_test"), runner, nil, sink, logging.Nop())
	return g, runner, sink
}

func allowRule(tool string) types.HookRule {
	return types.HookRule{
		ID:          "allow-" + tool,
		Enabled:     true,
		Event:       types.EventPreToolUse,
		ToolPattern: tool,
		Action:      types.ActionAllow,
	}
}

func readCall() types.ToolCall {
	return types.ToolCall{
		ID:        "call_1",
		Name:      "read_file",
		Arguments: map[string]any{"path": "main.go"},
		RunID:     "run_1",
	}
}

func TestProposeAllowedCallExecutes(t *testing.T) {
	t.Parallel()

	g, runner, _ := newTestGateway(t, []types.HookRule{allowRule("read_file")})

	outcome, err := g.Propose(context.Background(), readCall())
	require.NoError(t, err)
	require.Equal(t, types.DecisionAllow, outcome.Decision)
	require.NotNil(t, outcome.Rule)
	require.Equal(t, "allow-read_file", outcome.Rule.ID)
	require.NotNil(t, outcome.Result)
	require.Equal(t, "call_1", outcome.Result.CallID)
	require.Equal(t, 1, runner.CallCount())
	require.Empty(t, g.Pending())
}

func TestProposeDeniedCallReturnsRecoverableError(t *testing.T) {
	t.Parallel()

	g, runner, _ := newTestGateway(t, []types.HookRule{{
		ID:          "no-writes",
		Enabled:     true,
		Event:       types.EventPreToolUse,
		ToolPattern: "write_file",
		Action:      types.ActionDeny,
	}})

	call := types.ToolCall{ID: "call_2", Name: "write_file", RunID: "run_1"}
	outcome, err := g.Propose(context.Background(), call)

	var denied *types.PermissionDeniedError
	require.ErrorAs(t, err, &denied)
	require.Equal(t, "write_file", denied.Tool)
	require.Equal(t, "no-writes", denied.RuleID)
	require.True(t, types.IsRecoverable(err))

	require.Equal(t, types.DecisionDeny, outcome.Decision)
	require.Nil(t, outcome.Result)
	require.Zero(t, runner.CallCount())
}

func TestProposeUnmatchedCallParksForApproval(t *testing.T) {
	t.Parallel()

	g, runner, _ := newTestGateway(t, nil)

	outcome, err := g.Propose(context.Background(), readCall())

	var pending *types.PendingApprovalError
	require.ErrorAs(t, err, &pending)
	require.Equal(t, "read_file", pending.Tool)
	require.True(t, types.IsPending(err))
	require.False(t, types.IsTerminal(err))

	require.Equal(t, types.DecisionAsk, outcome.Decision)
	require.NotNil(t, outcome.Pending)
	require.Equal(t, pending.ApprovalID, outcome.Pending.ID)
	require.Zero(t, runner.CallCount())

	parked := g.Pending()
	require.Len(t, parked, 1)
	require.Equal(t, "read_file", parked[0].Call.Name)
	require.False(t, parked[0].CreatedAt.IsZero())
}

func TestApproveExecutesParkedCall(t *testing.T) {
	t.Parallel()

	g, runner, sink := newTestGateway(t, nil)

	_, err := g.Propose(context.Background(), readCall())
	var pending *types.PendingApprovalError
	require.ErrorAs(t, err, &pending)

	outcome, err := g.Approve(context.Background(), pending.ApprovalID, "alice")
	require.NoError(t, err)
	require.Equal(t, types.DecisionAllow, outcome.Decision)
	require.NotNil(t, outcome.Result)
	require.Equal(t, 1, runner.CallCount())
	require.Equal(t, "read_file", runner.Calls[0].Name)
	require.Empty(t, g.Pending())

	approval, ok := g.Approval(pending.ApprovalID)
	require.True(t, ok)
	require.Equal(t, "alice", approval.ResolvedBy)
	require.NotNil(t, approval.ResolvedAt)

	records := sink.Records()
	require.Len(t, records, 1)
	require.Equal(t, "approve", records[0].Outcome)
	require.Equal(t, pending.ApprovalID, records[0].Detail["approval_id"])
	require.Equal(t, "alice", records[0].Detail["decided_by"])
}

func TestResolutionHappensExactlyOnce(t *testing.T) {
	t.Parallel()

	g, runner, _ := newTestGateway(t, nil)

	_, err := g.Propose(context.Background(), readCall())
	var pending *types.PendingApprovalError
	require.ErrorAs(t, err, &pending)

	_, err = g.Approve(context.Background(), pending.ApprovalID, "alice")
	require.NoError(t, err)

	_, err = g.Approve(context.Background(), pending.ApprovalID, "alice")
	require.ErrorContains(t, err, "already resolved")

	_, err = g.Deny(context.Background(), pending.ApprovalID, "bob")
	require.ErrorContains(t, err, "already resolved")

	// Only the first resolution executed the call.
	require.Equal(t, 1, runner.CallCount())
}

func TestDenyResolvesWithoutExecuting(t *testing.T) {
	t.Parallel()

	g, runner, sink := newTestGateway(t, nil)

	_, err := g.Propose(context.Background(), readCall())
	var pending *types.PendingApprovalError
	require.ErrorAs(t, err, &pending)

	outcome, err := g.Deny(context.Background(), pending.ApprovalID, "bob")

	var denied *types.PermissionDeniedError
	require.ErrorAs(t, err, &denied)
	require.Equal(t, "read_file", denied.Tool)
	require.Equal(t, types.DecisionDeny, outcome.Decision)
	require.Zero(t, runner.CallCount())
	require.Empty(t, g.Pending())

	records := sink.Records()
	require.Len(t, records, 1)
	require.Equal(t, "deny", records[0].Outcome)
}

func TestAlwaysAllowPrimesSessionCache(t *testing.T) {
	t.Parallel()

	g, runner, _ := newTestGateway(t, nil)

	_, err := g.Propose(context.Background(), readCall())
	var pending *types.PendingApprovalError
	require.ErrorAs(t, err, &pending)

	outcome, err := g.AlwaysAllow(context.Background(), pending.ApprovalID, "alice")
	require.NoError(t, err)
	require.NotNil(t, outcome.Result)
	require.True(t, g.Session().Allowed("read_file"))

	// The same tool now clears the gateway without a new approval.
	second := readCall()
	second.ID = "call_2"
	outcome, err = g.Propose(context.Background(), second)
	require.NoError(t, err)
	require.True(t, outcome.CacheHit)
	require.Equal(t, types.DecisionAllow, outcome.Decision)
	require.Equal(t, 2, runner.CallCount())
	require.Empty(t, g.Pending())
}

func TestSessionGrantWinsOverDenyRule(t *testing.T) {
	t.Parallel()

	g, runner, _ := newTestGateway(t, []types.HookRule{{
		ID:          "no-reads",
		Enabled:     true,
		Event:       types.EventPreToolUse,
		ToolPattern: "read_file",
		Action:      types.ActionDeny,
	}})
	g.Session().AlwaysAllow("read_file", "alice")

	outcome, err := g.Propose(context.Background(), readCall())
	require.NoError(t, err)
	require.True(t, outcome.CacheHit)
	require.Equal(t, 1, runner.CallCount())
}

func TestResolveUnknownApprovalFails(t *testing.T) {
	t.Parallel()

	g, _, _ := newTestGateway(t, nil)

	_, err := g.Approve(context.Background(), "appr_missing", "alice")
	require.ErrorContains(t, err, "unknown approval")

	_, err = g.Deny(context.Background(), "appr_missing", "alice")
	require.ErrorContains(t, err, "unknown approval")
}

func TestRunnerFailureWrapsToolExecutionError(t *testing.T) {
	t.Parallel()

	g, runner, _ := newTestGateway(t, []types.HookRule{allowRule("read_file")})
	runner.QueueError(errors.New("sandbox unavailable"))

	outcome, err := g.Propose(context.Background(), readCall())

	var execErr *types.ToolExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, "read_file", execErr.Tool)
	require.ErrorContains(t, err, "sandbox unavailable")
	require.True(t, types.IsRecoverable(err))
	require.Nil(t, outcome.Result)
}

func TestToolErrorResultWrapsToolExecutionError(t *testing.T) {
	t.Parallel()

	g, runner, _ := newTestGateway(t, []types.HookRule{allowRule("read_file")})
	runner.QueueResult(&types.ToolResult{Error: errors.New("file not found")})

	outcome, err := g.Propose(context.Background(), readCall())

	var execErr *types.ToolExecutionError
	require.ErrorAs(t, err, &execErr)
	require.ErrorContains(t, err, "file not found")
	// The tool did run; its result stays available to the caller.
	require.NotNil(t, outcome.Result)
	require.Equal(t, 1, runner.CallCount())
}

func TestNoRunnerConfigured(t *testing.T) {
	t.Parallel()

	engine, err := policy.NewEngine([]types.HookRule{allowRule("read_file")}, logging.Nop())
	require.NoError(t, err)
	g := New(engine, nil, nil, nil, nil, logging.Nop())

	_, err = g.Propose(context.Background(), readCall())

	var execErr *types.ToolExecutionError
	require.ErrorAs(t, err, &execErr)
	require.ErrorContains(t, err, "no tool runner configured")
}

func TestLogActionPermitsAndRecordsLine(t *testing.T) {
	t.Parallel()

	engine, err := policy.NewEngine([]types.HookRule{{
		ID:          "trace-commands",
		Enabled:     true,
		Event:       types.EventPreToolUse,
		ToolPattern: "run_command",
		Action:      types.ActionLog,
	}}, logging.Nop())
	require.NoError(t, err)

	var buf bytes.Buffer
	runner := &testutil.ScriptedToolRunner{}
	g := New(engine, nil, runner, nil, nil, logging.New(&buf, logging.LevelDebug))

	call := types.ToolCall{
		ID:        "call_3",
		Name:      "run_command",
		Arguments: map[string]any{"command": "go test ./..."},
		RunID:     "run_1",
	}
	outcome, err := g.Propose(context.Background(), call)
	require.NoError(t, err)
	require.Equal(t, types.DecisionLog, outcome.Decision)
	require.NotNil(t, outcome.Result)
	require.Equal(t, 1, runner.CallCount())
	require.Contains(t, buf.String(), "trace-commands")
	require.Contains(t, buf.String(), `command="go test ./..."`)
}

func TestWebhookRulePermitsAndDispatches(t *testing.T) {
	t.Parallel()

	engine, err := policy.NewEngine([]types.HookRule{{
		ID:          "mirror-reads",
		Enabled:     true,
		Event:       types.EventPreToolUse,
		ToolPattern: "read_file",
		Action:      types.ActionWebhook,
		WebhookURL:  "https://hooks.example.com/drover",
	}}, logging.Nop())
	require.NoError(t, err)

	deliverer := testutil.NewRecordingDeliverer()
	dispatch := hooks.NewDispatcher(deliverer, nil, nil, logging.Nop())
	runner := &testutil.ScriptedToolRunner{}
	g := New(engine, nil, runner, dispatch, nil, logging.Nop())

	outcome, err := g.Propose(context.Background(), readCall())
	require.NoError(t, err)
	require.Equal(t, types.DecisionWebhook, outcome.Decision)
	require.NotNil(t, outcome.Result)

	require.NoError(t, dispatch.Close())
	requests := deliverer.Requests()
	require.Len(t, requests, 1)
	require.Equal(t, string(types.EventPreToolUse), requests[0].Event)
	require.Equal(t, "mirror-reads", requests[0].RuleID)
	require.Equal(t, "read_file", requests[0].Payload["tool"])
	require.Equal(t, "call_1", requests[0].Payload["call_id"])
}

func TestPostToolUseRuleFiresAfterExecution(t *testing.T) {
	t.Parallel()

	engine, err := policy.NewEngine([]types.HookRule{
		allowRule("run_command"),
		{
			ID:          "report-commands",
			Enabled:     true,
			Event:       types.EventPostToolUse,
			ToolPattern: "run_command",
			Action:      types.ActionWebhook,
			WebhookURL:  "https://hooks.example.com/post",
		},
	}, logging.Nop())
	require.NoError(t, err)

	deliverer := testutil.NewRecordingDeliverer()
	dispatch := hooks.NewDispatcher(deliverer, nil, nil, logging.Nop())
	runner := &testutil.ScriptedToolRunner{}
	g := New(engine, nil, runner, dispatch, nil, logging.Nop())

	call := types.ToolCall{ID: "call_4", Name: "run_command", RunID: "run_2"}
	_, err = g.Propose(context.Background(), call)
	require.NoError(t, err)

	require.NoError(t, dispatch.Close())
	requests := deliverer.Requests()
	require.Len(t, requests, 1)
	require.Equal(t, string(types.EventPostToolUse), requests[0].Event)
	require.Equal(t, "run_2", requests[0].RunID)
}

func TestPostToolUseFiresEvenWhenToolErrs(t *testing.T) {
	t.Parallel()

	engine, err := policy.NewEngine([]types.HookRule{
		allowRule("run_command"),
		{
			ID:          "report-commands",
			Enabled:     true,
			Event:       types.EventPostToolUse,
			ToolPattern: "run_command",
			Action:      types.ActionWebhook,
			WebhookURL:  "https://hooks.example.com/post",
		},
	}, logging.Nop())
	require.NoError(t, err)

	deliverer := testutil.NewRecordingDeliverer()
	dispatch := hooks.NewDispatcher(deliverer, nil, nil, logging.Nop())
	runner := &testutil.ScriptedToolRunner{}
	runner.QueueResult(&types.ToolResult{Error: errors.New("exit status 1")})
	g := New(engine, nil, runner, dispatch, nil, logging.Nop())

	call := types.ToolCall{ID: "call_5", Name: "run_command", RunID: "run_2"}
	_, err = g.Propose(context.Background(), call)

	var execErr *types.ToolExecutionError
	require.ErrorAs(t, err, &execErr)

	// The command ran, so the post-execution hook still fires.
	require.NoError(t, dispatch.Close())
	require.Len(t, deliverer.Requests(), 1)
}

func TestPendingKeepsArrivalOrder(t *testing.T) {
	t.Parallel()

	g, _, _ := newTestGateway(t, nil)

	ids := make([]string, 0, 3)
	for _, name := range []string{"read_file", "write_file", "run_command"} {
		call := types.ToolCall{ID: "call_" + name, Name: name, RunID: "run_1"}
		_, err := g.Propose(context.Background(), call)
		var pending *types.PendingApprovalError
		require.ErrorAs(t, err, &pending)
		ids = append(ids, pending.ApprovalID)
	}

	parked := g.Pending()
	require.Len(t, parked, 3)
	for i, approval := range parked {
		require.Equal(t, ids[i], approval.ID)
	}

	// Resolving the middle one leaves the others in order.
	_, err := g.Deny(context.Background(), ids[1], "alice")
	require.Error(t, err)
	parked = g.Pending()
	require.Len(t, parked, 2)
	require.Equal(t, ids[0], parked[0].ID)
	require.Equal(t, ids[2], parked[1].ID)
}

func TestApprovalWaitTimeIsAudited(t *testing.T) {
	t.Parallel()

	g, _, sink := newTestGateway(t, nil)

	_, err := g.Propose(context.Background(), readCall())
	var pending *types.PendingApprovalError
	require.ErrorAs(t, err, &pending)

	time.Sleep(15 * time.Millisecond)
	_, err = g.Approve(context.Background(), pending.ApprovalID, "alice")
	require.NoError(t, err)

	records := sink.Records()
	require.Len(t, records, 1)
	waited, ok := records[0].Detail["waited_ms"].(int64)
	require.True(t, ok)
	require.GreaterOrEqual(t, waited, int64(10))
}
