package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"drover/pkg/types"
)

func call(name string, args map[string]any) types.ToolCall {
	return types.ToolCall{ID: "call_1", Name: name, Arguments: args}
}

func TestFirstMatchWinsOverLaterSpecificRule(t *testing.T) {
	t.Parallel()

	// The broad deny is declared first, so the specific allow after it
	// must never fire.
	engine, err := NewEngine([]types.HookRule{
		{ID: "deny-all", Enabled: true, Event: types.EventPreToolUse, ToolPattern: "*", Action: types.ActionDeny},
		{ID: "allow-read", Enabled: true, Event: types.EventPreToolUse, ToolPattern: "read_file", Action: types.ActionAllow},
	}, nil)
	require.NoError(t, err)

	eval := engine.Evaluate(NewSessionPermissions("s1"), types.EventPreToolUse, call("read_file", nil))
	require.Equal(t, types.DecisionDeny, eval.Decision)
	require.NotNil(t, eval.Rule)
	require.Equal(t, "deny-all", eval.Rule.ID)
}

func TestEmptyRulesFallBackToAsk(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(nil, nil)
	require.NoError(t, err)

	eval := engine.Evaluate(NewSessionPermissions("s1"), types.EventPreToolUse, call("write_file", nil))
	require.Equal(t, types.DecisionAsk, eval.Decision)
	require.Nil(t, eval.Rule)
}

func TestSessionGrantBypassesRules(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine([]types.HookRule{
		{ID: "deny-all", Enabled: true, Event: types.EventPreToolUse, ToolPattern: "*", Action: types.ActionDeny},
	}, nil)
	require.NoError(t, err)

	session := NewSessionPermissions("s1")
	session.AlwaysAllow("read_file", "tester")

	eval := engine.Evaluate(session, types.EventPreToolUse, call("read_file", nil))
	require.Equal(t, types.DecisionAllow, eval.Decision)
	require.True(t, eval.CacheHit)
	require.Nil(t, eval.Rule)

	// Other tools still hit the deny rule.
	eval = engine.Evaluate(session, types.EventPreToolUse, call("bash", nil))
	require.Equal(t, types.DecisionDeny, eval.Decision)
}

func TestDisabledRulesAreSkipped(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine([]types.HookRule{
		{ID: "deny-all", Enabled: false, Event: types.EventPreToolUse, ToolPattern: "*", Action: types.ActionDeny},
		{ID: "allow-read", Enabled: true, Event: types.EventPreToolUse, ToolPattern: "read_file", Action: types.ActionAllow},
	}, nil)
	require.NoError(t, err)

	eval := engine.Evaluate(NewSessionPermissions("s1"), types.EventPreToolUse, call("read_file", nil))
	require.Equal(t, types.DecisionAllow, eval.Decision)
	require.Equal(t, "allow-read", eval.Rule.ID)
}

func TestRulesAreScopedToTheirEvent(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine([]types.HookRule{
		{ID: "pre-deny", Enabled: true, Event: types.EventPreToolUse, ToolPattern: "*", Action: types.ActionDeny},
	}, nil)
	require.NoError(t, err)

	eval := engine.Evaluate(NewSessionPermissions("s1"), types.EventPostToolUse, call("bash", nil))
	require.Equal(t, types.DecisionAsk, eval.Decision)
}

func TestCommandPatternConstrainsMatch(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine([]types.HookRule{
		{ID: "deny-push", Enabled: true, Event: types.EventPreToolUse, ToolPattern: "bash", CommandPattern: `^git push`, Action: types.ActionDeny},
		{ID: "allow-bash", Enabled: true, Event: types.EventPreToolUse, ToolPattern: "bash", Action: types.ActionAllow},
	}, nil)
	require.NoError(t, err)

	session := NewSessionPermissions("s1")

	eval := engine.Evaluate(session, types.EventPreToolUse, call("bash", map[string]any{"command": "git push origin main"}))
	require.Equal(t, types.DecisionDeny, eval.Decision)
	require.Equal(t, "deny-push", eval.Rule.ID)

	eval = engine.Evaluate(session, types.EventPreToolUse, call("bash", map[string]any{"command": "git status"}))
	require.Equal(t, types.DecisionAllow, eval.Decision)
	require.Equal(t, "allow-bash", eval.Rule.ID)

	// A rule with a command constraint cannot match a call without one.
	eval = engine.Evaluate(session, types.EventPreToolUse, call("bash", nil))
	require.Equal(t, types.DecisionAllow, eval.Decision)
	require.Equal(t, "allow-bash", eval.Rule.ID)
}

func TestPrefixPatternMatchesToolFamily(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine([]types.HookRule{
		{ID: "log-mcp", Enabled: true, Event: types.EventPreToolUse, ToolPattern: "mcp_*", Action: types.ActionLog},
	}, nil)
	require.NoError(t, err)

	eval := engine.Evaluate(NewSessionPermissions("s1"), types.EventPreToolUse, call("mcp_search", nil))
	require.Equal(t, types.DecisionLog, eval.Decision)
	require.True(t, eval.Decision.Permits())
	require.True(t, eval.Decision.SideEffect())

	eval = engine.Evaluate(NewSessionPermissions("s1"), types.EventPreToolUse, call("bash", nil))
	require.Equal(t, types.DecisionAsk, eval.Decision)
}

func TestInvalidCommandPatternRejectedAtConstruction(t *testing.T) {
	t.Parallel()

	_, err := NewEngine([]types.HookRule{
		{ID: "broken", Enabled: true, Event: types.EventPreToolUse, ToolPattern: "bash", CommandPattern: `([`, Action: types.ActionDeny},
	}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken")
}

func TestUnknownEventAndActionRejected(t *testing.T) {
	t.Parallel()

	_, err := NewEngine([]types.HookRule{
		{ID: "bad-event", Enabled: true, Event: "OnCommit", ToolPattern: "*", Action: types.ActionAllow},
	}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad-event")

	_, err = NewEngine([]types.HookRule{
		{ID: "bad-action", Enabled: true, Event: types.EventPreToolUse, ToolPattern: "*", Action: "quarantine"},
	}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad-action")
}
