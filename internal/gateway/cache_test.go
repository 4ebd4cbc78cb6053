package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drover/internal/testutil"
	"drover/pkg/types"
)

func cachedReadCall(callID string) types.ToolCall {
	return types.ToolCall{
		ID:        callID,
		Name:      "read_file",
		Arguments: map[string]any{"path": "go.mod"},
	}
}

func TestCachedRunnerServesRepeatedCalls(t *testing.T) {
	t.Parallel()

	delegate := &testutil.ScriptedToolRunner{}
	delegate.QueueResult(&types.ToolResult{Content: "module drover"})
	runner := NewCachedRunner(delegate, DefaultCacheConfig())

	first, err := runner.RunTool(context.Background(), cachedReadCall("call_1"))
	require.NoError(t, err)
	require.Equal(t, "module drover", first.Content)

	second, err := runner.RunTool(context.Background(), cachedReadCall("call_2"))
	require.NoError(t, err)
	require.Equal(t, "module drover", second.Content)
	// The cached copy answers under the new call's id.
	require.Equal(t, "call_2", second.CallID)
	require.Equal(t, 1, delegate.CallCount())
}

func TestCachedRunnerDistinguishesArguments(t *testing.T) {
	t.Parallel()

	delegate := &testutil.ScriptedToolRunner{}
	runner := NewCachedRunner(delegate, DefaultCacheConfig())

	call := cachedReadCall("call_1")
	_, err := runner.RunTool(context.Background(), call)
	require.NoError(t, err)

	other := cachedReadCall("call_2")
	other.Arguments = map[string]any{"path": "main.go"}
	_, err = runner.RunTool(context.Background(), other)
	require.NoError(t, err)

	require.Equal(t, 2, delegate.CallCount())
}

func TestCachedRunnerSkipsExcludedTools(t *testing.T) {
	t.Parallel()

	delegate := &testutil.ScriptedToolRunner{}
	runner := NewCachedRunner(delegate, DefaultCacheConfig())

	call := types.ToolCall{
		ID:        "call_1",
		Name:      "run_command",
		Arguments: map[string]any{"command": "date"},
	}
	_, err := runner.RunTool(context.Background(), call)
	require.NoError(t, err)
	call.ID = "call_2"
	_, err = runner.RunTool(context.Background(), call)
	require.NoError(t, err)

	// Mutating tools reach the delegate every time.
	require.Equal(t, 2, delegate.CallCount())
}

func TestCachedRunnerExpiresEntries(t *testing.T) {
	t.Parallel()

	delegate := &testutil.ScriptedToolRunner{}
	runner := NewCachedRunner(delegate, CacheConfig{MaxSize: 8, TTL: 20 * time.Millisecond})

	_, err := runner.RunTool(context.Background(), cachedReadCall("call_1"))
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = runner.RunTool(context.Background(), cachedReadCall("call_2"))
	require.NoError(t, err)
	require.Equal(t, 2, delegate.CallCount())
}

func TestCachedRunnerDoesNotCacheFailures(t *testing.T) {
	t.Parallel()

	delegate := &testutil.ScriptedToolRunner{}
	delegate.QueueError(errors.New("transient"))
	delegate.QueueResult(&types.ToolResult{Error: errors.New("file not found")})
	runner := NewCachedRunner(delegate, DefaultCacheConfig())

	_, err := runner.RunTool(context.Background(), cachedReadCall("call_1"))
	require.Error(t, err)

	result, err := runner.RunTool(context.Background(), cachedReadCall("call_2"))
	require.NoError(t, err)
	require.Error(t, result.Error)

	// Neither failure was cached, so a third call reaches the delegate.
	_, err = runner.RunTool(context.Background(), cachedReadCall("call_3"))
	require.NoError(t, err)
	require.Equal(t, 3, delegate.CallCount())
}

func TestCachedRunnerToolsPassThrough(t *testing.T) {
	t.Parallel()

	delegate := &testutil.ScriptedToolRunner{Names: []string{"read_file", "list_dir"}}
	runner := NewCachedRunner(delegate, DefaultCacheConfig())

	require.Equal(t, []string{"read_file", "list_dir"}, runner.Tools())
}

func TestCachedRunnerNilDelegate(t *testing.T) {
	t.Parallel()

	require.Nil(t, NewCachedRunner(nil, DefaultCacheConfig()))
}
