package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"drover/internal/logging"
	"drover/pkg/types"
)

func TestParseSingleBlock(t *testing.T) {
	t.Parallel()

	p := New(logging.Nop())
	calls := p.Parse(`I'll read the file first.
<tool_call>{"name": "read_file", "args": {"path": "main.go"}}</tool_call>`)

	require.Len(t, calls, 1)
	require.Equal(t, "read_file", calls[0].Name)
	require.Equal(t, "main.go", calls[0].Arguments["path"])
	require.NotEmpty(t, calls[0].ID)
}

func TestParseKeepsBlockOrder(t *testing.T) {
	t.Parallel()

	p := New(logging.Nop())
	calls := p.Parse(`<tool_call>{"name": "list_dir", "args": {"path": "."}}</tool_call>
some narration between calls
<tool_call>{"name": "read_file", "args": {"path": "go.mod"}}</tool_call>`)

	require.Len(t, calls, 2)
	require.Equal(t, "list_dir", calls[0].Name)
	require.Equal(t, "read_file", calls[1].Name)
	require.NotEqual(t, calls[0].ID, calls[1].ID)
}

func TestParseAcceptsArgumentsKey(t *testing.T) {
	t.Parallel()

	p := New(logging.Nop())
	calls := p.Parse(`<tool_call>{"name": "run_command", "arguments": {"command": "go vet ./..."}}</tool_call>`)

	require.Len(t, calls, 1)
	require.Equal(t, "go vet ./...", calls[0].Arguments["command"])
}

func TestParseSpansLines(t *testing.T) {
	t.Parallel()

	p := New(logging.Nop())
	calls := p.Parse(`<tool_call>
{
  "name": "write_file",
  "args": {
    "path": "notes.txt",
    "content": "first line\nsecond line"
  }
}
</tool_call>`)

	require.Len(t, calls, 1)
	require.Equal(t, "write_file", calls[0].Name)
	require.Equal(t, "first line\nsecond line", calls[0].Arguments["content"])
}

func TestParseRepairsNearJSON(t *testing.T) {
	t.Parallel()

	p := New(logging.Nop())
	// Single quotes and a trailing comma, the two most common slips.
	calls := p.Parse(`<tool_call>{'name': 'read_file', 'args': {'path': 'go.mod',},}</tool_call>`)

	require.Len(t, calls, 1)
	require.Equal(t, "read_file", calls[0].Name)
	require.Equal(t, "go.mod", calls[0].Arguments["path"])
}

func TestParseSkipsGarbageBlocks(t *testing.T) {
	t.Parallel()

	p := New(logging.Nop())
	calls := p.Parse(`<tool_call>this is not json at all {{{</tool_call>
<tool_call>{"name": "read_file", "args": {"path": "a.go"}}</tool_call>`)

	require.Len(t, calls, 1)
	require.Equal(t, "read_file", calls[0].Name)
}

func TestParseSkipsInvalidNames(t *testing.T) {
	t.Parallel()

	p := New(logging.Nop())
	for _, content := range []string{
		`<tool_call>{"name": "rm -rf /", "args": {}}</tool_call>`,
		`<tool_call>{"name": "../escape", "args": {}}</tool_call>`,
		`<tool_call>{"name": "", "args": {}}</tool_call>`,
		`<tool_call>{"name": "9lives", "args": {}}</tool_call>`,
	} {
		require.Empty(t, p.Parse(content), "content: %s", content)
	}
}

func TestParseNoBlocks(t *testing.T) {
	t.Parallel()

	p := New(logging.Nop())
	require.Nil(t, p.Parse("just thinking out loud, no calls here"))
}

func TestValidateUnknownTool(t *testing.T) {
	t.Parallel()

	p := New(logging.Nop(), Known([]string{"read_file", "write_file"})...)

	err := p.Validate(types.ToolCall{Name: "delete_everything"})
	require.ErrorContains(t, err, `unknown tool "delete_everything"`)
	require.NoError(t, p.Validate(types.ToolCall{Name: "read_file"}))
}

func TestValidateRequiredArguments(t *testing.T) {
	t.Parallel()

	p := New(logging.Nop(), Definition{Name: "write_file", Required: []string{"path", "content"}})

	err := p.Validate(types.ToolCall{Name: "write_file", Arguments: map[string]any{"path": "a.go"}})
	require.ErrorContains(t, err, `missing required argument "content"`)

	require.NoError(t, p.Validate(types.ToolCall{
		Name:      "write_file",
		Arguments: map[string]any{"path": "a.go", "content": ""},
	}))
}

func TestValidateWithoutDefinitionsIsPermissive(t *testing.T) {
	t.Parallel()

	p := New(logging.Nop())
	require.NoError(t, p.Validate(types.ToolCall{Name: "anything"}))
}
