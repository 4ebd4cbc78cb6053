package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"drover/pkg/types"
)

const wrappedRulesYAML = `
rules:
  - id: deny-push
    enabled: true
    event: PreToolUse
    tool_pattern: bash
    command_pattern: "^git push"
    action: deny
  - id: log-writes
    enabled: true
    event: PostToolUse
    tool_pattern: "file_*"
    action: log
`

func TestParseRulesWrappedDocument(t *testing.T) {
	t.Parallel()

	rules, err := ParseRules([]byte(wrappedRulesYAML))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, "deny-push", rules[0].ID)
	require.Equal(t, types.EventPreToolUse, rules[0].Event)
	require.Equal(t, types.ActionDeny, rules[0].Action)
	require.Equal(t, "^git push", rules[0].CommandPattern)
	require.Equal(t, types.EventPostToolUse, rules[1].Event)
}

func TestParseRulesBareList(t *testing.T) {
	t.Parallel()

	rules, err := ParseRules([]byte(`
- id: allow-read
  enabled: true
  event: PreToolUse
  tool_pattern: read_file
  action: allow
`))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, "allow-read", rules[0].ID)
}

func TestLoadRulesMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	rules, err := LoadRules(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Nil(t, rules)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hooks.yaml")
	in := []types.HookRule{
		{ID: "r1", Enabled: true, Event: types.EventPreToolUse, ToolPattern: "*", Action: types.ActionAllow},
	}
	require.NoError(t, SaveRules(path, in))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "rules:")

	out, err := LoadRules(path)
	require.NoError(t, err)
	require.Equal(t, in, out)
}
