package approval

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drover/internal/agent/ports"
	"drover/pkg/types"
)

// blockedReader never returns until released, standing in for a user who
// walks away from the prompt.
type blockedReader struct {
	release chan struct{}
}

func newBlockedReader(t *testing.T) *blockedReader {
	t.Helper()
	r := &blockedReader{release: make(chan struct{})}
	t.Cleanup(func() { close(r.release) })
	return r
}

func (r *blockedReader) Read([]byte) (int, error) {
	<-r.release
	return 0, io.EOF
}

func TestAutoApproveSkipsPrompt(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	term := NewTerminalWith(strings.NewReader(""), &out, 0, true, false)

	resp, err := term.RequestApproval(context.Background(), ports.ApprovalRequest{ToolName: "run_command"})
	require.NoError(t, err)
	require.Equal(t, ports.ApprovalApprove, resp.Action)
	require.Equal(t, "auto", resp.DecidedBy)
	require.Empty(t, out.String())
}

func TestLineDecisions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
		want  ports.ApprovalAction
	}{
		{"yes", "y\n", ports.ApprovalApprove},
		{"no uppercase", "NO\n", ports.ApprovalDeny},
		{"always", "a\n", ports.ApprovalAlwaysAllow},
		{"empty denies", "\n", ports.ApprovalDeny},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			term := NewTerminalWith(strings.NewReader(tc.input), &out, 0, false, false)

			resp, err := term.RequestApproval(context.Background(), ports.ApprovalRequest{
				ApprovalID: "appr_line",
				ToolName:   "run_command",
			})
			require.NoError(t, err)
			require.Equal(t, tc.want, resp.Action)
			require.Equal(t, "user", resp.DecidedBy)
		})
	}
}

func TestLineReasksOnInvalidChoice(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	term := NewTerminalWith(strings.NewReader("maybe\ny\n"), &out, 0, false, false)

	resp, err := term.RequestApproval(context.Background(), ports.ApprovalRequest{ToolName: "write_file"})
	require.NoError(t, err)
	require.Equal(t, ports.ApprovalApprove, resp.Action)
	require.Contains(t, out.String(), "Invalid choice")
}

func TestTimeoutDenies(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	term := NewTerminalWith(newBlockedReader(t), &out, 50*time.Millisecond, false, false)

	resp, err := term.RequestApproval(context.Background(), ports.ApprovalRequest{ToolName: "run_command"})
	require.NoError(t, err)
	require.Equal(t, ports.ApprovalDeny, resp.Action)
	require.Equal(t, "timeout", resp.DecidedBy)
	require.Contains(t, resp.Message, "no decision")
}

func TestContextCancelAborts(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	term := NewTerminalWith(newBlockedReader(t), &out, 0, false, false)

	_, err := term.RequestApproval(ctx, ports.ApprovalRequest{ToolName: "run_command"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDisplayShowsRequest(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	term := NewTerminalWith(strings.NewReader("n\n"), &out, 0, false, false)

	_, err := term.RequestApproval(context.Background(), ports.ApprovalRequest{
		ApprovalID: "appr_show",
		RunID:      "run_show",
		ToolName:   "apply_patch",
		Arguments:  map[string]any{"diff": "--- a/x\n+++ b/x\n", "reason": "fix typo"},
		Diff:       "-old line\n+new line\n",
		Summary:    "asked by rule guard-patches",
	})
	require.NoError(t, err)

	text := out.String()
	require.Contains(t, text, "Approval required: apply_patch")
	require.Contains(t, text, "appr_show")
	require.Contains(t, text, "run_show")
	require.Contains(t, text, "reason: fix typo")
	require.Contains(t, text, "-old line")
	require.Contains(t, text, "+new line")
	require.Contains(t, text, "asked by rule guard-patches")
	require.NotContains(t, text, "--- a/x")
}

func TestRequestFromPending(t *testing.T) {
	t.Parallel()

	pending := ports.PendingApproval{
		ID: "appr_map",
		Call: types.ToolCall{
			Name:      "run_command",
			Arguments: map[string]any{"command": "rm -rf build"},
			RunID:     "run_map",
		},
		Rule: &types.HookRule{ID: "ask-destructive"},
	}

	req := RequestFromPending(pending)
	require.Equal(t, "appr_map", req.ApprovalID)
	require.Equal(t, "run_map", req.RunID)
	require.Equal(t, "run_command", req.ToolName)
	require.Equal(t, "rm -rf build", req.Command)
	require.Contains(t, req.Summary, "ask-destructive")

	patch := ports.PendingApproval{
		ID:   "appr_diff",
		Call: types.ToolCall{Name: "apply_patch", Arguments: map[string]any{"diff": "+x\n"}},
	}
	req = RequestFromPending(patch)
	require.Equal(t, "+x\n", req.Diff)
	require.Empty(t, req.Summary)
}

func TestAutoApprover(t *testing.T) {
	t.Parallel()

	resp, err := AutoApprover{}.RequestApproval(context.Background(), ports.ApprovalRequest{ToolName: "read_file"})
	require.NoError(t, err)
	require.Equal(t, ports.ApprovalApprove, resp.Action)
}
