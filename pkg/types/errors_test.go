package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		err         error
		recoverable bool
		terminal    bool
		pending     bool
	}{
		{"denied", &PermissionDeniedError{Tool: "run_command", RuleID: "no-root"}, true, false, false},
		{"execution", &ToolExecutionError{Tool: "read_file", Err: errors.New("boom")}, true, false, false},
		{"pending", &PendingApprovalError{ApprovalID: "appr_1", Tool: "write_file"}, false, false, true},
		{"iteration limit", &IterationLimitError{Limit: 5}, false, true, false},
		{"fatal", &FatalError{Phase: "think", Err: errors.New("provider down")}, false, true, false},
		{"plain", errors.New("plain"), false, false, false},
		{"nil", nil, false, false, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.recoverable, IsRecoverable(tc.err))
			require.Equal(t, tc.terminal, IsTerminal(tc.err))
			require.Equal(t, tc.pending, IsPending(tc.err))
		})
	}
}

func TestClassificationSeesWrappedErrors(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("advance failed: %w", &PermissionDeniedError{Tool: "write_file"})
	require.True(t, IsRecoverable(wrapped))

	wrapped = fmt.Errorf("advance failed: %w", &FatalError{Err: errors.New("poof")})
	require.True(t, IsTerminal(wrapped))
}

func TestToolExecutionErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("command not found")
	err := &ToolExecutionError{Tool: "run_command", Err: cause}
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "run_command")
}

func TestIterationLimitMessage(t *testing.T) {
	t.Parallel()

	err := &IterationLimitError{Limit: 5}
	require.Equal(t, IterationLimitMessage, err.Error())
}
