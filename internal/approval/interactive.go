// Package approval presents parked tool calls on a terminal and collects
// the human verdict.
package approval

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"golang.org/x/term"

	"drover/internal/agent/ports"
)

// Terminal implements ports.ApprovalSurface on a terminal. On a real TTY
// it shows an arrow-key menu; piped sessions fall back to a y/n/a line
// prompt.
type Terminal struct {
	in           io.Reader
	out          io.Writer
	reader       *bufio.Reader
	timeout      time.Duration
	autoApprove  bool
	interactive  bool
	colorEnabled bool
}

// NewTerminal creates a prompt on stdin/stdout. A zero timeout waits
// forever; autoApprove skips the prompt entirely.
func NewTerminal(timeout time.Duration, autoApprove bool) *Terminal {
	tty := term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
	return NewTerminalWith(os.Stdin, os.Stdout, timeout, autoApprove, tty)
}

// NewTerminalWith binds the prompt to explicit streams. interactive
// selects the menu prompt over the line prompt and also enables color.
func NewTerminalWith(in io.Reader, out io.Writer, timeout time.Duration, autoApprove, interactive bool) *Terminal {
	return &Terminal{
		in:           in,
		out:          out,
		reader:       bufio.NewReader(in),
		timeout:      timeout,
		autoApprove:  autoApprove,
		interactive:  interactive,
		colorEnabled: interactive,
	}
}

// RequestFromPending converts a parked gateway approval into the prompt
// payload.
func RequestFromPending(p ports.PendingApproval) ports.ApprovalRequest {
	req := ports.ApprovalRequest{
		ApprovalID: p.ID,
		RunID:      p.Call.RunID,
		ToolName:   p.Call.Name,
		Arguments:  p.Call.Arguments,
		Command:    p.Call.Command(),
	}
	if diff, ok := p.Call.Arguments["diff"].(string); ok {
		req.Diff = diff
	}
	if p.Rule != nil {
		req.Summary = fmt.Sprintf("asked by rule %s", p.Rule.ID)
	}
	return req
}

// RequestApproval renders the request and blocks for a decision. A
// timeout resolves as a deny; ctx cancellation aborts with ctx.Err().
func (t *Terminal) RequestApproval(ctx context.Context, req ports.ApprovalRequest) (*ports.ApprovalResponse, error) {
	if t.autoApprove {
		return &ports.ApprovalResponse{
			Action:    ports.ApprovalApprove,
			Message:   "auto-approved",
			DecidedBy: "auto",
		}, nil
	}

	t.display(req)
	return t.promptWithTimeout(ctx, req)
}

// display shows the parked call and its payload to the user.
func (t *Terminal) display(req ports.ApprovalRequest) {
	separator := strings.Repeat("=", 72)

	fmt.Fprintln(t.out)
	fmt.Fprintln(t.out, t.colorize(separator, color.FgCyan))
	fmt.Fprintln(t.out, t.colorize(fmt.Sprintf("Approval required: %s", req.ToolName), color.FgYellow, color.Bold))
	fmt.Fprintln(t.out, t.colorize(fmt.Sprintf("ID: %s", req.ApprovalID), color.FgHiBlack))
	if req.RunID != "" {
		fmt.Fprintln(t.out, t.colorize(fmt.Sprintf("Run: %s", req.RunID), color.FgHiBlack))
	}
	fmt.Fprintln(t.out, t.colorize(separator, color.FgCyan))

	if req.Command != "" {
		fmt.Fprintln(t.out, t.colorize("Command:", color.FgCyan))
		fmt.Fprintf(t.out, "  %s\n", req.Command)
	}

	for _, key := range sortedArgKeys(req.Arguments) {
		if key == "command" || key == "diff" {
			continue
		}
		fmt.Fprintf(t.out, "  %s: %v\n", key, req.Arguments[key])
	}

	if req.Diff != "" {
		fmt.Fprintln(t.out, t.colorize("Changes:", color.FgCyan))
		t.displayDiff(req.Diff)
	}

	if req.Summary != "" {
		fmt.Fprintln(t.out, t.colorize(req.Summary, color.FgHiBlack))
	}
}

func (t *Terminal) displayDiff(diff string) {
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			fmt.Fprintln(t.out, t.colorize(line, color.FgGreen))
		case strings.HasPrefix(line, "-"):
			fmt.Fprintln(t.out, t.colorize(line, color.FgRed))
		default:
			fmt.Fprintln(t.out, line)
		}
	}
}

// promptWithTimeout collects the verdict, resolving as a deny when the
// deadline passes without one.
func (t *Terminal) promptWithTimeout(ctx context.Context, req ports.ApprovalRequest) (*ports.ApprovalResponse, error) {
	responseChan := make(chan *ports.ApprovalResponse, 1)
	errorChan := make(chan error, 1)

	go func() {
		response, err := t.readDecision(req)
		if err != nil {
			errorChan <- err
			return
		}
		responseChan <- response
	}()

	waitCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	select {
	case response := <-responseChan:
		return response, nil
	case err := <-errorChan:
		return nil, err
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fmt.Fprintln(t.out)
		fmt.Fprintln(t.out, t.colorize("No decision in time, denying", color.FgRed))
		return &ports.ApprovalResponse{
			Action:    ports.ApprovalDeny,
			Message:   fmt.Sprintf("no decision after %s", t.timeout),
			DecidedBy: "timeout",
		}, nil
	}
}

func (t *Terminal) readDecision(req ports.ApprovalRequest) (*ports.ApprovalResponse, error) {
	if t.interactive {
		return t.selectDecision(req)
	}
	return t.lineDecision()
}

// selectDecision shows the promptui menu. Only reachable on a real TTY.
func (t *Terminal) selectDecision(req ports.ApprovalRequest) (*ports.ApprovalResponse, error) {
	sel := promptui.Select{
		Label: fmt.Sprintf("Decision for %s", req.ToolName),
		Items: []string{"approve", "deny", "always allow"},
	}
	idx, _, err := sel.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return &ports.ApprovalResponse{
				Action:    ports.ApprovalDeny,
				Message:   "prompt interrupted",
				DecidedBy: "user",
			}, nil
		}
		return nil, fmt.Errorf("failed to read decision: %w", err)
	}

	actions := []ports.ApprovalAction{ports.ApprovalApprove, ports.ApprovalDeny, ports.ApprovalAlwaysAllow}
	return &ports.ApprovalResponse{Action: actions[idx], DecidedBy: "user"}, nil
}

// lineDecision reads y/n/a answers, re-asking on anything else. An empty
// reply denies, matching the safer default.
func (t *Terminal) lineDecision() (*ports.ApprovalResponse, error) {
	fmt.Fprintln(t.out)
	fmt.Fprintln(t.out, t.colorize("Allow this call?", color.FgYellow, color.Bold))
	fmt.Fprintln(t.out, "  [y] Yes, run it")
	fmt.Fprintln(t.out, "  [n] No, deny")
	fmt.Fprintln(t.out, "  [a] Always allow this tool")
	fmt.Fprint(t.out, t.colorize("Choice: ", color.FgCyan))

	input, err := t.reader.ReadString('\n')
	if err != nil && strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("failed to read decision: %w", err)
	}

	switch strings.TrimSpace(strings.ToLower(input)) {
	case "y", "yes":
		return &ports.ApprovalResponse{Action: ports.ApprovalApprove, DecidedBy: "user"}, nil
	case "n", "no", "":
		return &ports.ApprovalResponse{Action: ports.ApprovalDeny, DecidedBy: "user"}, nil
	case "a", "always":
		return &ports.ApprovalResponse{Action: ports.ApprovalAlwaysAllow, DecidedBy: "user"}, nil
	default:
		if err != nil {
			return nil, fmt.Errorf("failed to read decision: %w", err)
		}
		fmt.Fprintln(t.out, t.colorize("Invalid choice. Enter y, n or a.", color.FgRed))
		return t.lineDecision()
	}
}

// colorize applies color to text when enabled.
func (t *Terminal) colorize(text string, attributes ...color.Attribute) string {
	if !t.colorEnabled {
		return text
	}
	c := color.New(attributes...)
	return c.Sprint(text)
}

func sortedArgKeys(args map[string]any) []string {
	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// AutoApprover approves every request without prompting.
type AutoApprover struct{}

func (AutoApprover) RequestApproval(_ context.Context, _ ports.ApprovalRequest) (*ports.ApprovalResponse, error) {
	return &ports.ApprovalResponse{
		Action:    ports.ApprovalApprove,
		Message:   "auto-approved",
		DecidedBy: "auto",
	}, nil
}
