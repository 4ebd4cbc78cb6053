package ports

import (
	"context"
	"time"

	"drover/pkg/types"
)

// ApprovalRequest contains the information a human needs to decide on a
// parked tool call.
type ApprovalRequest struct {
	ApprovalID string         `json:"approval_id"`
	RunID      string         `json:"run_id,omitempty"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Command    string         `json:"command,omitempty"`
	Diff       string         `json:"diff,omitempty"`
	Summary    string         `json:"summary,omitempty"`
}

// ApprovalAction is the human's verdict on a request.
type ApprovalAction string

const (
	ApprovalApprove     ApprovalAction = "approve"
	ApprovalDeny        ApprovalAction = "deny"
	ApprovalAlwaysAllow ApprovalAction = "always_allow"
)

// ApprovalResponse carries the verdict back to the gateway.
type ApprovalResponse struct {
	Action    ApprovalAction `json:"action"`
	Message   string         `json:"message,omitempty"`
	DecidedBy string         `json:"decided_by,omitempty"`
}

// ApprovalSurface is a host-provided prompt for resolving parked calls
// inline, such as a terminal prompt or a chat message. Hosts that resolve
// approvals through the runner API instead can leave this unset.
type ApprovalSurface interface {
	// RequestApproval presents the request and blocks for a verdict,
	// honoring ctx cancellation.
	RequestApproval(ctx context.Context, req ApprovalRequest) (*ApprovalResponse, error)
}

// PendingApproval is a tool call parked for a human decision.
type PendingApproval struct {
	ID   string         `json:"id"`
	Call types.ToolCall `json:"call"`
	// Rule is the rule that asked, nil when the ask came from the
	// no-match default.
	Rule       *types.HookRule `json:"rule,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	Resolution ApprovalAction  `json:"resolution,omitempty"`
	ResolvedBy string          `json:"resolved_by,omitempty"`
}
