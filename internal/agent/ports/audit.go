package ports

import (
	"context"
	"time"
)

// AuditCategory groups audit records by origin.
type AuditCategory string

const (
	AuditApproval AuditCategory = "approval"
	AuditHook     AuditCategory = "hook"
	AuditRun      AuditCategory = "run"
)

// AuditRecord is one append-only entry in the audit trail.
type AuditRecord struct {
	ID       string         `json:"id"`
	Time     time.Time      `json:"time"`
	Category AuditCategory  `json:"category"`
	RunID    string         `json:"run_id,omitempty"`
	RuleID   string         `json:"rule_id,omitempty"`
	Event    string         `json:"event,omitempty"`
	Outcome  string         `json:"outcome"`
	Error    string         `json:"error,omitempty"`
	Detail   map[string]any `json:"detail,omitempty"`
}

// AuditSink receives audit records. Appends must be cheap; slow sinks
// should buffer internally rather than stall callers.
type AuditSink interface {
	Append(ctx context.Context, record AuditRecord) error
}
