package id

import (
	"fmt"

	"github.com/google/uuid"
)

// NewRunID generates a run identifier with a stable prefix for display.
func NewRunID() string {
	return newIdentifier("run")
}

// NewCallID generates a tool call identifier.
func NewCallID() string {
	return newIdentifier("call")
}

// NewApprovalID generates a pending approval identifier.
func NewApprovalID() string {
	return newIdentifier("appr")
}

// NewPatchSetID generates an identifier for a previewed patch set.
func NewPatchSetID() string {
	return newIdentifier("patch")
}

// NewDispatchID generates an identifier for a hook dispatch.
func NewDispatchID() string {
	return newIdentifier("hook")
}

// NewAuditID generates an identifier for an audit record.
func NewAuditID() string {
	return newIdentifier("audit")
}

func newIdentifier(prefix string) string {
	body := ""
	if v7, err := uuid.NewV7(); err == nil {
		body = v7.String()
	} else {
		body = uuid.NewString()
	}
	return fmt.Sprintf("%s_%s", prefix, body)
}
