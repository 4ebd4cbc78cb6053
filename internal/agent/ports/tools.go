package ports

import (
	"context"

	"drover/pkg/types"
)

// ToolRunner executes approved tool calls. A result whose Error field is
// set reports a tool-level failure the reasoning loop should see; a
// non-nil error reports that the tool could not be run at all.
type ToolRunner interface {
	RunTool(ctx context.Context, call types.ToolCall) (*types.ToolResult, error)

	// Tools lists the names the runner can execute.
	Tools() []string
}
