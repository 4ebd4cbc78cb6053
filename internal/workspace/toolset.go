package workspace

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"drover/internal/agent/ports"
	"drover/internal/logging"
	"drover/internal/parser"
	"drover/internal/patch"
	"drover/pkg/types"
)

// Toolset is the builtin ports.ToolRunner: file access, directory
// listing, command runs, and patch application against one workspace.
type Toolset struct {
	ws       *Workspace
	exec     ports.CommandExecutor
	pipeline *patch.Pipeline
	logger   logging.Logger
}

// NewToolset wires the builtin tools to their backends. exec and
// pipeline may be nil; the corresponding tools then report failures.
func NewToolset(ws *Workspace, exec ports.CommandExecutor, pipeline *patch.Pipeline, logger logging.Logger) *Toolset {
	return &Toolset{ws: ws, exec: exec, pipeline: pipeline, logger: logging.OrNop(logger)}
}

// Tools lists the builtin tool names.
func (t *Toolset) Tools() []string {
	names := []string{"read_file", "write_file", "delete_file", "list_dir", "run_command", "apply_patch"}
	sort.Strings(names)
	return names
}

// Definitions describes the builtin tools for call validation.
func (t *Toolset) Definitions() []parser.Definition {
	return []parser.Definition{
		{Name: "read_file", Required: []string{"path"}},
		{Name: "write_file", Required: []string{"path", "content"}},
		{Name: "delete_file", Required: []string{"path"}},
		{Name: "list_dir", Required: []string{"path"}},
		{Name: "run_command", Required: []string{"command"}},
		{Name: "apply_patch", Required: []string{"diff"}},
	}
}

func (t *Toolset) RunTool(ctx context.Context, call types.ToolCall) (*types.ToolResult, error) {
	started := time.Now()
	var result *types.ToolResult

	switch call.Name {
	case "read_file":
		result = t.readFile(ctx, call)
	case "write_file":
		result = t.writeFile(ctx, call)
	case "delete_file":
		result = t.deleteFile(ctx, call)
	case "list_dir":
		result = t.listDir(call)
	case "run_command":
		result = t.runCommand(ctx, call)
	case "apply_patch":
		result = t.applyPatch(ctx, call)
	default:
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
	result.CallID = call.ID
	result.Duration = time.Since(started)
	return result, nil
}

func stringArg(call types.ToolCall, key string) (string, error) {
	value, ok := call.Arguments[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("missing %q argument", key)
	}
	return value, nil
}

func failure(err error) *types.ToolResult {
	return &types.ToolResult{Error: err}
}

func (t *Toolset) readFile(ctx context.Context, call types.ToolCall) *types.ToolResult {
	path, err := stringArg(call, "path")
	if err != nil {
		return failure(err)
	}
	content, err := t.ws.ReadFile(ctx, path)
	if err != nil {
		return failure(err)
	}
	return &types.ToolResult{
		Content: content,
		Metadata: map[string]any{
			"path":  path,
			"bytes": len(content),
			"lines": strings.Count(content, "\n"),
		},
	}
}

func (t *Toolset) writeFile(ctx context.Context, call types.ToolCall) *types.ToolResult {
	path, err := stringArg(call, "path")
	if err != nil {
		return failure(err)
	}
	content, ok := call.Arguments["content"].(string)
	if !ok {
		return failure(fmt.Errorf("missing %q argument", "content"))
	}
	if err := t.ws.WriteFiles(ctx, []ports.FileWrite{{Path: path, Content: content}}); err != nil {
		return failure(err)
	}
	return &types.ToolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}
}

func (t *Toolset) deleteFile(ctx context.Context, call types.ToolCall) *types.ToolResult {
	path, err := stringArg(call, "path")
	if err != nil {
		return failure(err)
	}
	if err := t.ws.WriteFiles(ctx, []ports.FileWrite{{Path: path, Delete: true}}); err != nil {
		return failure(err)
	}
	return &types.ToolResult{Content: "deleted " + path}
}

func (t *Toolset) listDir(call types.ToolCall) *types.ToolResult {
	path, err := stringArg(call, "path")
	if err != nil {
		return failure(err)
	}
	entries, err := t.ws.ListDir(path)
	if err != nil {
		return failure(err)
	}
	if len(entries) == 0 {
		return &types.ToolResult{Content: "(empty directory)"}
	}
	return &types.ToolResult{
		Content:  strings.Join(entries, "\n"),
		Metadata: map[string]any{"path": path, "entries": len(entries)},
	}
}

func (t *Toolset) runCommand(ctx context.Context, call types.ToolCall) *types.ToolResult {
	command, err := stringArg(call, "command")
	if err != nil {
		return failure(err)
	}
	if t.exec == nil {
		return failure(fmt.Errorf("no command executor configured"))
	}
	dir, _ := call.Arguments["dir"].(string)

	result, err := t.exec.Run(ctx, ports.CommandRequest{Command: command, Dir: dir})
	if err != nil {
		return failure(err)
	}

	text := strings.TrimSpace(result.Stdout)
	if text == "" {
		text = strings.TrimSpace(result.Stderr)
	} else if stderr := strings.TrimSpace(result.Stderr); stderr != "" {
		text = text + "\n" + stderr
	}
	if text == "" {
		text = fmt.Sprintf("exit code %d (no output)", result.ExitCode)
	}

	out := &types.ToolResult{
		Content: text,
		Metadata: map[string]any{
			"command":   command,
			"exit_code": result.ExitCode,
			"stdout":    result.Stdout,
			"stderr":    result.Stderr,
			"timed_out": result.TimedOut,
		},
	}
	switch {
	case result.TimedOut:
		out.Error = fmt.Errorf("command timed out")
	case result.ExitCode != 0:
		out.Error = fmt.Errorf("exit code %d", result.ExitCode)
	}
	return out
}

func (t *Toolset) applyPatch(ctx context.Context, call types.ToolCall) *types.ToolResult {
	diff, err := stringArg(call, "diff")
	if err != nil {
		return failure(err)
	}
	if t.pipeline == nil {
		return failure(fmt.Errorf("no patch pipeline configured"))
	}
	changes, err := t.pipeline.ApplyDiff(ctx, diff)
	if err != nil {
		return failure(err)
	}
	paths := make([]string, 0, len(changes))
	for _, change := range changes {
		paths = append(paths, fmt.Sprintf("%s (%s)", change.Path, change.Kind))
	}
	return &types.ToolResult{
		Content:  fmt.Sprintf("applied %d file(s): %s", len(changes), strings.Join(paths, ", ")),
		Metadata: map[string]any{"files": len(changes)},
	}
}
