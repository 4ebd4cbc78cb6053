// Package parser extracts tool calls embedded in reasoning output.
// Providers that cannot return structured calls emit them inline as
// <tool_call>{"name": ..., "args": {...}}</tool_call> blocks; the parser
// recovers those, repairing near-JSON on the way.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"drover/internal/logging"
	"drover/internal/utils/id"
	"drover/pkg/types"
)

var (
	blockPattern = regexp.MustCompile(`(?s)<tool_call>\s*(.*?)\s*</tool_call>`)
	namePattern  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
)

// Definition describes one callable tool for validation.
type Definition struct {
	Name     string
	Required []string
}

// Known builds bare definitions for a list of tool names.
func Known(names []string) []Definition {
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		defs = append(defs, Definition{Name: name})
	}
	return defs
}

// Parser finds tool-call blocks in free text and validates the calls
// against registered tool definitions.
type Parser struct {
	defs   map[string]Definition
	logger logging.Logger
}

func New(logger logging.Logger, defs ...Definition) *Parser {
	byName := make(map[string]Definition, len(defs))
	for _, def := range defs {
		if def.Name != "" {
			byName[def.Name] = def
		}
	}
	return &Parser{defs: byName, logger: logging.OrNop(logger)}
}

// Parse extracts every tool-call block from content, in order. Blocks
// whose payload cannot be decoded even after repair, or whose tool name
// is not a plain identifier, are skipped rather than surfaced as errors;
// a provider that emits garbage gets no calls back, not a crash.
func (p *Parser) Parse(content string) []types.ToolCall {
	matches := blockPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	var calls []types.ToolCall
	for _, match := range matches {
		name, args, ok := p.decode(match[1])
		if !ok {
			continue
		}
		if !namePattern.MatchString(name) {
			p.logger.Debug("skipping tool call with invalid name %q", name)
			continue
		}
		calls = append(calls, types.ToolCall{
			ID:        id.NewCallID(),
			Name:      name,
			Arguments: args,
		})
	}
	return calls
}

// decode unmarshals one block payload, falling back to jsonrepair when
// the payload is close to JSON but not valid.
func (p *Parser) decode(payload string) (string, map[string]any, bool) {
	var raw struct {
		Name      string         `json:"name"`
		Args      map[string]any `json:"args"`
		Arguments map[string]any `json:"arguments"`
	}

	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(payload)
		if repairErr != nil {
			p.logger.Debug("tool call block is not recoverable JSON: %v", repairErr)
			return "", nil, false
		}
		if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
			p.logger.Debug("repaired tool call block still invalid: %v", err)
			return "", nil, false
		}
	}

	args := raw.Args
	if args == nil {
		args = raw.Arguments
	}
	return strings.TrimSpace(raw.Name), args, true
}

// Validate checks the call against the registered definitions: the tool
// must be known and every required argument present. A parser built with
// no definitions validates nothing.
func (p *Parser) Validate(call types.ToolCall) error {
	if len(p.defs) == 0 {
		return nil
	}
	def, ok := p.defs[call.Name]
	if !ok {
		return fmt.Errorf("unknown tool %q", call.Name)
	}
	for _, required := range def.Required {
		if _, ok := call.Arguments[required]; !ok {
			return fmt.Errorf("tool %s: missing required argument %q", call.Name, required)
		}
	}
	return nil
}
