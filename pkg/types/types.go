package types

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Decision is the outcome of evaluating a tool call against hook rules.
type Decision string

const (
	DecisionAllow     Decision = "allow"
	DecisionDeny      Decision = "deny"
	DecisionAsk       Decision = "ask"
	DecisionLog       Decision = "log"
	DecisionTransform Decision = "transform"
	DecisionWebhook   Decision = "webhook"
	DecisionNotify    Decision = "notify"
)

// Permits reports whether the decision lets the call execute. Side-effect
// decisions (log, transform, webhook, notify) permit execution; the side
// effect itself is handled by the hook dispatcher.
func (d Decision) Permits() bool {
	switch d {
	case DecisionAllow, DecisionLog, DecisionTransform, DecisionWebhook, DecisionNotify:
		return true
	default:
		return false
	}
}

// SideEffect reports whether the decision carries a dispatcher side effect.
func (d Decision) SideEffect() bool {
	switch d {
	case DecisionLog, DecisionTransform, DecisionWebhook, DecisionNotify:
		return true
	default:
		return false
	}
}

// HookEvent identifies the lifecycle point a hook rule binds to.
type HookEvent string

const (
	EventPreToolUse   HookEvent = "PreToolUse"
	EventPostToolUse  HookEvent = "PostToolUse"
	EventWebhook      HookEvent = "Webhook"
	EventOnDeploy     HookEvent = "OnDeploy"
	EventOnFileChange HookEvent = "OnFileChange"
	EventOnError      HookEvent = "OnError"
)

// Valid reports whether the event is one of the recognized lifecycle points.
func (e HookEvent) Valid() bool {
	switch e {
	case EventPreToolUse, EventPostToolUse, EventWebhook, EventOnDeploy, EventOnFileChange, EventOnError:
		return true
	default:
		return false
	}
}

// RuleAction is what a matched hook rule does with the call.
type RuleAction string

const (
	ActionAllow     RuleAction = "allow"
	ActionDeny      RuleAction = "deny"
	ActionLog       RuleAction = "log"
	ActionTransform RuleAction = "transform"
	ActionWebhook   RuleAction = "webhook"
	ActionNotify    RuleAction = "notify"
)

// Valid reports whether the action is a recognized rule action.
func (a RuleAction) Valid() bool {
	switch a {
	case ActionAllow, ActionDeny, ActionLog, ActionTransform, ActionWebhook, ActionNotify:
		return true
	default:
		return false
	}
}

// Decision maps the action to the decision recorded for a matched call.
func (a RuleAction) Decision() Decision {
	return Decision(a)
}

// HookRule is a single permission rule. Rules are evaluated in declaration
// order; the first enabled rule whose event and patterns match decides.
type HookRule struct {
	ID             string     `yaml:"id" json:"id"`
	Enabled        bool       `yaml:"enabled" json:"enabled"`
	Event          HookEvent  `yaml:"event" json:"event"`
	ToolPattern    string     `yaml:"tool_pattern" json:"tool_pattern"`
	CommandPattern string     `yaml:"command_pattern,omitempty" json:"command_pattern,omitempty"`
	Action         RuleAction `yaml:"action" json:"action"`
	WebhookURL     string     `yaml:"webhook_url,omitempty" json:"webhook_url,omitempty"`
}

// ToolCall represents a request to execute a tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	RunID     string         `json:"run_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// Command returns the command argument for command-shaped tools, or the
// empty string when the call carries none.
func (c ToolCall) Command() string {
	if c.Arguments == nil {
		return ""
	}
	if cmd, ok := c.Arguments["command"].(string); ok {
		return cmd
	}
	return ""
}

// ToolResult is the execution result of a tool call.
type ToolResult struct {
	CallID   string         `json:"call_id"`
	Content  string         `json:"content"`
	Error    error          `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
}

// MarshalJSON customizes ToolResult encoding to support the error interface.
func (r ToolResult) MarshalJSON() ([]byte, error) {
	type Alias struct {
		CallID   string         `json:"call_id"`
		Content  string         `json:"content"`
		Error    any            `json:"error,omitempty"`
		Metadata map[string]any `json:"metadata,omitempty"`
		Duration time.Duration  `json:"duration,omitempty"`
	}

	alias := Alias{
		CallID:   r.CallID,
		Content:  r.Content,
		Metadata: r.Metadata,
		Duration: r.Duration,
	}

	if r.Error != nil {
		alias.Error = r.Error.Error()
	}

	return json.Marshal(alias)
}

// UnmarshalJSON accepts both string and null error representations.
func (r *ToolResult) UnmarshalJSON(data []byte) error {
	type Alias struct {
		CallID   string          `json:"call_id"`
		Content  string          `json:"content"`
		Error    json.RawMessage `json:"error"`
		Metadata map[string]any  `json:"metadata,omitempty"`
		Duration time.Duration   `json:"duration,omitempty"`
	}

	var aux Alias
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.CallID = aux.CallID
	r.Content = aux.Content
	r.Metadata = aux.Metadata
	r.Duration = aux.Duration
	r.Error = nil

	raw := strings.TrimSpace(string(aux.Error))
	if raw == "" || raw == "null" {
		return nil
	}

	var errStr string
	if err := json.Unmarshal(aux.Error, &errStr); err == nil {
		if errStr != "" {
			r.Error = errors.New(errStr)
		}
		return nil
	}

	r.Error = errors.New(raw)
	return nil
}
