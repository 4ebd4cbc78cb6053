package policy

import (
	"fmt"

	"drover/internal/logging"
	"drover/pkg/types"
)

// Evaluation is the outcome of checking one tool call against the rules.
type Evaluation struct {
	Decision types.Decision
	// Rule is the matched rule, nil when the decision came from the
	// always-allow cache or the no-match default.
	Rule     *types.HookRule
	CacheHit bool
}

type compiledRule struct {
	rule    types.HookRule
	tool    toolMatcher
	command commandMatcher
}

// Engine evaluates tool calls against an ordered rule list. Rules are
// compiled once at construction; evaluation is read-only and safe for
// concurrent use.
type Engine struct {
	rules  []compiledRule
	logger logging.Logger
}

// NewEngine compiles the rule list. Rules with an unknown event or action
// or an invalid command pattern are rejected with the rule id in the error.
func NewEngine(rules []types.HookRule, logger logging.Logger) (*Engine, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		if rule.ID == "" {
			rule.ID = fmt.Sprintf("rule-%d", i)
		}
		if !rule.Event.Valid() {
			return nil, fmt.Errorf("rule %q: unknown event %q", rule.ID, rule.Event)
		}
		if !rule.Action.Valid() {
			return nil, fmt.Errorf("rule %q: unknown action %q", rule.ID, rule.Action)
		}
		cmd, err := compileCommandMatcher(rule.ID, rule.CommandPattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{
			rule:    rule,
			tool:    compileToolMatcher(rule.ToolPattern),
			command: cmd,
		})
	}
	return &Engine{rules: compiled, logger: logging.OrNop(logger)}, nil
}

// RuleCount returns the number of compiled rules.
func (e *Engine) RuleCount() int {
	return len(e.rules)
}

// Rules returns copies of the compiled rule definitions in order.
func (e *Engine) Rules() []types.HookRule {
	out := make([]types.HookRule, len(e.rules))
	for i, cr := range e.rules {
		out[i] = cr.rule
	}
	return out
}

// Evaluate decides what happens to a tool call at the given lifecycle
// event. The session's always-allow cache wins before any rule is
// consulted; otherwise the first enabled matching rule decides; no match
// falls back to ask.
func (e *Engine) Evaluate(session *SessionPermissions, event types.HookEvent, call types.ToolCall) Evaluation {
	if session.Allowed(call.Name) {
		e.logger.Debug("tool %s allowed by session grant", call.Name)
		return Evaluation{Decision: types.DecisionAllow, CacheHit: true}
	}

	for i := range e.rules {
		cr := &e.rules[i]
		if !cr.rule.Enabled {
			continue
		}
		if cr.rule.Event != event {
			continue
		}
		if !cr.tool.matches(call.Name) {
			continue
		}
		if cr.rule.CommandPattern != "" && !cr.command.matches(call.Command()) {
			continue
		}
		rule := cr.rule
		e.logger.Debug("tool %s matched rule %s: %s", call.Name, rule.ID, rule.Action)
		return Evaluation{Decision: rule.Action.Decision(), Rule: &rule}
	}

	// Unmatched calls fall through to a human decision, never to allow.
	e.logger.Debug("tool %s matched no rule, asking", call.Name)
	return Evaluation{Decision: types.DecisionAsk}
}
