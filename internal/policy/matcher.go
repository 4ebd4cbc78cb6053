package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// toolMatcher is the compiled form of a rule's tool pattern. The grammar is
// deliberately small: "*" matches any tool, a trailing "*" matches a name
// prefix, anything else matches exactly.
type toolMatcher struct {
	any    bool
	prefix string
	exact  string
}

func compileToolMatcher(pattern string) toolMatcher {
	if pattern == "" || pattern == "*" {
		return toolMatcher{any: true}
	}
	if strings.HasSuffix(pattern, "*") {
		return toolMatcher{prefix: strings.TrimSuffix(pattern, "*")}
	}
	return toolMatcher{exact: pattern}
}

func (m toolMatcher) matches(tool string) bool {
	if m.any {
		return true
	}
	if m.exact != "" {
		return tool == m.exact
	}
	return strings.HasPrefix(tool, m.prefix)
}

// commandMatcher holds the compiled command constraint. A nil regexp means
// the rule places no constraint on the command argument.
type commandMatcher struct {
	re *regexp.Regexp
}

func compileCommandMatcher(ruleID, pattern string) (commandMatcher, error) {
	if pattern == "" {
		return commandMatcher{}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return commandMatcher{}, fmt.Errorf("rule %q: invalid command pattern: %w", ruleID, err)
	}
	return commandMatcher{re: re}, nil
}

func (m commandMatcher) matches(command string) bool {
	if m.re == nil {
		return true
	}
	if command == "" {
		return false
	}
	return m.re.MatchString(command)
}
