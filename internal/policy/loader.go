package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"drover/pkg/types"
)

type rulesFile struct {
	Rules []types.HookRule `yaml:"rules"`
}

// ParseRules decodes hook rules from YAML. Both a wrapped document with a
// top-level "rules" key and a bare rule list are accepted.
func ParseRules(data []byte) ([]types.HookRule, error) {
	var wrapped rulesFile
	if err := yaml.Unmarshal(data, &wrapped); err == nil && wrapped.Rules != nil {
		return wrapped.Rules, nil
	}

	var bare []types.HookRule
	if err := yaml.Unmarshal(data, &bare); err != nil {
		return nil, fmt.Errorf("parse hook rules: %w", err)
	}
	return bare, nil
}

// LoadRules reads hook rules from a YAML file. A missing file is not an
// error; it yields an empty rule list, which evaluates everything to ask.
func LoadRules(path string) ([]types.HookRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read hook rules %s: %w", path, err)
	}
	return ParseRules(data)
}

// SaveRules writes hook rules to a YAML file in the wrapped form.
func SaveRules(path string, rules []types.HookRule) error {
	data, err := yaml.Marshal(rulesFile{Rules: rules})
	if err != nil {
		return fmt.Errorf("marshal hook rules: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write hook rules %s: %w", path, err)
	}
	return nil
}
