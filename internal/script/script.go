// Package script loads deterministic playbooks that stand in for a
// reasoning provider. A playbook replays one thought per step, which lets
// a host drive the full gateway, patch and approval machinery without
// wiring a model.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"drover/internal/agent/ports"
	"drover/pkg/types"
)

// Playbook is an ordered list of scripted thoughts.
type Playbook struct {
	Steps []Step `json:"steps" yaml:"steps"`
}

// Step is one scripted thought. Think text may accompany any action, and
// at most one action may be set.
type Step struct {
	Think    string        `json:"think,omitempty" yaml:"think,omitempty"`
	Tool     *ToolStep     `json:"tool,omitempty" yaml:"tool,omitempty"`
	Patch    *PatchStep    `json:"patch,omitempty" yaml:"patch,omitempty"`
	Run      *RunStep      `json:"run,omitempty" yaml:"run,omitempty"`
	Evaluate *EvaluateStep `json:"evaluate,omitempty" yaml:"evaluate,omitempty"`
	Done     *DoneStep     `json:"done,omitempty" yaml:"done,omitempty"`
}

// ToolStep requests a tool call through the gateway.
type ToolStep struct {
	Name string         `json:"name" yaml:"name"`
	Args map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// PatchStep applies a unified diff, inline or loaded from a file next to
// the playbook.
type PatchStep struct {
	Diff     string `json:"diff,omitempty" yaml:"diff,omitempty"`
	DiffFile string `json:"diff_file,omitempty" yaml:"diff_file,omitempty"`
	RunAfter string `json:"run_after,omitempty" yaml:"run_after,omitempty"`
	Dir      string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// RunStep executes a workspace command.
type RunStep struct {
	Command string `json:"command" yaml:"command"`
	Dir     string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// EvaluateStep reports whether the goal is met.
type EvaluateStep struct {
	GoalMet bool   `json:"goal_met" yaml:"goal_met"`
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// DoneStep ends the run with a final answer.
type DoneStep struct {
	Answer string `json:"answer,omitempty" yaml:"answer,omitempty"`
}

// Load reads and validates a playbook. diff_file references resolve
// relative to the playbook's directory and are inlined.
func Load(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbook %s: %w", path, err)
	}

	var pb Playbook
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &pb)
	default:
		err = yaml.Unmarshal(data, &pb)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse playbook %s: %w", path, err)
	}

	if len(pb.Steps) == 0 {
		return nil, fmt.Errorf("playbook %s has no steps", path)
	}
	base := filepath.Dir(path)
	for i := range pb.Steps {
		if err := resolveStep(&pb.Steps[i], base); err != nil {
			return nil, fmt.Errorf("playbook %s step %d: %w", path, i+1, err)
		}
	}
	return &pb, nil
}

func resolveStep(step *Step, base string) error {
	actions := 0
	if step.Tool != nil {
		actions++
		if strings.TrimSpace(step.Tool.Name) == "" {
			return fmt.Errorf("tool step needs a name")
		}
	}
	if step.Patch != nil {
		actions++
		switch {
		case step.Patch.Diff != "" && step.Patch.DiffFile != "":
			return fmt.Errorf("patch step sets both diff and diff_file")
		case step.Patch.Diff == "" && step.Patch.DiffFile == "":
			return fmt.Errorf("patch step needs diff or diff_file")
		case step.Patch.DiffFile != "":
			diffPath := step.Patch.DiffFile
			if !filepath.IsAbs(diffPath) {
				diffPath = filepath.Join(base, diffPath)
			}
			data, err := os.ReadFile(diffPath)
			if err != nil {
				return fmt.Errorf("failed to read diff_file: %w", err)
			}
			step.Patch.Diff = string(data)
			step.Patch.DiffFile = ""
		}
	}
	if step.Run != nil {
		actions++
		if strings.TrimSpace(step.Run.Command) == "" {
			return fmt.Errorf("run step needs a command")
		}
	}
	if step.Evaluate != nil {
		actions++
	}
	if step.Done != nil {
		actions++
	}

	if actions > 1 {
		return fmt.Errorf("step sets %d actions, want at most one", actions)
	}
	if actions == 0 && strings.TrimSpace(step.Think) == "" {
		return fmt.Errorf("step is empty")
	}
	return nil
}

// Provider replays a playbook one thought per Think call. It implements
// ports.ReasoningProvider and is safe for concurrent use.
type Provider struct {
	mu    sync.Mutex
	steps []Step
	next  int
}

// NewProvider wraps a loaded playbook.
func NewProvider(pb *Playbook) *Provider {
	return &Provider{steps: pb.Steps}
}

// Think returns the next scripted thought. A playbook that runs out
// before ending the run is a provider failure, which the runner records
// as fatal.
func (p *Provider) Think(_ context.Context, req ports.ThinkRequest) (*ports.Thought, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.next >= len(p.steps) {
		return nil, fmt.Errorf("playbook exhausted after %d thoughts without finishing the run", len(p.steps))
	}
	step := p.steps[p.next]
	p.next++

	thought := &ports.Thought{Text: step.Think}
	switch {
	case step.Tool != nil:
		thought.ToolCalls = []types.ToolCall{{
			Name:      step.Tool.Name,
			Arguments: step.Tool.Args,
			RunID:     req.RunID,
		}}
	case step.Patch != nil:
		thought.Patch = &ports.PatchAction{
			Diff:     step.Patch.Diff,
			RunAfter: step.Patch.RunAfter,
			Dir:      step.Patch.Dir,
		}
	case step.Run != nil:
		thought.Run = &ports.RunAction{Command: step.Run.Command, Dir: step.Run.Dir}
	case step.Evaluate != nil:
		thought.Evaluation = &ports.EvaluationAction{GoalMet: step.Evaluate.GoalMet, Summary: step.Evaluate.Summary}
	case step.Done != nil:
		thought.Done = &ports.DoneAction{Answer: step.Done.Answer}
	}
	return thought, nil
}

// Remaining reports how many scripted thoughts are left.
func (p *Provider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.steps) - p.next
}
