package patch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"drover/internal/agent/ports"
	"drover/internal/logging"
	"drover/internal/utils/id"
	"drover/pkg/types"
)

// ChangeKind classifies what an applied patch did to a file.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// FileChange records the before and after content of one patched file.
type FileChange struct {
	Path   string     `json:"path"`
	Kind   ChangeKind `json:"kind"`
	Before string     `json:"before,omitempty"`
	After  string     `json:"after,omitempty"`
}

// SetState is the lifecycle state of a previewed patch set.
type SetState string

const (
	SetPreviewed SetState = "previewed"
	SetApplied   SetState = "applied"
	SetFailed    SetState = "failed"
	SetCancelled SetState = "cancelled"
)

// PreviewSet is a rendered, not-yet-applied patch set. Each set resolves
// exactly once to applied, failed, or cancelled.
type PreviewSet struct {
	ID         string        `json:"id"`
	Patches    []ParsedPatch `json:"patches"`
	Stats      PatchStats    `json:"stats"`
	Rendered   string        `json:"rendered"`
	State      SetState      `json:"state"`
	Err        string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// Pipeline parses, previews, and applies unified diffs through a file
// store, all-or-nothing. It optionally chains a command run after an
// apply.
type Pipeline struct {
	files     ports.FileStore
	exec      ports.CommandExecutor
	generator *Generator
	logger    logging.Logger

	mu       sync.Mutex
	previews map[string]*PreviewSet
}

// NewPipeline creates a pipeline over the given collaborators. exec may be
// nil when ApplyAndRun is not needed.
func NewPipeline(files ports.FileStore, exec ports.CommandExecutor, logger logging.Logger) *Pipeline {
	return &Pipeline{
		files:     files,
		exec:      exec,
		generator: NewGenerator(defaultContextLines, false),
		logger:    logging.OrNop(logger),
		previews:  make(map[string]*PreviewSet),
	}
}

// SetColorEnabled toggles colorized preview rendering.
func (p *Pipeline) SetColorEnabled(enabled bool) {
	p.generator.colorEnabled = enabled
}

// Apply verifies every hunk of every patch against current file content
// and writes the whole batch atomically. Any conflict aborts the apply
// with nothing written.
func (p *Pipeline) Apply(ctx context.Context, patches []ParsedPatch) ([]FileChange, error) {
	if p.files == nil {
		return nil, fmt.Errorf("patch pipeline has no file store")
	}
	if len(patches) == 0 {
		return nil, fmt.Errorf("empty patch set")
	}

	// Materialize everything in memory first. The overlay lets a later
	// patch in the same set see an earlier patch's result for the same
	// path.
	overlay := make(map[string]*FileChange)
	changes := make([]FileChange, 0, len(patches))
	writes := make([]ports.FileWrite, 0, len(patches))

	for _, fp := range patches {
		current, exists, err := p.currentContent(ctx, overlay, fp.Path)
		if err != nil {
			return nil, err
		}

		var change FileChange
		switch {
		case fp.Created:
			if exists {
				return nil, conflict(fp.Path, 0, "file already exists")
			}
			content, err := applyCreate(fp)
			if err != nil {
				return nil, err
			}
			change = FileChange{Path: fp.Path, Kind: ChangeCreated, After: content}
			writes = append(writes, ports.FileWrite{Path: fp.Path, Content: content})
		case fp.Deleted:
			if !exists {
				return nil, conflict(fp.Path, 0, "file does not exist")
			}
			if err := verifyDelete(current, fp); err != nil {
				return nil, err
			}
			change = FileChange{Path: fp.Path, Kind: ChangeDeleted, Before: current}
			writes = append(writes, ports.FileWrite{Path: fp.Path, Delete: true})
		default:
			if !exists {
				return nil, conflict(fp.Path, 0, "file does not exist")
			}
			content, err := applyToContent(current, fp)
			if err != nil {
				return nil, err
			}
			change = FileChange{Path: fp.Path, Kind: ChangeModified, Before: current, After: content}
			writes = append(writes, ports.FileWrite{Path: fp.Path, Content: content})
		}

		changes = append(changes, change)
		copied := change
		overlay[fp.Path] = &copied
	}

	if err := p.files.WriteFiles(ctx, writes); err != nil {
		return nil, fmt.Errorf("write patched files: %w", err)
	}

	stats := ComputeStats(patches)
	p.logger.Info("applied patch set: %s", stats.FormatSummary())
	return changes, nil
}

// currentContent reads a path through the in-flight overlay.
func (p *Pipeline) currentContent(ctx context.Context, overlay map[string]*FileChange, path string) (content string, exists bool, err error) {
	if prior, ok := overlay[path]; ok {
		if prior.Kind == ChangeDeleted {
			return "", false, nil
		}
		return prior.After, true, nil
	}
	content, err = p.files.ReadFile(ctx, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}
	return content, true, nil
}

// ApplyDiff parses and applies raw diff text.
func (p *Pipeline) ApplyDiff(ctx context.Context, diffText string) ([]FileChange, error) {
	patches, err := Parse(diffText)
	if err != nil {
		return nil, err
	}
	return p.Apply(ctx, patches)
}

// ApplyAndRun applies the patches and then executes command in dir. The
// command does not run when the apply fails; a failing command does not
// roll the apply back, the caller sees both outcomes.
func (p *Pipeline) ApplyAndRun(ctx context.Context, patches []ParsedPatch, command, dir string) ([]FileChange, *ports.CommandResult, error) {
	changes, err := p.Apply(ctx, patches)
	if err != nil {
		return nil, nil, err
	}
	if command == "" {
		return changes, nil, nil
	}
	if p.exec == nil {
		return changes, nil, fmt.Errorf("patch pipeline has no command executor")
	}
	result, err := p.exec.Run(ctx, ports.CommandRequest{Command: command, Dir: dir})
	if err != nil {
		return changes, nil, &types.ToolExecutionError{Tool: "run", Err: err}
	}
	return changes, result, nil
}

// Preview registers a patch set and returns its rendering without touching
// any file.
func (p *Pipeline) Preview(patches []ParsedPatch) (*PreviewSet, error) {
	if len(patches) == 0 {
		return nil, fmt.Errorf("empty patch set")
	}

	var sb []byte
	for _, fp := range patches {
		sb = append(sb, p.generator.Colorize(RenderParsed(fp))...)
	}

	set := &PreviewSet{
		ID:        id.NewPatchSetID(),
		Patches:   patches,
		Stats:     ComputeStats(patches),
		Rendered:  string(sb),
		State:     SetPreviewed,
		CreatedAt: time.Now(),
	}

	p.mu.Lock()
	p.previews[set.ID] = set
	p.mu.Unlock()

	p.logger.Debug("previewed patch set %s: %s", set.ID, set.Stats.FormatSummary())
	return set.snapshot(), nil
}

// ApplySet applies a previewed set, resolving it to applied or failed.
func (p *Pipeline) ApplySet(ctx context.Context, setID string) ([]FileChange, error) {
	p.mu.Lock()
	set, ok := p.previews[setID]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("unknown patch set %q", setID)
	}
	if set.State != SetPreviewed {
		p.mu.Unlock()
		return nil, fmt.Errorf("patch set %q already resolved to %s", setID, set.State)
	}
	patches := set.Patches
	p.mu.Unlock()

	changes, err := p.Apply(ctx, patches)

	p.mu.Lock()
	now := time.Now()
	set.ResolvedAt = &now
	if err != nil {
		set.State = SetFailed
		set.Err = err.Error()
	} else {
		set.State = SetApplied
	}
	p.mu.Unlock()

	return changes, err
}

// CancelSet resolves a previewed set to cancelled.
func (p *Pipeline) CancelSet(setID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.previews[setID]
	if !ok {
		return fmt.Errorf("unknown patch set %q", setID)
	}
	if set.State != SetPreviewed {
		return fmt.Errorf("patch set %q already resolved to %s", setID, set.State)
	}
	now := time.Now()
	set.State = SetCancelled
	set.ResolvedAt = &now
	return nil
}

// Set returns a copy of a registered preview set.
func (p *Pipeline) Set(setID string) (*PreviewSet, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.previews[setID]
	if !ok {
		return nil, false
	}
	return set.snapshot(), true
}

func (s *PreviewSet) snapshot() *PreviewSet {
	copied := *s
	if s.ResolvedAt != nil {
		t := *s.ResolvedAt
		copied.ResolvedAt = &t
	}
	return &copied
}
