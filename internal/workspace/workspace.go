// Package workspace gives the agent a filesystem and a shell scoped to
// one project directory. Paths are confined to the root; batched writes
// stage to temp files and land via rename.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"drover/internal/agent/ports"
	"drover/internal/logging"
)

// Workspace is a ports.FileStore rooted at one directory.
type Workspace struct {
	root   string
	logger logging.Logger
}

// New opens a workspace at root, which must be an existing directory.
func New(root string, logger logging.Logger) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	return &Workspace{root: abs, logger: logging.OrNop(logger)}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve maps a path to an absolute one under the root, rejecting
// anything that escapes it. Relative paths are taken against the root.
func (w *Workspace) Resolve(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	resolved := trimmed
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(w.root, resolved)
	}
	resolved = filepath.Clean(resolved)
	rel, err := filepath.Rel(w.root, resolved)
	if err != nil {
		return "", fmt.Errorf("path %s escapes the workspace", trimmed)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes the workspace", trimmed)
	}
	return resolved, nil
}

func (w *Workspace) ReadFile(_ context.Context, path string) (string, error) {
	resolved, err := w.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFiles applies the batch, staging every new content to a temp file
// in the target directory before any rename. A staging failure leaves
// the workspace untouched; deletes happen last and missing targets are
// ignored.
func (w *Workspace) WriteFiles(_ context.Context, writes []ports.FileWrite) error {
	type staged struct {
		temp  string
		final string
	}

	resolved := make([]string, len(writes))
	for i, write := range writes {
		abs, err := w.Resolve(write.Path)
		if err != nil {
			return err
		}
		resolved[i] = abs
	}

	var stagedFiles []staged
	cleanup := func() {
		for _, s := range stagedFiles {
			_ = os.Remove(s.temp)
		}
	}

	for i, write := range writes {
		if write.Delete {
			continue
		}
		dir := filepath.Dir(resolved[i])
		if err := os.MkdirAll(dir, 0o755); err != nil {
			cleanup()
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		tmp, err := os.CreateTemp(dir, "."+filepath.Base(resolved[i])+".*")
		if err != nil {
			cleanup()
			return fmt.Errorf("failed to stage %s: %w", write.Path, err)
		}
		stagedFiles = append(stagedFiles, staged{temp: tmp.Name(), final: resolved[i]})
		if _, err := tmp.WriteString(write.Content); err != nil {
			_ = tmp.Close()
			cleanup()
			return fmt.Errorf("failed to stage %s: %w", write.Path, err)
		}
		if err := tmp.Close(); err != nil {
			cleanup()
			return fmt.Errorf("failed to stage %s: %w", write.Path, err)
		}
		if err := os.Chmod(tmp.Name(), 0o644); err != nil {
			cleanup()
			return fmt.Errorf("failed to stage %s: %w", write.Path, err)
		}
	}

	for i, s := range stagedFiles {
		if err := os.Rename(s.temp, s.final); err != nil {
			for _, rest := range stagedFiles[i:] {
				_ = os.Remove(rest.temp)
			}
			return fmt.Errorf("failed to write %s: %w", s.final, err)
		}
	}

	for i, write := range writes {
		if !write.Delete {
			continue
		}
		if err := os.Remove(resolved[i]); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", write.Path, err)
		}
	}

	w.logger.Debug("workspace applied %d write(s)", len(writes))
	return nil
}

// ListDir returns the entries of a directory, directories suffixed with
// a separator, in lexical order.
func (w *Workspace) ListDir(path string) ([]string, error) {
	resolved, err := w.Resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += string(filepath.Separator)
		}
		names = append(names, name)
	}
	return names, nil
}
