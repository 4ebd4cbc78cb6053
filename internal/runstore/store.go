// Package runstore persists run snapshots as one JSON file per run.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"drover/internal/logging"
	"drover/pkg/types"
)

// ErrNotFound reports a run id with no stored snapshot.
var ErrNotFound = errors.New("run not found")

// Store keeps each run under baseDir as <run id>.json.
type Store struct {
	baseDir string
	logger  logging.Logger
}

// Summary is the listing view of a stored run.
type Summary struct {
	ID         string          `json:"id"`
	Goal       string          `json:"goal"`
	Status     types.RunStatus `json:"status"`
	Iterations int             `json:"iterations"`
	Steps      int             `json:"steps"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Summarize condenses a run into its listing view.
func Summarize(run types.AgentRun) Summary {
	return Summary{
		ID:         run.ID,
		Goal:       run.Goal,
		Status:     run.Status,
		Iterations: len(run.Iterations),
		Steps:      run.StepCount(),
		CreatedAt:  run.CreatedAt,
		UpdatedAt:  run.UpdatedAt,
	}
}

// New opens a store rooted at baseDir, creating it when missing. A
// leading ~/ expands to the user's home directory.
func New(baseDir string, logger logging.Logger) (*Store, error) {
	if strings.HasPrefix(baseDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to expand %s: %w", baseDir, err)
		}
		baseDir = filepath.Join(home, baseDir[2:])
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run store at %s: %w", baseDir, err)
	}
	return &Store{baseDir: baseDir, logger: logging.OrNop(logger)}, nil
}

// Create writes a new run file, refusing to overwrite an existing one.
func (s *Store) Create(_ context.Context, run types.AgentRun) error {
	path, err := s.path(run.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("run %s already exists", run.ID)
		}
		return fmt.Errorf("failed to create run file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write run %s: %w", run.ID, err)
	}
	return f.Close()
}

// Save overwrites the stored snapshot for the run.
func (s *Store) Save(_ context.Context, run types.AgentRun) error {
	path, err := s.path(run.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Get loads one run by id.
func (s *Store) Get(_ context.Context, runID string) (types.AgentRun, error) {
	path, err := s.path(runID)
	if err != nil {
		return types.AgentRun{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return types.AgentRun{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	var run types.AgentRun
	if err := json.Unmarshal(data, &run); err != nil {
		return types.AgentRun{}, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return run, nil
}

// List returns summaries of every stored run, newest first. Files that
// fail to decode are skipped with a warning.
func (s *Store) List(_ context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			s.logger.Warn("failed to read run file %s: %v", entry.Name(), err)
			continue
		}
		var run types.AgentRun
		if err := json.Unmarshal(data, &run); err != nil {
			s.logger.Warn("failed to decode run file %s: %v", entry.Name(), err)
			continue
		}
		summaries = append(summaries, Summarize(run))
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

// Delete removes the stored run; deleting a missing run is fine.
func (s *Store) Delete(_ context.Context, runID string) error {
	path, err := s.path(runID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) path(runID string) (string, error) {
	if runID == "" || runID != filepath.Base(runID) || strings.HasPrefix(runID, ".") {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	return filepath.Join(s.baseDir, runID+".json"), nil
}
