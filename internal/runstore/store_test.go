package runstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drover/internal/logging"
	"drover/pkg/types"
)

func sampleRun(id string, created time.Time) types.AgentRun {
	return types.AgentRun{
		ID:            id,
		Goal:          "fix the failing test",
		Status:        types.RunRunning,
		MaxIterations: 5,
		CreatedAt:     created,
		UpdatedAt:     created,
		Iterations: []types.Iteration{{
			Index: 0,
			Steps: []types.Step{{
				Kind:  types.StepThink,
				Think: &types.ThinkStep{Text: "reading the test output"},
			}},
		}},
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(dir, logging.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	run := sampleRun("run_1", time.Now().Truncate(time.Second))
	require.NoError(t, store.Create(ctx, run))

	// Reload through a fresh store so the data round-trips through disk.
	reloaded, err := New(dir, logging.Nop())
	require.NoError(t, err)
	got, err := reloaded.Get(ctx, "run_1")
	require.NoError(t, err)
	require.Equal(t, run.Goal, got.Goal)
	require.Equal(t, types.RunRunning, got.Status)
	require.Len(t, got.Iterations, 1)
	require.Equal(t, "reading the test output", got.Iterations[0].Steps[0].Think.Text)
}

func TestCreateRefusesDuplicate(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), logging.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	run := sampleRun("run_dup", time.Now())
	require.NoError(t, store.Create(ctx, run))
	require.ErrorContains(t, store.Create(ctx, run), "already exists")
}

func TestSaveOverwritesSnapshot(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), logging.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	run := sampleRun("run_save", time.Now())
	require.NoError(t, store.Create(ctx, run))

	run.Status = types.RunCompleted
	require.NoError(t, store.Save(ctx, run))

	got, err := store.Get(ctx, "run_save")
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, got.Status)
}

func TestListNewestFirstSkippingCorrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(dir, logging.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	require.NoError(t, store.Create(ctx, sampleRun("run_old", base)))
	require.NoError(t, store.Create(ctx, sampleRun("run_mid", base.Add(time.Minute))))
	require.NoError(t, store.Create(ctx, sampleRun("run_new", base.Add(2*time.Minute))))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run_bad.json"), []byte("{broken"), 0o644))

	summaries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	require.Equal(t, "run_new", summaries[0].ID)
	require.Equal(t, "run_mid", summaries[1].ID)
	require.Equal(t, "run_old", summaries[2].ID)
	require.Equal(t, 1, summaries[0].Steps)
}

func TestDeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), logging.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, sampleRun("run_gone", time.Now())))
	require.NoError(t, store.Delete(ctx, "run_gone"))

	_, err = store.Get(ctx, "run_gone")
	require.ErrorContains(t, err, "not found")
	require.NoError(t, store.Delete(ctx, "run_gone"))
}

func TestPathRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(t.TempDir(), logging.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Get(ctx, "../escape")
	require.ErrorContains(t, err, "invalid run id")
	require.ErrorContains(t, store.Delete(ctx, ".hidden"), "invalid run id")
	require.ErrorContains(t, store.Save(ctx, types.AgentRun{ID: ""}), "invalid run id")
}

func TestHomeExpansion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	store, err := New("~/drover/runs", logging.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, sampleRun("run_home", time.Now())))
	_, err = os.Stat(filepath.Join(home, "drover", "runs", "run_home.json"))
	require.NoError(t, err)
}
