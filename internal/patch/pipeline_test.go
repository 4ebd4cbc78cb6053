package patch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"drover/internal/agent/ports"
	"drover/internal/testutil"
	"drover/pkg/types"
)

const greetSource = "package main\n\nfunc greet() string { return \"hi\" }\n\n"

func newTestPipeline(files map[string]string) (*Pipeline, *testutil.MemoryFileStore, *testutil.ScriptedExecutor) {
	store := testutil.NewMemoryFileStore(files)
	exec := &testutil.ScriptedExecutor{}
	return NewPipeline(store, exec, nil), store, exec
}

func TestApplyModifiesCreatesAndDeletes(t *testing.T) {
	t.Parallel()

	pipeline, store, _ := newTestPipeline(map[string]string{
		"greet.go": greetSource,
		"old.txt":  "stale\ncontent\n",
	})

	changes, err := pipeline.ApplyDiff(context.Background(), modifyDiff+createDiff+deleteDiff)
	require.NoError(t, err)
	require.Len(t, changes, 3)

	require.Equal(t, ChangeModified, changes[0].Kind)
	require.Equal(t, greetSource, changes[0].Before)
	require.Equal(t, ChangeCreated, changes[1].Kind)
	require.Equal(t, ChangeDeleted, changes[2].Kind)

	files := store.Files()
	require.Equal(t, "package main\n\nfunc greet() string { return \"hello\" }\n\n", files["greet.go"])
	require.Equal(t, "first\nsecond\n", files["notes.txt"])
	require.NotContains(t, files, "old.txt")
	require.Equal(t, 1, store.WriteCalls())
}

func TestApplyTwiceConflicts(t *testing.T) {
	t.Parallel()

	pipeline, store, _ := newTestPipeline(map[string]string{"greet.go": greetSource})
	ctx := context.Background()

	_, err := pipeline.ApplyDiff(ctx, modifyDiff)
	require.NoError(t, err)

	// The first apply rewrote the line the patch removes, so a second
	// apply must fail verification without touching the file.
	_, err = pipeline.ApplyDiff(ctx, modifyDiff)
	var conflictErr *types.PatchConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.Equal(t, "greet.go", conflictErr.Path)
	require.Equal(t, 1, store.WriteCalls())
}

func TestApplyIsAllOrNothing(t *testing.T) {
	t.Parallel()

	pipeline, store, _ := newTestPipeline(map[string]string{"greet.go": greetSource})

	// Second file in the set conflicts; the first must not be written.
	diff := modifyDiff + "--- a/missing.txt\n+++ b/missing.txt\n@@ -1,1 +1,1 @@\n-a\n+b\n"
	_, err := pipeline.ApplyDiff(context.Background(), diff)
	var conflictErr *types.PatchConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.Equal(t, "missing.txt", conflictErr.Path)
	require.Equal(t, 0, store.WriteCalls())
	require.Equal(t, greetSource, store.Files()["greet.go"])
}

func TestApplyWriteFailureLeavesStoreUntouched(t *testing.T) {
	t.Parallel()

	pipeline, store, _ := newTestPipeline(map[string]string{"greet.go": greetSource})
	store.FailWrites = true

	_, err := pipeline.ApplyDiff(context.Background(), modifyDiff)
	require.Error(t, err)
	require.Equal(t, greetSource, store.Files()["greet.go"])
}

func TestApplyCreateExistingFileConflicts(t *testing.T) {
	t.Parallel()

	pipeline, _, _ := newTestPipeline(map[string]string{"notes.txt": "already here\n"})

	_, err := pipeline.ApplyDiff(context.Background(), createDiff)
	var conflictErr *types.PatchConflictError
	require.ErrorAs(t, err, &conflictErr)
}

func TestApplyDeleteMissingFileConflicts(t *testing.T) {
	t.Parallel()

	pipeline, _, _ := newTestPipeline(nil)

	_, err := pipeline.ApplyDiff(context.Background(), deleteDiff)
	var conflictErr *types.PatchConflictError
	require.ErrorAs(t, err, &conflictErr)
}

func TestApplyLaterPatchSeesEarlierResult(t *testing.T) {
	t.Parallel()

	pipeline, store, _ := newTestPipeline(map[string]string{"x": "a\n"})

	diff := "--- a/x\n+++ b/x\n@@ -1,1 +1,1 @@\n-a\n+b\n" +
		"--- a/x\n+++ b/x\n@@ -1,1 +1,1 @@\n-b\n+c\n"
	changes, err := pipeline.ApplyDiff(context.Background(), diff)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	require.Equal(t, "c\n", store.Files()["x"])
}

func TestApplyDiffRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	pipeline, store, _ := newTestPipeline(map[string]string{"greet.go": greetSource})

	_, err := pipeline.ApplyDiff(context.Background(), "not a diff\n")
	var parseErr *types.PatchParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, 0, store.WriteCalls())
}

func TestApplyAndRunChainsCommand(t *testing.T) {
	t.Parallel()

	pipeline, _, exec := newTestPipeline(map[string]string{"greet.go": greetSource})
	exec.QueueResult(&ports.CommandResult{ExitCode: 1, Stderr: "1 test failed"})

	patches, err := Parse(modifyDiff)
	require.NoError(t, err)

	changes, result, err := pipeline.ApplyAndRun(context.Background(), patches, "go test ./...", "/work")
	require.NoError(t, err)
	require.Len(t, changes, 1)

	// Non-zero exits are outcomes, not errors.
	require.Equal(t, 1, result.ExitCode)
	require.Equal(t, "1 test failed", result.Stderr)
	require.Len(t, exec.Requests, 1)
	require.Equal(t, "go test ./...", exec.Requests[0].Command)
	require.Equal(t, "/work", exec.Requests[0].Dir)
}

func TestApplyAndRunSkipsCommandOnConflict(t *testing.T) {
	t.Parallel()

	pipeline, _, exec := newTestPipeline(nil)

	patches, err := Parse(modifyDiff)
	require.NoError(t, err)

	_, _, err = pipeline.ApplyAndRun(context.Background(), patches, "go test ./...", "")
	var conflictErr *types.PatchConflictError
	require.ErrorAs(t, err, &conflictErr)
	require.Empty(t, exec.Requests)
}

func TestApplyAndRunWrapsLaunchFailure(t *testing.T) {
	t.Parallel()

	pipeline, _, exec := newTestPipeline(map[string]string{"greet.go": greetSource})
	exec.QueueError(errors.New("sh: not found"))

	patches, err := Parse(modifyDiff)
	require.NoError(t, err)

	changes, _, err := pipeline.ApplyAndRun(context.Background(), patches, "make check", "")
	require.Len(t, changes, 1)
	var execErr *types.ToolExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestPreviewDoesNotTouchFiles(t *testing.T) {
	t.Parallel()

	pipeline, store, _ := newTestPipeline(map[string]string{"greet.go": greetSource})

	patches, err := Parse(modifyDiff)
	require.NoError(t, err)

	set, err := pipeline.Preview(patches)
	require.NoError(t, err)
	require.Equal(t, SetPreviewed, set.State)
	require.NotEmpty(t, set.ID)
	require.Contains(t, set.Rendered, "+func greet() string { return \"hello\" }")
	require.Equal(t, 1, set.Stats.FilesChanged)
	require.Equal(t, 0, store.WriteCalls())
}

func TestApplySetResolvesExactlyOnce(t *testing.T) {
	t.Parallel()

	pipeline, store, _ := newTestPipeline(map[string]string{"greet.go": greetSource})
	ctx := context.Background()

	patches, err := Parse(modifyDiff)
	require.NoError(t, err)
	set, err := pipeline.Preview(patches)
	require.NoError(t, err)

	changes, err := pipeline.ApplySet(ctx, set.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)

	resolved, ok := pipeline.Set(set.ID)
	require.True(t, ok)
	require.Equal(t, SetApplied, resolved.State)
	require.NotNil(t, resolved.ResolvedAt)

	// A resolved set can be neither re-applied nor cancelled.
	_, err = pipeline.ApplySet(ctx, set.ID)
	require.Error(t, err)
	require.Error(t, pipeline.CancelSet(set.ID))
	require.Equal(t, 1, store.WriteCalls())
}

func TestApplySetFailureResolvesToFailed(t *testing.T) {
	t.Parallel()

	pipeline, _, _ := newTestPipeline(nil)

	patches, err := Parse(modifyDiff)
	require.NoError(t, err)
	set, err := pipeline.Preview(patches)
	require.NoError(t, err)

	_, err = pipeline.ApplySet(context.Background(), set.ID)
	require.Error(t, err)

	resolved, ok := pipeline.Set(set.ID)
	require.True(t, ok)
	require.Equal(t, SetFailed, resolved.State)
	require.NotEmpty(t, resolved.Err)
}

func TestCancelSet(t *testing.T) {
	t.Parallel()

	pipeline, store, _ := newTestPipeline(map[string]string{"greet.go": greetSource})

	patches, err := Parse(modifyDiff)
	require.NoError(t, err)
	set, err := pipeline.Preview(patches)
	require.NoError(t, err)

	require.NoError(t, pipeline.CancelSet(set.ID))

	resolved, _ := pipeline.Set(set.ID)
	require.Equal(t, SetCancelled, resolved.State)

	_, err = pipeline.ApplySet(context.Background(), set.ID)
	require.Error(t, err)
	require.Equal(t, 0, store.WriteCalls())
}

func TestApplySetUnknownID(t *testing.T) {
	t.Parallel()

	pipeline, _, _ := newTestPipeline(nil)
	_, err := pipeline.ApplySet(context.Background(), "ps_missing")
	require.Error(t, err)
	require.Error(t, pipeline.CancelSet("ps_missing"))
}
