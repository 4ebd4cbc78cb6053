package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drover/internal/agent/ports"
)

func TestFileSinkAppendsJSONLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink, err := NewFileSink(dir, nil)
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	require.NoError(t, sink.Append(ctx, ports.AuditRecord{
		Category: ports.AuditApproval,
		RunID:    "run_1",
		Outcome:  "approved",
	}))
	require.NoError(t, sink.Append(ctx, ports.AuditRecord{
		Category: ports.AuditHook,
		RuleID:   "rule-1",
		Outcome:  "delivered",
		Detail:   map[string]any{"status": 200},
	}))

	path := sink.CurrentPath()
	require.Equal(t, filepath.Join(dir, "audit-"+time.Now().Format("2006-01-02")+".jsonl"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []ports.AuditRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec ports.AuditRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, records, 2)

	require.NotEmpty(t, records[0].ID)
	require.False(t, records[0].Time.IsZero())
	require.Equal(t, ports.AuditApproval, records[0].Category)
	require.Equal(t, "run_1", records[0].RunID)
	require.Equal(t, ports.AuditHook, records[1].Category)
	require.Equal(t, "delivered", records[1].Outcome)
}

func TestFileSinkAppendAfterReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewFileSink(dir, nil)
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, ports.AuditRecord{Category: ports.AuditRun, Outcome: "started"}))
	require.NoError(t, first.Close())

	second, err := NewFileSink(dir, nil)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Append(ctx, ports.AuditRecord{Category: ports.AuditRun, Outcome: "finished"}))

	data, err := os.ReadFile(second.CurrentPath())
	require.NoError(t, err)
	require.Contains(t, string(data), `"started"`)
	require.Contains(t, string(data), `"finished"`)
}

func TestOrNop(t *testing.T) {
	t.Parallel()

	require.NotNil(t, OrNop(nil))
	require.NoError(t, OrNop(nil).Append(context.Background(), ports.AuditRecord{}))

	sink, err := NewFileSink(t.TempDir(), nil)
	require.NoError(t, err)
	defer sink.Close()
	require.Equal(t, ports.AuditSink(sink), OrNop(sink))
}
