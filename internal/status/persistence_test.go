package status

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aviregistry/operator-ingest/internal/orchestrator"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...FileStoreOption) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "status.json")
	opts = append([]FileStoreOption{WithWriterVersion("1.2.0"), WithClock(func() time.Time { return testNow })}, opts...)
	return NewFileStore(path, opts...), path
}

func testReport(id string, status orchestrator.Status) *orchestrator.RunReport {
	return &orchestrator.RunReport{
		RunID:      id,
		Status:     status,
		StartedAt:  testNow.Add(-time.Minute),
		FinishedAt: testNow,
		Duplicates: 1,
		Sources: []orchestrator.SourceReport{
			{Name: "faa", Fetched: 10, Validated: 9, Rejected: 1, Upserted: 9},
			{Name: "easa", Fetched: 5, Validated: 5, Upserted: 3, Failed: 2},
			{Name: "casa", Failure: "GET https://casa.example/operators: 503"},
		},
	}
}

func TestFileStore_LoadMissingFile(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)

	file, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Empty(t, file.Runs)
	assert.Nil(t, file.LastRun())
}

func TestFileStore_RecordAndLoad(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, testReport("run-1", orchestrator.StatusPartiallyFailed)))

	file, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", file.WriterVersion)
	assert.Equal(t, testNow, file.UpdatedAt)

	last := file.LastRun()
	require.NotNil(t, last)
	assert.Equal(t, "run-1", last.RunID)
	assert.Equal(t, orchestrator.StatusPartiallyFailed, last.Status)
	assert.Equal(t, 12, last.Upserted)
	assert.Equal(t, 2, last.Failed)
	assert.Equal(t, 1, last.Rejected)
	assert.Equal(t, 1, last.Duplicates)
	assert.Equal(t, time.Minute, last.Duration())
	require.Len(t, last.Sources, 3)
	assert.Equal(t, "casa", last.Sources[2].Name)
	assert.NotEmpty(t, last.Sources[2].Failure)

	// Temporary file must not be left behind
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStore_NewestFirst(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, testReport("run-1", orchestrator.StatusFailed)))
	require.NoError(t, store.Record(ctx, testReport("run-2", orchestrator.StatusCompleted)))

	file, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, file.Runs, 2)
	assert.Equal(t, "run-2", file.Runs[0].RunID)
	assert.Equal(t, "run-1", file.Runs[1].RunID)
}

func TestFileStore_HistoryIsBounded(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := range MaxHistory + 5 {
		require.NoError(t, store.Record(ctx, testReport(fmt.Sprintf("run-%d", i), orchestrator.StatusCompleted)))
	}

	file, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, file.Runs, MaxHistory)
	assert.Equal(t, fmt.Sprintf("run-%d", MaxHistory+4), file.Runs[0].RunID)
	assert.Equal(t, "run-5", file.Runs[MaxHistory-1].RunID)
}

func TestFileStore_NilReport(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	assert.Error(t, store.Record(context.Background(), nil))
}

func TestFileStore_CorruptFile(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal status file")

	err = store.Record(context.Background(), testReport("run-1", orchestrator.StatusCompleted))
	assert.Error(t, err)
}

func TestFileStore_NewerWriterStillLoads(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "status.json")
	newer := NewFileStore(path, WithWriterVersion("2.0.0"))
	require.NoError(t, newer.Record(context.Background(), testReport("run-1", orchestrator.StatusCompleted)))

	older := NewFileStore(path, WithWriterVersion("1.0.0"))
	file, err := older.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", file.WriterVersion)
	require.Len(t, file.Runs, 1)

	// The older binary takes over the file on its next write
	require.NoError(t, older.Record(context.Background(), testReport("run-2", orchestrator.StatusCompleted)))
	file, err = older.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", file.WriterVersion)
	assert.Len(t, file.Runs, 2)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	report := testReport("run-1", orchestrator.StatusPartiallyFailed)
	report.TimedOut = true
	report.Error = "ingestion run timed out"

	summary := Summarize(report)
	assert.Equal(t, "run-1", summary.RunID)
	assert.True(t, summary.TimedOut)
	assert.Equal(t, "ingestion run timed out", summary.Error)
	assert.Equal(t, SourceSummary{Name: "faa", Fetched: 10, Validated: 9, Rejected: 1, Upserted: 9}, summary.Sources[0])
}
