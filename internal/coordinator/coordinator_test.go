package coordinator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/aviregistry/operator-ingest/internal/coordinator/mocks"
	"github.com/aviregistry/operator-ingest/internal/ingest"
	"github.com/aviregistry/operator-ingest/internal/orchestrator"
	statusmocks "github.com/aviregistry/operator-ingest/internal/status/mocks"
)

func testReport(id string) *orchestrator.RunReport {
	now := time.Now()
	return &orchestrator.RunReport{
		RunID:      id,
		Status:     orchestrator.StatusCompleted,
		StartedAt:  now,
		FinishedAt: now,
	}
}

func TestNextInterval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		interval time.Duration
		jitter   float64
		min      time.Duration
		max      time.Duration
	}{
		{name: "no jitter", interval: time.Hour, jitter: 0, min: time.Hour, max: time.Hour},
		{name: "default jitter", interval: time.Hour, jitter: DefaultJitter, min: 54 * time.Minute, max: 66 * time.Minute},
		{name: "jitter is capped", interval: time.Minute, jitter: 5, min: 0, max: 2 * time.Minute},
		{name: "negative jitter", interval: time.Minute, jitter: -1, min: time.Minute, max: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := New(nil, nil, tt.interval, WithJitter(tt.jitter)).(*defaultCoordinator)
			for range 100 {
				got := c.nextInterval()
				assert.GreaterOrEqual(t, got, tt.min)
				assert.LessOrEqual(t, got, tt.max)
			}
		})
	}
}

func TestCoordinator_Stop_BeforeStart(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	coord := New(mocks.NewMockRunner(ctrl), nil, time.Minute)

	// Stop should not panic if called before Start
	assert.NoError(t, coord.Stop())
}

func TestCoordinator_InvalidInterval(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	coord := New(mocks.NewMockRunner(ctrl), nil, 0)

	assert.Error(t, coord.Start(context.Background()))
}

func TestCoordinator_RunsAndRecords(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	store := statusmocks.NewMockStore(ctrl)

	var runs, recorded atomic.Int32
	runner.EXPECT().Run(gomock.Any()).DoAndReturn(func(context.Context) (*orchestrator.RunReport, error) {
		runs.Add(1)
		return testReport("run"), nil
	}).MinTimes(2)
	store.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, *orchestrator.RunReport) error {
		recorded.Add(1)
		return nil
	}).MinTimes(2)

	coord := New(runner, store, 5*time.Millisecond, WithJitter(0))

	errCh := make(chan error, 1)
	go func() { errCh <- coord.Start(context.Background()) }()

	require.Eventually(t, func() bool { return recorded.Load() >= 2 }, 5*time.Second, time.Millisecond)
	require.NoError(t, coord.Stop())
	require.NoError(t, <-errCh)

	// Nothing runs after Stop returned
	stopped := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())
}

func TestCoordinator_FirstRunIsImmediate(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)

	ran := make(chan struct{}, 1)
	runner.EXPECT().Run(gomock.Any()).DoAndReturn(func(context.Context) (*orchestrator.RunReport, error) {
		ran <- struct{}{}
		return testReport("run"), nil
	}).Times(1)

	coord := New(runner, nil, time.Hour)
	go func() { _ = coord.Start(context.Background()) }()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("first run did not start")
	}
	require.NoError(t, coord.Stop())
}

func TestCoordinator_ContextCancel(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any()).Return(testReport("run"), nil).Times(1)

	ctx, cancel := context.WithCancel(context.Background())
	coord := New(runner, nil, time.Hour)

	errCh := make(chan error, 1)
	go func() { errCh <- coord.Start(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
	assert.NoError(t, coord.Stop())
	assert.Error(t, coord.Start(context.Background()), "a stopped coordinator cannot be restarted")
}

func TestRunOnce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		report    *orchestrator.RunReport
		err       error
		recordErr error
		recorded  bool
	}{
		{name: "successful run is recorded", report: testReport("run-1"), recorded: true},
		{name: "failed run with report is recorded", report: testReport("run-2"), err: errors.New("authentication failed"), recorded: true},
		{name: "run already in progress is skipped", err: orchestrator.ErrRunInProgress},
		{name: "error without report is not recorded", err: errors.New("boom")},
		{name: "store failure is tolerated", report: testReport("run-3"), recordErr: errors.New("disk full"), recorded: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			runner := mocks.NewMockRunner(ctrl)
			store := statusmocks.NewMockStore(ctrl)

			runner.EXPECT().Run(gomock.Any()).Return(tt.report, tt.err)
			if tt.recorded {
				store.EXPECT().Record(gomock.Any(), tt.report).Return(tt.recordErr)
			}

			c := New(runner, store, time.Minute).(*defaultCoordinator)
			assert.NotPanics(t, func() { c.runOnce(context.Background()) })
		})
	}
}

func TestRunOnce_RecordsAfterCancellation(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	store := statusmocks.NewMockStore(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := testReport("run-1")
	runner.EXPECT().Run(gomock.Any()).Return(report, ingest.ErrRunCanceled)
	store.EXPECT().Record(gomock.Any(), report).DoAndReturn(func(ctx context.Context, _ *orchestrator.RunReport) error {
		assert.NoError(t, ctx.Err())
		return nil
	})

	c := New(runner, store, time.Minute).(*defaultCoordinator)
	c.runOnce(ctx)
}
