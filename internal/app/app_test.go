package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aviregistry/operator-ingest/internal/config"
	"github.com/aviregistry/operator-ingest/internal/orchestrator"
)

func TestNewIngestApp_Errors(t *testing.T) {
	t.Parallel()

	_, registryURL := newTestRegistry(t)
	apiURL, csvURL := newTestSources(t)

	tests := []struct {
		name   string
		opts   func() []IngestAppOptions
		errMsg string
	}{
		{
			name:   "missing config",
			opts:   func() []IngestAppOptions { return nil },
			errMsg: "config cannot be nil",
		},
		{
			name: "missing password",
			opts: func() []IngestAppOptions {
				cfg := newTestConfig(t, registryURL, apiURL, csvURL)
				cfg.Registry.PasswordFile = "/nonexistent/password"
				return []IngestAppOptions{WithConfig(cfg)}
			},
			errMsg: "failed to read password",
		},
		{
			name: "invalid rate budget",
			opts: func() []IngestAppOptions {
				cfg := newTestConfig(t, registryURL, apiURL, csvURL)
				cfg.Sources[0].RateLimit.Requests = 0
				return []IngestAppOptions{WithConfig(cfg)}
			},
			errMsg: "failed to create rate limiter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			app, err := NewIngestApp(context.Background(), tt.opts()...)
			require.Error(t, err)
			assert.Nil(t, app)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestIngestApp_RunOnce(t *testing.T) {
	t.Parallel()

	reg, registryURL := newTestRegistry(t)
	apiURL, csvURL := newTestSources(t)
	cfg := newTestConfig(t, registryURL, apiURL, csvURL)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		_ = tp.Shutdown(context.Background())
	})

	app, err := NewIngestApp(context.Background(),
		WithConfig(cfg),
		WithMeterProvider(mp),
		WithTracerProvider(tp),
	)
	require.NoError(t, err)
	assert.Nil(t, app.GetComponents().Coordinator)
	assert.Same(t, cfg, app.GetConfig())

	report, err := app.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, orchestrator.StatusCompleted, report.Status)
	totals := report.Totals()
	assert.Equal(t, 4, totals.Fetched)
	assert.Equal(t, 3, totals.Validated)
	assert.Equal(t, 1, totals.Rejected)
	assert.Equal(t, 3, totals.Upserted)
	assert.Equal(t, 0, totals.Failed)

	records := reg.Records()
	require.Len(t, records, 3)
	assert.Contains(t, records, "A1")
	assert.Contains(t, records, "B2")
	assert.Contains(t, records, "C3")
	assert.Equal(t, 1, reg.LoginCount())

	// The run is recorded in the status file
	file, err := app.GetComponents().StatusStore.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, file.LastRun())
	assert.Equal(t, report.RunID, file.LastRun().RunID)
	assert.Equal(t, 3, file.LastRun().Upserted)

	// Metrics and spans are produced
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["operator_ingest_records_total"])
	assert.True(t, names["operator_ingest_run_duration_seconds"])
	assert.NotEmpty(t, exporter.GetSpans())
}

func TestIngestApp_RunOnce_SourceDown(t *testing.T) {
	t.Parallel()

	reg, registryURL := newTestRegistry(t)
	apiURL, _ := newTestSources(t)
	down := newTestServer(t, nil)
	down.Close()

	cfg := newTestConfig(t, registryURL, apiURL, down.URL+"/export.csv")
	cfg.Sources[1].Retry = &config.RetryConfig{MaxAttempts: 1}

	app, err := NewIngestApp(context.Background(), WithConfig(cfg))
	require.NoError(t, err)

	report, err := app.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusPartiallyFailed, report.Status)
	assert.NotEmpty(t, report.Source("easa").Failure)
	assert.Equal(t, 2, report.Source("faa").Upserted)
	assert.Len(t, reg.Records(), 2)
}

func TestIngestApp_RunOnce_BadCredentials(t *testing.T) {
	t.Parallel()

	reg, registryURL := newTestRegistry(t)
	apiURL, csvURL := newTestSources(t)
	cfg := newTestConfig(t, registryURL, apiURL, csvURL)
	cfg.Registry.Email = "someone@example.com"

	app, err := NewIngestApp(context.Background(), WithConfig(cfg))
	require.NoError(t, err)

	report, err := app.RunOnce(context.Background())
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, orchestrator.StatusFailed, report.Status)
	assert.Empty(t, reg.Records())

	// Failed runs are recorded as well
	file, err := app.GetComponents().StatusStore.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, file.LastRun())
	assert.Equal(t, orchestrator.StatusFailed, file.LastRun().Status)
}

func TestIngestApp_StartWithoutSchedule(t *testing.T) {
	t.Parallel()

	_, registryURL := newTestRegistry(t)
	apiURL, csvURL := newTestSources(t)

	app, err := NewIngestApp(context.Background(), WithConfig(newTestConfig(t, registryURL, apiURL, csvURL)))
	require.NoError(t, err)

	assert.ErrorIs(t, app.Start(context.Background()), ErrNoSchedule)
	assert.NoError(t, app.Stop())
}

func TestIngestApp_Schedule(t *testing.T) {
	t.Parallel()

	reg, registryURL := newTestRegistry(t)
	apiURL, csvURL := newTestSources(t)
	cfg := newTestConfig(t, registryURL, apiURL, csvURL)
	cfg.Schedule = &config.ScheduleConfig{Interval: "1h"}

	app, err := NewIngestApp(context.Background(), WithConfig(cfg))
	require.NoError(t, err)
	require.NotNil(t, app.GetComponents().Coordinator)

	errCh := make(chan error, 1)
	go func() { errCh <- app.Start(context.Background()) }()

	// The first scheduled run starts immediately
	require.Eventually(t, func() bool {
		file, err := app.GetComponents().StatusStore.Load(context.Background())
		return err == nil && file.LastRun() != nil
	}, 10*time.Second, 10*time.Millisecond)

	require.NoError(t, app.Stop())
	require.NoError(t, <-errCh)
	assert.Len(t, reg.Records(), 3)
}
