package app

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aviregistry/operator-ingest/internal/config"
	"github.com/aviregistry/operator-ingest/internal/coordinator"
	"github.com/aviregistry/operator-ingest/internal/delivery"
	"github.com/aviregistry/operator-ingest/internal/httpclient"
	"github.com/aviregistry/operator-ingest/internal/orchestrator"
	"github.com/aviregistry/operator-ingest/internal/registry"
	"github.com/aviregistry/operator-ingest/internal/sources"
	"github.com/aviregistry/operator-ingest/internal/status"
	"github.com/aviregistry/operator-ingest/internal/telemetry"
	"github.com/aviregistry/operator-ingest/internal/validation"
)

// tracerName is the instrumentation scope of ingestion spans
const tracerName = "github.com/aviregistry/operator-ingest"

// IngestAppOptions is a function that configures the ingest app builder
type IngestAppOptions func(*ingestAppConfig) error

// ingestAppConfig collects the components of an IngestApp. Every component
// can be injected, mostly for testing; missing ones are built from config.
type ingestAppConfig struct {
	config *config.Config

	sourceClient   httpclient.Client
	registryClient registry.Client
	statusStore    status.Store

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

func baseConfig(opts ...IngestAppOptions) (*ingestAppConfig, error) {
	cfg := &ingestAppConfig{}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	return cfg, nil
}

// NewIngestApp wires sources, validation, delivery and scheduling from the configuration
func NewIngestApp(
	ctx context.Context,
	opts ...IngestAppOptions,
) (*IngestApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	metrics, err := buildMetrics(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build ingest metrics: %w", err)
	}

	var tracer trace.Tracer
	if cfg.tracerProvider != nil {
		tracer = cfg.tracerProvider.Tracer(tracerName)
	}

	factory, err := buildSourceComponents(ctx, cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to build source components: %w", err)
	}

	validator, err := validation.NewValidator(cfg.config.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to build validator: %w", err)
	}

	deliverer, err := buildDeliveryComponents(ctx, cfg, metrics, tracer)
	if err != nil {
		return nil, fmt.Errorf("failed to build delivery components: %w", err)
	}

	orch := orchestrator.New(cfg.config, factory, validator, deliverer,
		orchestrator.WithMetrics(metrics),
		orchestrator.WithTracer(tracer),
	)

	if cfg.statusStore == nil {
		cfg.statusStore = status.NewFileStore(cfg.config.GetStatusFile())
	}

	var coord coordinator.Coordinator
	if interval := cfg.config.GetScheduleInterval(); interval > 0 {
		coord = coordinator.New(orch, cfg.statusStore, interval)
		slog.Info("Scheduled runs configured", "interval", interval)
	}

	return &IngestApp{
		config: cfg.config,
		components: &AppComponents{
			Orchestrator: orch,
			Coordinator:  coord,
			StatusStore:  cfg.statusStore,
		},
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) IngestAppOptions {
	return func(cfg *ingestAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithSourceClient sets the HTTP client used for source requests
func WithSourceClient(c httpclient.Client) IngestAppOptions {
	return func(cfg *ingestAppConfig) error {
		cfg.sourceClient = c
		return nil
	}
}

// WithRegistryClient allows injecting a custom registry client (for testing)
func WithRegistryClient(c registry.Client) IngestAppOptions {
	return func(cfg *ingestAppConfig) error {
		cfg.registryClient = c
		return nil
	}
}

// WithStatusStore allows injecting a custom status store (for testing)
func WithStatusStore(s status.Store) IngestAppOptions {
	return func(cfg *ingestAppConfig) error {
		cfg.statusStore = s
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for ingestion metrics
func WithMeterProvider(mp metric.MeterProvider) IngestAppOptions {
	return func(cfg *ingestAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for ingestion spans
func WithTracerProvider(tp trace.TracerProvider) IngestAppOptions {
	return func(cfg *ingestAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

func buildMetrics(b *ingestAppConfig) (*telemetry.IngestMetrics, error) {
	if b.meterProvider == nil {
		return nil, nil
	}
	metrics, err := telemetry.NewIngestMetrics(b.meterProvider)
	if err != nil {
		return nil, err
	}
	slog.Info("Ingest metrics enabled")
	return metrics, nil
}

// buildSourceComponents builds the rate-limited gateway and the fetcher factory
//
//nolint:unparam // we prefer having a similar interface
func buildSourceComponents(
	_ context.Context,
	b *ingestAppConfig,
	metrics *telemetry.IngestMetrics,
) (sources.FetcherFactory, error) {
	slog.Info("Initializing source components", "source_count", len(b.config.Sources))

	limiter, err := sources.NewLimiter(b.config.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	if b.sourceClient == nil {
		b.sourceClient = httpclient.NewDefaultClient(httpclient.DefaultTimeout)
	}

	gateway := sources.NewGateway(b.sourceClient, limiter, sources.WithMetrics(metrics))
	return sources.NewFetcherFactory(gateway), nil
}

// buildDeliveryComponents builds the registry client, token source and delivery client
//
//nolint:unparam // we prefer having a similar interface
func buildDeliveryComponents(
	_ context.Context,
	b *ingestAppConfig,
	metrics *telemetry.IngestMetrics,
	tracer trace.Tracer,
) (*delivery.Client, error) {
	slog.Info("Initializing delivery components", "registry", b.config.Registry.BaseURL)

	password, err := b.config.Registry.GetPassword()
	if err != nil {
		return nil, err
	}

	if b.registryClient == nil {
		b.registryClient = registry.NewHTTPClient(
			b.config.Registry.BaseURL,
			httpclient.NewDefaultClient(b.config.Registry.GetTimeout()),
		)
	}

	tokens := delivery.NewTokenSource(b.registryClient, registry.Credentials{
		Email:    b.config.Registry.Email,
		Password: password,
	})

	return delivery.NewClient(b.registryClient, tokens,
		delivery.WithChunkSize(b.config.GetChunkSize()),
		delivery.WithConcurrency(b.config.GetConcurrency()),
		delivery.WithMetrics(metrics),
		delivery.WithTracer(tracer),
	), nil
}
