package sources

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aviregistry/operator-ingest/internal/config"
	"github.com/aviregistry/operator-ingest/internal/httpclient"
	"github.com/aviregistry/operator-ingest/internal/ratelimit"
	"github.com/aviregistry/operator-ingest/internal/retry"
	"github.com/aviregistry/operator-ingest/internal/telemetry"
)

// Gateway performs source requests under the source's rate budget and retry
// policy. Every attempt, including retries, acquires the budget again.
type Gateway struct {
	client  httpclient.Client
	limiter *ratelimit.Limiter
	metrics *telemetry.IngestMetrics
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithMetrics records retries on m
func WithMetrics(m *telemetry.IngestMetrics) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// NewGateway creates a Gateway
func NewGateway(client httpclient.Client, limiter *ratelimit.Limiter, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		client:  client,
		limiter: limiter,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Get fetches url for src. Errors are the retry package's typed errors, or the
// context's cause when ctx ends first.
func (g *Gateway) Get(ctx context.Context, src *config.SourceConfig, url string) ([]byte, error) {
	policy := retry.Policy{
		Source:      src.Name,
		MaxAttempts: src.GetMaxAttempts(),
		BaseDelay:   src.GetBaseDelay(),
		Notify: func(attempt int, err error, delay time.Duration) {
			slog.WarnContext(ctx, "Source request failed, retrying",
				"source", src.Name,
				"url", url,
				"attempt", attempt,
				"delay", delay,
				"error", err)
			g.metrics.RecordRetry(ctx, src.Name)
		},
	}

	rateKey := src.GetRateKey()
	return retry.Execute(ctx, policy, func(ctx context.Context) ([]byte, error) {
		if err := g.limiter.Acquire(ctx, rateKey); err != nil {
			return nil, err
		}
		return g.client.Get(ctx, url)
	})
}

// NewLimiter builds a Limiter holding one budget per distinct rate key.
// Sources sharing a domain share its budget.
func NewLimiter(sources []config.SourceConfig) (*ratelimit.Limiter, error) {
	seen := make(map[string]bool, len(sources))
	budgets := make([]ratelimit.Budget, 0, len(sources))
	for i := range sources {
		src := &sources[i]
		key := src.GetRateKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		budgets = append(budgets, ratelimit.Budget{
			Key:      key,
			Requests: src.RateLimit.Requests,
			Interval: src.GetRateInterval(),
		})
	}

	limiter, err := ratelimit.New(budgets...)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}
	return limiter, nil
}
