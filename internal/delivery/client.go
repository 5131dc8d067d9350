package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/aviregistry/operator-ingest/internal/config"
	"github.com/aviregistry/operator-ingest/internal/ingest"
	internalotel "github.com/aviregistry/operator-ingest/internal/otel"
	"github.com/aviregistry/operator-ingest/internal/registry"
	"github.com/aviregistry/operator-ingest/internal/retry"
	"github.com/aviregistry/operator-ingest/internal/telemetry"
)

const (
	// MaxChunkAttempts bounds the sends of one chunk: the first and one retry
	MaxChunkAttempts = 2

	// DefaultRetryDelay is the wait before a chunk is resent
	DefaultRetryDelay = time.Second

	// reasonNotAcknowledged is recorded for keys missing from an upsert response
	reasonNotAcknowledged = "not acknowledged by registry"
)

// ChunkOutcome is the result of one chunk
type ChunkOutcome struct {
	Index     int
	Keys      []string
	Succeeded []string
	Failed    []registry.KeyFailure

	// Err is a *ingest.ChunkFailure when the whole chunk failed
	Err error
}

// SourceCounts are per-source delivery results
type SourceCounts struct {
	Upserted int
	Failed   int
}

// Outcome summarizes a delivery
type Outcome struct {
	Chunks     []ChunkOutcome
	Upserted   int
	Failed     int
	Duplicates int
	BySource   map[string]SourceCounts
}

// Errors returns the chunk-level failures in chunk order
func (o *Outcome) Errors() []error {
	var errs []error
	for _, c := range o.Chunks {
		if c.Err != nil {
			errs = append(errs, c.Err)
		}
	}
	return errs
}

// Client delivers validated records to the registry
type Client struct {
	registry    registry.Client
	tokens      *TokenSource
	chunkSize   int
	concurrency int
	retryDelay  time.Duration
	metrics     *telemetry.IngestMetrics
	tracer      trace.Tracer
}

// Option configures a Client
type Option func(*Client)

// WithChunkSize sets the number of records per upsert request
func WithChunkSize(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.chunkSize = min(size, config.MaxChunkSize)
		}
	}
}

// WithConcurrency sets how many chunks are in flight at once
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithRetryDelay sets the wait before a chunk is resent
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMetrics records chunk outcomes
func WithMetrics(m *telemetry.IngestMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTracer traces each chunk
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// NewClient creates a delivery client
func NewClient(reg registry.Client, tokens *TokenSource, opts ...Option) *Client {
	c := &Client{
		registry:    reg,
		tokens:      tokens,
		chunkSize:   config.DefaultChunkSize,
		concurrency: config.DefaultConcurrency,
		retryDelay:  DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Deliver dedups records, splits them into chunks and upserts every chunk.
// Chunk failures are recorded in the outcome and do not stop other chunks.
// The returned error is non-nil only when a token cannot be obtained; it
// matches ingest.ErrAuthentication, and the outcome is still returned.
func (c *Client) Deliver(ctx context.Context, records []ingest.ValidatedRecord) (*Outcome, error) {
	unique, duplicates := Dedup(records)
	outcome := &Outcome{
		Duplicates: duplicates,
		BySource:   make(map[string]SourceCounts),
	}
	if len(unique) == 0 {
		return outcome, nil
	}

	if _, err := c.tokens.Token(ctx); err != nil {
		return outcome, err
	}

	chunks := Chunk(unique, c.chunkSize)
	outcome.Chunks = make([]ChunkOutcome, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			result := c.deliverChunk(gctx, i, chunk)
			outcome.Chunks[i] = result
			if errors.Is(result.Err, ingest.ErrAuthentication) {
				// the remaining chunks would fail the same way
				return result.Err
			}
			return nil
		})
	}
	authErr := g.Wait()

	sourceOf := make(map[string]string, len(unique))
	for _, r := range unique {
		sourceOf[r.Key] = r.Source
	}
	for _, chunk := range outcome.Chunks {
		for _, key := range chunk.Succeeded {
			outcome.Upserted++
			counts := outcome.BySource[sourceOf[key]]
			counts.Upserted++
			outcome.BySource[sourceOf[key]] = counts
		}
		for _, failure := range chunk.Failed {
			outcome.Failed++
			counts := outcome.BySource[sourceOf[failure.Key]]
			counts.Failed++
			outcome.BySource[sourceOf[failure.Key]] = counts
		}
	}

	slog.InfoContext(ctx, "Delivery finished",
		"chunks", len(outcome.Chunks),
		"upserted", outcome.Upserted,
		"failed", outcome.Failed,
		"duplicates", outcome.Duplicates)

	return outcome, authErr
}

// deliverChunk sends one chunk, resending it once after a transient failure
// or a rejected token
func (c *Client) deliverChunk(ctx context.Context, index int, chunk []ingest.ValidatedRecord) (result ChunkOutcome) {
	ctx, span := internalotel.StartSpan(ctx, c.tracer, "delivery.chunk",
		trace.WithAttributes(
			internalotel.AttrChunkIndex.Int(index),
			internalotel.AttrRecordCount.Int(len(chunk)),
		))
	defer func() {
		internalotel.EndSpan(span, result.Err)
		c.metrics.RecordChunk(ctx, chunkStatus(result))
	}()

	keys := make([]string, len(chunk))
	records := make([]registry.Record, len(chunk))
	for i, r := range chunk {
		keys[i] = r.Key
		records[i] = registry.Record{Key: r.Key, Source: r.Source, Data: r.Fields}
	}
	result = ChunkOutcome{Index: index, Keys: keys}

	policy := retry.Policy{
		Source:      "registry",
		MaxAttempts: MaxChunkAttempts,
		BaseDelay:   c.retryDelay,
		Notify: func(attempt int, err error, delay time.Duration) {
			slog.WarnContext(ctx, "Resending chunk",
				"chunk", index,
				"attempt", attempt,
				"delay", delay,
				"error", err)
		},
	}

	resp, err := retry.Execute(ctx, policy, func(ctx context.Context) (*registry.UpsertResponse, error) {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.registry.BulkUpsert(ctx, tok.Value, records)
		if errors.Is(err, registry.ErrUnauthorized) {
			c.tokens.Invalidate(tok.Value)
			return nil, &tokenRejectedError{err: err}
		}
		return resp, err
	})
	if err != nil {
		slog.ErrorContext(ctx, "Chunk failed", "chunk", index, "records", len(keys), "error", err)
		result.Err = &ingest.ChunkFailure{Index: index, Keys: keys, Err: err}
		result.Failed = make([]registry.KeyFailure, len(keys))
		for i, key := range keys {
			result.Failed[i] = registry.KeyFailure{Key: key, Reason: err.Error()}
		}
		return result
	}

	result.Succeeded, result.Failed = reconcile(keys, resp)
	return result
}

// reconcile matches a response against the keys sent. Keys the registry did
// not mention are failed; keys it did not send are ignored.
func reconcile(keys []string, resp *registry.UpsertResponse) ([]string, []registry.KeyFailure) {
	sent := make(map[string]bool, len(keys))
	for _, key := range keys {
		sent[key] = true
	}

	seen := make(map[string]bool, len(keys))
	var (
		succeeded []string
		failed    []registry.KeyFailure
	)
	for _, key := range resp.Succeeded {
		if sent[key] && !seen[key] {
			seen[key] = true
			succeeded = append(succeeded, key)
		}
	}
	for _, f := range resp.Failed {
		if sent[f.Key] && !seen[f.Key] {
			seen[f.Key] = true
			failed = append(failed, f)
		}
	}
	for _, key := range keys {
		if !seen[key] {
			failed = append(failed, registry.KeyFailure{Key: key, Reason: reasonNotAcknowledged})
		}
	}
	return succeeded, failed
}

func chunkStatus(result ChunkOutcome) string {
	switch {
	case result.Err != nil, len(result.Succeeded) == 0 && len(result.Failed) > 0:
		return "failed"
	case len(result.Failed) > 0:
		return "partial"
	default:
		return "succeeded"
	}
}

// tokenRejectedError marks a 401 on upsert. The token was dropped, so the
// chunk may be resent with a fresh one.
type tokenRejectedError struct {
	err error
}

func (e *tokenRejectedError) Error() string {
	return fmt.Sprintf("token rejected: %v", e.err)
}

func (e *tokenRejectedError) Unwrap() error {
	return e.err
}

// Transient reports that the chunk may be resent
func (*tokenRejectedError) Transient() bool {
	return true
}
