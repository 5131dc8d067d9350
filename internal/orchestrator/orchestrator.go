// Package orchestrator runs one ingestion pass: every source is fetched
// concurrently, candidates are validated as they arrive, and the validated
// records are handed to delivery. A single aggregator owns the run report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/trace"

	"github.com/aviregistry/operator-ingest/internal/config"
	"github.com/aviregistry/operator-ingest/internal/delivery"
	"github.com/aviregistry/operator-ingest/internal/ingest"
	internalotel "github.com/aviregistry/operator-ingest/internal/otel"
	"github.com/aviregistry/operator-ingest/internal/sources"
	"github.com/aviregistry/operator-ingest/internal/telemetry"
)

// ErrRunInProgress is returned when Run is called while another run is active
var ErrRunInProgress = errors.New("an ingestion run is already in progress")

// eventBuffer is the capacity of the aggregation channel
const eventBuffer = 256

//go:generate mockgen -destination=mocks/mock_orchestrator.go -package=mocks -source=orchestrator.go Deliverer,RecordValidator

// Deliverer upserts validated records
type Deliverer interface {
	Deliver(ctx context.Context, records []ingest.ValidatedRecord) (*delivery.Outcome, error)
}

// RecordValidator turns candidates into validated records or rejections
type RecordValidator interface {
	Validate(c *ingest.CandidateRecord) (ingest.ValidatedRecord, *ingest.RejectionReason)
}

// Orchestrator runs ingestion passes. At most one pass runs at a time.
type Orchestrator struct {
	sources         []config.SourceConfig
	runTimeout      time.Duration
	deliveryTimeout time.Duration

	factory   sources.FetcherFactory
	validator RecordValidator
	deliverer Deliverer

	metrics *telemetry.IngestMetrics
	tracer  trace.Tracer
	logger  *slog.Logger
	now     func() time.Time

	running atomic.Bool
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithMetrics records run metrics
func WithMetrics(m *telemetry.IngestMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer traces runs and sources
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithLogger sets the logger runs derive their run-scoped logger from.
// The default logger is used when unset.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithClock replaces the clock used for report timestamps
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator for the sources and timeouts in cfg
func New(
	cfg *config.Config,
	factory sources.FetcherFactory,
	validator RecordValidator,
	deliverer Deliverer,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		sources:         append([]config.SourceConfig(nil), cfg.Sources...),
		runTimeout:      cfg.GetRunTimeout(),
		deliveryTimeout: cfg.GetDeliveryTimeout(),
		factory:         factory,
		validator:       validator,
		deliverer:       deliverer,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Status returns StatusRunning while a run is active and StatusIdle otherwise
func (o *Orchestrator) Status() Status {
	if o.running.Load() {
		return StatusRunning
	}
	return StatusIdle
}

type eventKind int

const (
	eventValidated eventKind = iota
	eventRejected
	eventSkipped
	eventPageFailed
	eventSourceDone
)

// event is sent from a source goroutine to the aggregator
type event struct {
	kind      eventKind
	source    string
	record    ingest.ValidatedRecord
	rejection *ingest.RejectionReason
	err       error
}

// Run performs one ingestion pass. The report is always returned. The error
// is non-nil only for run-fatal conditions: caller cancellation
// (ingest.ErrRunCanceled) and registry authentication (ingest.ErrAuthentication).
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer o.running.Store(false)

	report := &RunReport{
		RunID:     uuid.NewString(),
		Status:    StatusRunning,
		StartedAt: o.now(),
		Sources:   make([]SourceReport, len(o.sources)),
	}
	for i := range o.sources {
		report.Sources[i].Name = o.sources[i].Name
	}

	ctx, span := internalotel.StartSpan(ctx, o.tracer, "ingest.run",
		trace.WithAttributes(internalotel.AttrRunID.String(report.RunID)))
	base := o.logger
	if base == nil {
		base = slog.Default()
	}
	logger := base.With("run_id", report.RunID)
	logger.InfoContext(ctx, "Starting ingestion run", "sources", len(o.sources))

	validated := o.fetchAll(ctx, logger, report)

	err := o.deliver(ctx, logger, report, validated)
	if err != nil {
		report.Status = StatusFailed
		report.Error = err.Error()
	}

	report.FinishedAt = o.now()
	span.SetAttributes(internalotel.AttrRunStatus.String(string(report.Status)))
	internalotel.EndSpan(span, err)
	o.recordMetrics(ctx, report)

	totals := report.Totals()
	logger.InfoContext(ctx, "Ingestion run finished",
		"status", report.Status,
		"fetched", totals.Fetched,
		"validated", totals.Validated,
		"rejected", totals.Rejected,
		"upserted", totals.Upserted,
		"failed", totals.Failed,
		"timed_out", report.TimedOut,
		"duration", report.Duration())

	return report, err
}

// fetchAll runs every source and aggregates their events. It is the only
// writer of the report's source counts and assigns sequence numbers in
// arrival order.
func (o *Orchestrator) fetchAll(ctx context.Context, logger *slog.Logger, report *RunReport) []ingest.ValidatedRecord {
	fetchCtx, cancel := context.WithTimeoutCause(ctx, o.runTimeout, ingest.ErrRunTimeout)
	defer cancel()

	events := make(chan event, eventBuffer)
	var wg conc.WaitGroup
	for i := range o.sources {
		src := &o.sources[i]
		wg.Go(func() {
			o.runSource(fetchCtx, logger, src, events)
		})
	}
	go func() {
		wg.Wait()
		close(events)
	}()

	var (
		validated []ingest.ValidatedRecord
		sequence  uint64
	)
	for ev := range events {
		s := report.Source(ev.source)
		switch ev.kind {
		case eventValidated:
			s.Fetched++
			s.Validated++
			sequence++
			validated = append(validated, ev.record.WithSequence(sequence))
		case eventRejected:
			s.Fetched++
			s.Rejected++
			if len(s.Rejections) < maxRejectionsPerSource {
				s.Rejections = append(s.Rejections, *ev.rejection)
			}
		case eventSkipped:
			s.Skipped++
		case eventPageFailed:
			s.PermanentErrors++
			s.Failure = ev.err.Error()
		case eventSourceDone:
			if ev.err != nil {
				s.Failure = ev.err.Error()
			}
		}
	}

	report.TimedOut = errors.Is(context.Cause(fetchCtx), ingest.ErrRunTimeout) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded)
	if report.TimedOut {
		logger.WarnContext(ctx, "Run deadline reached, delivering records fetched so far",
			"run_timeout", o.runTimeout,
			"validated", len(validated))
	}
	return validated
}

// runSource fetches one source and validates its candidates inline. A panic
// in the fetcher becomes a source failure.
func (o *Orchestrator) runSource(ctx context.Context, logger *slog.Logger, src *config.SourceConfig, events chan<- event) {
	ctx, span := internalotel.StartSpan(ctx, o.tracer, "ingest.source",
		trace.WithAttributes(
			internalotel.AttrSourceName.String(src.Name),
			internalotel.AttrSourceType.String(src.Type),
		))

	var (
		fetched int
		failure error
	)
	if recovered := panics.Try(func() {
		fetched, failure = o.fetchSource(ctx, logger, src, events)
	}); recovered != nil {
		failure = fmt.Errorf("fetcher panicked: %w", recovered.AsError())
	}
	span.SetAttributes(internalotel.AttrFetched.Int(fetched))

	if failure != nil {
		logger.ErrorContext(ctx, "Source failed", "source", src.Name, "error", failure)
	} else {
		logger.InfoContext(ctx, "Source finished", "source", src.Name, "fetched", fetched)
	}
	internalotel.EndSpan(span, failure)

	events <- event{kind: eventSourceDone, source: src.Name, err: failure}
}

// fetchSource consumes the source's sequence. It returns the number of
// candidates fetched and the error that ended the source early, if any.
func (o *Orchestrator) fetchSource(
	ctx context.Context,
	logger *slog.Logger,
	src *config.SourceConfig,
	events chan<- event,
) (int, error) {
	fetcher, err := o.factory.CreateFetcher(src)
	if err != nil {
		return 0, fmt.Errorf("failed to create fetcher: %w", err)
	}

	fetched := 0
	for candidate, err := range fetcher.Fetch(ctx, src) {
		if err != nil {
			var itemErr *ingest.ItemError
			switch {
			case errors.As(err, &itemErr):
				logger.DebugContext(ctx, "Skipping unparsable item", "source", src.Name, "error", err)
				events <- event{kind: eventSkipped, source: src.Name, err: err}
			case !ingest.IsTerminal(err):
				logger.WarnContext(ctx, "Permanent page failure", "source", src.Name, "error", err)
				events <- event{kind: eventPageFailed, source: src.Name, err: err}
			default:
				return fetched, err
			}
			continue
		}
		fetched++

		record, rejection := o.validator.Validate(candidate)
		if rejection != nil {
			events <- event{kind: eventRejected, source: src.Name, rejection: rejection}
			continue
		}
		events <- event{kind: eventValidated, source: src.Name, record: record}
	}
	return fetched, nil
}

// deliver hands the validated records to the deliverer and settles the run
// status. Delivery survives the fetch deadline but not caller cancellation.
func (o *Orchestrator) deliver(
	ctx context.Context,
	logger *slog.Logger,
	report *RunReport,
	validated []ingest.ValidatedRecord,
) error {
	if err := canceled(ctx); err != nil {
		logger.WarnContext(ctx, "Run canceled, skipping delivery", "validated", len(validated))
		return err
	}

	if len(validated) == 0 {
		report.Status = report.decideStatus(false)
		return nil
	}

	deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.deliveryTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.Canceled) {
			cancel()
		}
	})
	defer stop()

	outcome, err := o.deliverer.Deliver(deliverCtx, validated)
	if outcome != nil {
		report.applyOutcome(outcome)
	}
	if err != nil {
		if errors.Is(err, ingest.ErrAuthentication) {
			logger.ErrorContext(ctx, "Registry authentication failed", "error", err)
			return err
		}
		report.DeliveryErrors = append(report.DeliveryErrors, err.Error())
	}
	if err := canceled(ctx); err != nil {
		return err
	}

	report.Status = report.decideStatus(true)
	return nil
}

// canceled returns a run-fatal error when the caller canceled ctx. An expired
// caller deadline is not a cancellation.
func canceled(ctx context.Context) error {
	if !errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return fmt.Errorf("%w: %w", ingest.ErrRunCanceled, context.Cause(ctx))
}

func (o *Orchestrator) recordMetrics(ctx context.Context, report *RunReport) {
	ctx = context.WithoutCancel(ctx)
	for _, s := range report.Sources {
		o.metrics.RecordRecords(ctx, s.Name, telemetry.OutcomeFetched, s.Fetched)
		o.metrics.RecordRecords(ctx, s.Name, telemetry.OutcomeValidated, s.Validated)
		o.metrics.RecordRecords(ctx, s.Name, telemetry.OutcomeRejected, s.Rejected)
		o.metrics.RecordRecords(ctx, s.Name, telemetry.OutcomeUpserted, s.Upserted)
		o.metrics.RecordRecords(ctx, s.Name, telemetry.OutcomeFailed, s.Failed)
	}
	o.metrics.RecordRunDuration(ctx, string(report.Status), report.Duration())
}
