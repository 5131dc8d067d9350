package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/aviregistry/operator-ingest/internal/orchestrator"
	"github.com/aviregistry/operator-ingest/internal/status"
)

//go:generate mockgen -destination=mocks/mock_coordinator.go -package=mocks -source=coordinator.go Runner

// DefaultJitter is the fraction of the interval used as random offset
const DefaultJitter = 0.1

// Runner performs one ingestion pass
type Runner interface {
	Run(ctx context.Context) (*orchestrator.RunReport, error)
}

// Coordinator manages scheduled ingestion runs
type Coordinator interface {
	// Start runs immediately and then on every interval.
	// Blocks until the context is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully stops the coordinator, waiting for an active run
	Stop() error
}

type defaultCoordinator struct {
	runner   Runner
	store    status.Store
	interval time.Duration
	jitter   float64

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithJitter sets the jitter as a fraction of the interval, between 0 and 1
func WithJitter(fraction float64) Option {
	return func(c *defaultCoordinator) {
		c.jitter = min(max(fraction, 0), 1)
	}
}

// New creates a coordinator. store may be nil, in which case runs are not recorded.
func New(runner Runner, store status.Store, interval time.Duration, opts ...Option) Coordinator {
	c := &defaultCoordinator{
		runner:   runner,
		store:    store,
		interval: interval,
		jitter:   DefaultJitter,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// nextInterval returns the interval with a random offset within ±jitter applied
func (c *defaultCoordinator) nextInterval() time.Duration {
	spread := int64(float64(c.interval) * c.jitter)
	if spread <= 0 {
		return c.interval
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for scheduling jitter
	offset := time.Duration(rand.Int64N(2*spread+1) - spread)
	return c.interval + offset
}

// Start begins the schedule
func (c *defaultCoordinator) Start(ctx context.Context) error {
	if c.interval <= 0 {
		return fmt.Errorf("schedule interval must be positive, got %s", c.interval)
	}

	c.mu.Lock()
	if c.cancelFunc != nil {
		c.mu.Unlock()
		return errors.New("coordinator already started")
	}
	coordCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		close(c.done)
		slog.Info("Ingestion coordinator shut down")
	}()

	slog.Info("Starting ingestion coordinator", "interval", c.interval, "jitter", c.jitter)

	c.runOnce(coordCtx)

	timer := time.NewTimer(c.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			c.runOnce(coordCtx)
			next := c.nextInterval()
			slog.Debug("Next ingestion run scheduled", "in", next)
			timer.Reset(next)
		case <-coordCtx.Done():
			slog.Info("Ingestion coordinator stopping")
			return nil
		}
	}
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	c.mu.Lock()
	cancel := c.cancelFunc
	c.mu.Unlock()

	if cancel != nil {
		slog.Info("Stopping ingestion coordinator")
		cancel()
		<-c.done
	}
	return nil
}

// runOnce performs one run and records its report
func (c *defaultCoordinator) runOnce(ctx context.Context) {
	report, err := c.runner.Run(ctx)
	if errors.Is(err, orchestrator.ErrRunInProgress) {
		slog.Warn("Skipping scheduled run, previous run still active")
		return
	}
	if err != nil {
		slog.Error("Scheduled ingestion run failed", "error", err)
	}
	if report == nil {
		return
	}

	slog.Info("Scheduled ingestion run finished",
		"run_id", report.RunID,
		"status", report.Status,
		"duration", report.Duration())

	if c.store == nil {
		return
	}
	// The run may have ended because of cancellation; the report is still recorded
	if err := c.store.Record(context.WithoutCancel(ctx), report); err != nil {
		slog.Error("Failed to record run status", "run_id", report.RunID, "error", err)
	}
}
