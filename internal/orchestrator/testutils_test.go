package orchestrator

import (
	"context"
	"iter"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/aviregistry/operator-ingest/internal/config"
	"github.com/aviregistry/operator-ingest/internal/delivery"
	"github.com/aviregistry/operator-ingest/internal/httpclient"
	"github.com/aviregistry/operator-ingest/internal/ingest"
	"github.com/aviregistry/operator-ingest/internal/registry"
	"github.com/aviregistry/operator-ingest/internal/registry/stub"
	"github.com/aviregistry/operator-ingest/internal/sources"
	sourcemocks "github.com/aviregistry/operator-ingest/internal/sources/mocks"
	"github.com/aviregistry/operator-ingest/internal/validation"
)

const (
	testEmail    = "ingest@example.com"
	testPassword = "s3cret"
)

// item is one element of a fake fetch sequence
type item struct {
	record *ingest.CandidateRecord
	err    error
}

func good(source string, position int, key, name string) item {
	fields := map[string]any{"legal_name": name}
	if key != "" {
		fields[ingest.NaturalKeyField] = key
	}
	return item{record: &ingest.CandidateRecord{Source: source, Position: position, Fields: fields}}
}

func fail(err error) item {
	return item{err: err}
}

func seqOf(items ...item) iter.Seq2[*ingest.CandidateRecord, error] {
	return func(yield func(*ingest.CandidateRecord, error) bool) {
		for _, it := range items {
			if !yield(it.record, it.err) {
				return
			}
		}
	}
}

// blockingSeq yields items and then waits for ctx, yielding its cause
func blockingSeq(ctx context.Context, started chan<- struct{}, items ...item) iter.Seq2[*ingest.CandidateRecord, error] {
	return func(yield func(*ingest.CandidateRecord, error) bool) {
		for _, it := range items {
			if !yield(it.record, it.err) {
				return
			}
		}
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		yield(nil, context.Cause(ctx))
	}
}

func testConfig(names ...string) *config.Config {
	cfg := &config.Config{RunTimeout: "10s", DeliveryTimeout: "10s"}
	for _, name := range names {
		cfg.Sources = append(cfg.Sources, config.SourceConfig{
			Name:      name,
			Type:      config.SourceTypeAPI,
			BaseURL:   "https://" + name + ".example.com/operators",
			RateLimit: config.RateLimitConfig{Requests: 10, Interval: "1s"},
		})
	}
	return cfg
}

// fakeFactory serves one fetch function per source name through gomock
func fakeFactory(
	t *testing.T,
	ctrl *gomock.Controller,
	fetches map[string]func(ctx context.Context) iter.Seq2[*ingest.CandidateRecord, error],
) sources.FetcherFactory {
	t.Helper()
	factory := sourcemocks.NewMockFetcherFactory(ctrl)
	factory.EXPECT().CreateFetcher(gomock.Any()).DoAndReturn(
		func(src *config.SourceConfig) (sources.Fetcher, error) {
			fetch, found := fetches[src.Name]
			require.True(t, found, "unexpected source %s", src.Name)

			fetcher := sourcemocks.NewMockFetcher(ctrl)
			fetcher.EXPECT().Fetch(gomock.Any(), src).DoAndReturn(
				func(ctx context.Context, _ *config.SourceConfig) iter.Seq2[*ingest.CandidateRecord, error] {
					return fetch(ctx)
				})
			return fetcher, nil
		}).AnyTimes()
	return factory
}

func static(items ...item) func(context.Context) iter.Seq2[*ingest.CandidateRecord, error] {
	return func(context.Context) iter.Seq2[*ingest.CandidateRecord, error] {
		return seqOf(items...)
	}
}

func newTestValidator(t *testing.T, cfg *config.Config) *validation.Validator {
	t.Helper()
	v, err := validation.NewValidator(cfg.Sources)
	require.NoError(t, err)
	return v
}

// newTestDelivery starts a stub registry and returns a delivery client for it
func newTestDelivery(t *testing.T, password string) (*stub.Server, *delivery.Client) {
	t.Helper()
	srv := stub.New(stub.WithUser(testEmail, testPassword))
	server := httptest.NewServer(srv.Handler())
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)

	reg := registry.NewHTTPClient(server.URL, httpclient.NewDefaultClient(5*time.Second))
	tokens := delivery.NewTokenSource(reg, registry.Credentials{Email: testEmail, Password: password})
	return srv, delivery.NewClient(reg, tokens, delivery.WithRetryDelay(time.Millisecond))
}
