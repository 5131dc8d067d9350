package sources

import (
	"iter"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aviregistry/operator-ingest/internal/config"
	"github.com/aviregistry/operator-ingest/internal/httpclient"
	"github.com/aviregistry/operator-ingest/internal/ingest"
)

// newTestServer creates a new test server with keep-alives disabled.
func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)
	return server
}

func testSource(name, sourceType, baseURL string) *config.SourceConfig {
	return &config.SourceConfig{
		Name:      name,
		Type:      sourceType,
		BaseURL:   baseURL,
		RateLimit: config.RateLimitConfig{Requests: 1000, Interval: "1s"},
		Retry:     &config.RetryConfig{MaxAttempts: 3, BaseDelay: "1ms"},
	}
}

func newTestGateway(t *testing.T, sources ...*config.SourceConfig) *Gateway {
	t.Helper()
	cfgs := make([]config.SourceConfig, 0, len(sources))
	for _, src := range sources {
		cfgs = append(cfgs, *src)
	}
	limiter, err := NewLimiter(cfgs)
	require.NoError(t, err)
	return NewGateway(httpclient.NewDefaultClient(0), limiter)
}

// collect drains a fetch sequence
func collect(seq iter.Seq2[*ingest.CandidateRecord, error]) ([]*ingest.CandidateRecord, []error) {
	var (
		records []*ingest.CandidateRecord
		errs    []error
	)
	for record, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, record)
	}
	return records, errs
}
