package delivery

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aviregistry/operator-ingest/internal/httpclient"
	"github.com/aviregistry/operator-ingest/internal/ingest"
	"github.com/aviregistry/operator-ingest/internal/registry"
	"github.com/aviregistry/operator-ingest/internal/registry/stub"
	"github.com/aviregistry/operator-ingest/internal/retry"
)

const (
	testEmail    = "ingest@example.com"
	testPassword = "s3cret"
)

var testCreds = registry.Credentials{Email: testEmail, Password: testPassword}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestRegistry starts a stub registry and returns a client for it
func newTestRegistry(t *testing.T, opts ...stub.Option) (*stub.Server, registry.Client) {
	t.Helper()
	opts = append([]stub.Option{stub.WithUser(testEmail, testPassword)}, opts...)
	srv := stub.New(opts...)

	server := httptest.NewServer(srv.Handler())
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)

	return srv, registry.NewHTTPClient(server.URL, httpclient.NewDefaultClient(5*time.Second))
}

func fastLoginPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}
}

// afterUpsert runs hook after every bulk upsert that reaches the registry
type afterUpsert struct {
	registry.Client
	hook func(call int)

	mu    sync.Mutex
	calls int
}

func (c *afterUpsert) BulkUpsert(ctx context.Context, token string, records []registry.Record) (*registry.UpsertResponse, error) {
	resp, err := c.Client.BulkUpsert(ctx, token, records)
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()
	c.hook(call)
	return resp, err
}

// makeRecords builds n records from source with keys AOC-0001...
func makeRecords(source string, n int) []ingest.ValidatedRecord {
	records := make([]ingest.ValidatedRecord, n)
	for i := range records {
		key := fmt.Sprintf("AOC-%04d", i+1)
		records[i] = ingest.ValidatedRecord{
			Key:      key,
			Source:   source,
			Sequence: uint64(i + 1),
			Fields: map[string]any{
				ingest.NaturalKeyField: key,
				"legal_name":           "Operator " + key,
			},
		}
	}
	return records
}
