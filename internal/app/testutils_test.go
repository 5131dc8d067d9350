package app

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aviregistry/operator-ingest/internal/config"
	"github.com/aviregistry/operator-ingest/internal/registry/stub"
)

const (
	testEmail    = "ingest@example.com"
	testPassword = "correct horse"
)

// newTestServer creates a new test server with keep-alives disabled.
func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)
	return server
}

// newTestSources starts an API source with three records, one of them
// keyless, and a CSV source with one record
func newTestSources(t *testing.T) (apiURL, csvURL string) {
	t.Helper()

	api := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("cursor") {
		case "":
			_, _ = w.Write([]byte(`{"data":[{"certificate_number":"A1","legal_name":"Alpha Air"},{"legal_name":"Keyless"}],"next_cursor":"p2"}`))
		case "p2":
			_, _ = w.Write([]byte(`{"data":[{"certificate_number":"B2","legal_name":"Bravo","country":"us"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))

	csv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("certificate_number,legal_name\nC3,Charlie Cargo\n"))
	}))

	return api.URL + "/operators", csv.URL + "/export.csv"
}

// newTestRegistry starts a registry stub accepting the test credentials
func newTestRegistry(t *testing.T) (*stub.Server, string) {
	t.Helper()
	reg := stub.New(stub.WithUser(testEmail, testPassword))
	server := newTestServer(t, reg.Handler())
	return reg, server.URL
}

// newTestConfig builds a configuration for the test sources and registry
func newTestConfig(t *testing.T, registryURL, apiURL, csvURL string) *config.Config {
	t.Helper()

	dir := t.TempDir()
	passwordFile := filepath.Join(dir, "password")
	require.NoError(t, os.WriteFile(passwordFile, []byte(testPassword+"\n"), 0600))

	budget := config.RateLimitConfig{Requests: 100, Interval: "1s"}
	return &config.Config{
		StatusFile: filepath.Join(dir, "status.json"),
		Registry: config.RegistryConfig{
			BaseURL:      registryURL,
			Email:        testEmail,
			PasswordFile: passwordFile,
		},
		Sources: []config.SourceConfig{
			{Name: "faa", Type: config.SourceTypeAPI, BaseURL: apiURL, RateLimit: budget, API: &config.APIConfig{}},
			{Name: "easa", Type: config.SourceTypeCSV, BaseURL: csvURL, RateLimit: budget},
		},
	}
}
