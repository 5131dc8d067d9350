package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aviregistry/operator-ingest/internal/orchestrator"
	"github.com/aviregistry/operator-ingest/internal/registry/stub"
	"github.com/aviregistry/operator-ingest/internal/status"
	"github.com/aviregistry/operator-ingest/internal/versions"
)

// newTestServer creates a new test server with keep-alives disabled.
func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)
	return server
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeTestConfig writes a configuration with one CSV source and returns its
// path together with the status file path
func writeTestConfig(t *testing.T, registryURL, csvURL string) (string, string) {
	t.Helper()

	dir := t.TempDir()
	passwordFile := filepath.Join(dir, "password")
	require.NoError(t, os.WriteFile(passwordFile, []byte("secret\n"), 0600))
	statusFile := filepath.Join(dir, "status.json")

	content := fmt.Sprintf(`statusFile: %s
registry:
  baseURL: %s
  email: ingest@example.com
  passwordFile: %s
sources:
  - name: easa
    type: csv
    baseURL: %s
    rateLimit:
      requests: 100
      interval: "1s"
`, statusFile, registryURL, passwordFile, csvURL)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path, statusFile
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version", "--format", "json")
	require.NoError(t, err)

	var info versions.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, versions.Get().Version, info.Version)

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "operator-ingest ")
}

func TestRunCmd(t *testing.T) {
	t.Parallel()

	reg := stub.New(stub.WithUser("ingest@example.com", "secret"))
	registry := newTestServer(t, reg.Handler())
	csv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("certificate_number,legal_name\nC3,Charlie Cargo\n,Keyless\n"))
	}))
	configPath, statusFile := writeTestConfig(t, registry.URL, csv.URL+"/export.csv")

	out, err := execute(t, "run", "--config", configPath, "--format", "json")
	require.NoError(t, err)

	var report orchestrator.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, orchestrator.StatusCompleted, report.Status)
	assert.Equal(t, 1, report.Totals().Upserted)
	assert.Equal(t, 1, report.Totals().Rejected)
	assert.Contains(t, reg.Records(), "C3")

	// The run shows up in the status command
	out, err = execute(t, "status", "--status-file", statusFile, "--format", "json")
	require.NoError(t, err)
	var file status.File
	require.NoError(t, json.Unmarshal([]byte(out), &file))
	require.NotNil(t, file.LastRun())
	assert.Equal(t, report.RunID, file.LastRun().RunID)

	out, err = execute(t, "status", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, report.RunID)
}

func TestRunCmd_TableOutput(t *testing.T) {
	t.Parallel()

	reg := stub.New(stub.WithUser("ingest@example.com", "secret"))
	registry := newTestServer(t, reg.Handler())
	csv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("certificate_number,legal_name\nC3,Charlie Cargo\n"))
	}))
	configPath, _ := writeTestConfig(t, registry.URL, csv.URL+"/export.csv")

	out, err := execute(t, "run", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "easa")
	assert.Contains(t, out, string(orchestrator.StatusCompleted))
}

func TestRunCmd_FailedRun(t *testing.T) {
	t.Parallel()

	// The registry does not know the configured account
	reg := stub.New(stub.WithUser("someone@example.com", "secret"))
	registry := newTestServer(t, reg.Handler())
	csv := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("certificate_number,legal_name\nC3,Charlie Cargo\n"))
	}))
	configPath, _ := writeTestConfig(t, registry.URL, csv.URL+"/export.csv")

	out, err := execute(t, "run", "--config", configPath, "--format", "json")
	require.Error(t, err)

	// The report is still printed before the error
	var report orchestrator.RunReport
	require.NoError(t, json.NewDecoder(bytes.NewBufferString(out)).Decode(&report))
	assert.Equal(t, orchestrator.StatusFailed, report.Status)
}

func TestCommandErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		args   []string
		errMsg string
	}{
		{name: "run without config", args: []string{"run"}, errMsg: "configuration file is required"},
		{name: "run with unknown format", args: []string{"run", "--format", "yaml"}, errMsg: "unsupported output format"},
		{name: "run with missing config file", args: []string{"run", "--config", "/nonexistent/config.yaml"}, errMsg: "failed to load configuration"},
		{name: "status with unknown format", args: []string{"status", "--format", "xml"}, errMsg: "unsupported output format"},
		{name: "stub registry without password", args: []string{"stub-registry", "--address", "127.0.0.1:0"}, errMsg: "password is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateCmd(t *testing.T) {
	t.Parallel()

	configPath, _ := writeTestConfig(t, "http://localhost:8081", "https://easa.example/export.csv")

	out, err := execute(t, "validate", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Valid configuration")
	assert.Contains(t, out, "Source: easa (csv, 100 requests per 1s)")
}

func TestStatusCmd_NoRuns(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "status", "--status-file", filepath.Join(t.TempDir(), "status.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded")
}
