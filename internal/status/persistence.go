package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aviregistry/operator-ingest/internal/orchestrator"
	"github.com/aviregistry/operator-ingest/internal/versions"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=persistence.go Store

// Store records finished runs
type Store interface {
	// Record adds a finished run to the store
	Record(ctx context.Context, report *orchestrator.RunReport) error

	// Load returns the stored runs. An empty File is returned when nothing
	// was recorded yet.
	Load(ctx context.Context) (*File, error)
}

// fileStore implements Store with a single JSON file
type fileStore struct {
	path    string
	version string
	now     func() time.Time
	mu      sync.Mutex
}

// FileStoreOption configures a file store
type FileStoreOption func(*fileStore)

// WithWriterVersion overrides the version stamped into the file
func WithWriterVersion(version string) FileStoreOption {
	return func(f *fileStore) {
		f.version = version
	}
}

// WithClock sets the time source for UpdatedAt
func WithClock(now func() time.Time) FileStoreOption {
	return func(f *fileStore) {
		f.now = now
	}
}

// NewFileStore creates a store backed by the JSON file at path
func NewFileStore(path string, opts ...FileStoreOption) Store {
	f := &fileStore{
		path:    path,
		version: versions.Get().Version,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Record prepends the run to the file and keeps at most MaxHistory runs
func (f *fileStore) Record(ctx context.Context, report *orchestrator.RunReport) error {
	if report == nil {
		return errors.New("run report is required")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := f.load(ctx)
	if err != nil {
		return err
	}

	runs := make([]RunSummary, 0, min(len(file.Runs)+1, MaxHistory))
	runs = append(runs, Summarize(report))
	for _, run := range file.Runs {
		if len(runs) == MaxHistory {
			break
		}
		runs = append(runs, run)
	}
	file.Runs = runs
	file.WriterVersion = f.version
	file.UpdatedAt = f.now().UTC()

	return f.save(file)
}

// Load reads the status file
func (f *fileStore) Load(ctx context.Context) (*File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load(ctx)
}

func (f *fileStore) load(ctx context.Context) (*File, error) {
	// #nosec G304 -- path comes from the operator's configuration
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("failed to read status file '%s': %w", f.path, err)
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status file '%s': %w", f.path, err)
	}

	if versions.IsNewerVersion(file.WriterVersion, f.version) {
		slog.WarnContext(ctx, "Status file was written by a newer version",
			"path", f.path,
			"writer_version", file.WriterVersion,
			"version", f.version)
	}

	return &file, nil
}

func (f *fileStore) save(file *File) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0750); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status data: %w", err)
	}

	// Write to temporary file first for atomic operation
	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary status file: %w", err)
	}

	if err := os.Rename(tempPath, f.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename status file: %w", err)
	}

	return nil
}
