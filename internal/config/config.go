// Package config provides configuration loading and management for the ingestion pipeline.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aviregistry/operator-ingest/internal/telemetry"
)

// EnvPrefix is the prefix for environment variables read by the CLI
const EnvPrefix = "OPERATOR_INGEST"

// PasswordEnvVar holds the registry password when no password file is configured
const PasswordEnvVar = EnvPrefix + "_REGISTRY_PASSWORD"

const (
	// SourceTypeAPI is the type for paginated JSON APIs
	SourceTypeAPI = "api"

	// SourceTypeCSV is the type for CSV exports
	SourceTypeCSV = "csv"
)

const (
	// KeyCaseUpper upper-cases natural keys
	KeyCaseUpper = "upper"

	// KeyCaseLower case-folds natural keys
	KeyCaseLower = "lower"

	// KeyCasePreserve keeps natural keys in the case the source provided
	KeyCasePreserve = "preserve"
)

const (
	// PaginationCursor follows a cursor returned by each page
	PaginationCursor = "cursor"

	// PaginationPage requests numbered pages until an empty one
	PaginationPage = "page"
)

const (
	// DefaultRunTimeout bounds the fetch phase of a run
	DefaultRunTimeout = 10 * time.Minute

	// DefaultDeliveryTimeout bounds delivery after the fetch phase timed out
	DefaultDeliveryTimeout = 2 * time.Minute

	// DefaultChunkSize is the number of records per bulk upsert
	DefaultChunkSize = 50

	// MaxChunkSize is the largest bulk upsert the registry accepts
	MaxChunkSize = 500

	// DefaultConcurrency is the number of chunks delivered in parallel
	DefaultConcurrency = 1

	// DefaultRegistryTimeout is the per-request timeout for registry calls
	DefaultRegistryTimeout = 30 * time.Second

	// DefaultMaxAttempts is the default number of fetch attempts per request
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the default wait before the second attempt
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultRecordsPath locates the records array in an API page
	DefaultRecordsPath = "data"

	// DefaultCursorPath locates the next cursor in an API page
	DefaultCursorPath = "next_cursor"

	// DefaultCursorParam is the query parameter carrying the cursor
	DefaultCursorParam = "cursor"

	// DefaultPageParam is the query parameter carrying the page number
	DefaultPageParam = "page"

	// DefaultPageSize is the number of records requested per page
	DefaultPageSize = 100

	// DefaultMaxPages bounds discovery for a single source
	DefaultMaxPages = 1000

	// DefaultStatusFile is where the last run summary is stored
	DefaultStatusFile = "./data/status.json"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// RunTimeout bounds the fetch phase of a run (e.g., "10m")
	RunTimeout string `yaml:"runTimeout,omitempty"`

	// DeliveryTimeout bounds delivery of already validated records after the
	// fetch phase hit RunTimeout
	DeliveryTimeout string `yaml:"deliveryTimeout,omitempty"`

	// StatusFile is where the last run summary is persisted
	StatusFile string `yaml:"statusFile,omitempty"`

	Registry  RegistryConfig    `yaml:"registry"`
	Delivery  *DeliveryConfig   `yaml:"delivery,omitempty"`
	Schedule  *ScheduleConfig   `yaml:"schedule,omitempty"`
	Sources   []SourceConfig    `yaml:"sources"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// RegistryConfig defines how to reach the downstream registry
type RegistryConfig struct {
	// BaseURL is the registry API root, e.g. "https://registry.example.com/api"
	BaseURL string `yaml:"baseURL"`

	// Email identifies the ingestion account
	Email string `yaml:"email"`

	// PasswordFile is the path to a file containing the account password
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Timeout is the per-request timeout (e.g., "30s")
	Timeout string `yaml:"timeout,omitempty"`
}

// DeliveryConfig defines batch delivery settings
type DeliveryConfig struct {
	// ChunkSize is the number of records per bulk upsert (max 500)
	ChunkSize int `yaml:"chunkSize,omitempty"`

	// Concurrency is the number of chunks in flight at once
	Concurrency int `yaml:"concurrency,omitempty"`
}

// ScheduleConfig defines periodic runs
type ScheduleConfig struct {
	Interval string `yaml:"interval"`
}

// SourceConfig describes a single external data source
type SourceConfig struct {
	// Name is the source key used in reports, logs and metrics
	Name string `yaml:"name"`

	// Type selects the fetcher (api or csv)
	Type string `yaml:"type"`

	// BaseURL is the endpoint the fetcher requests
	BaseURL string `yaml:"baseURL"`

	// Domain groups sources sharing one rate budget; defaults to the BaseURL host
	Domain string `yaml:"domain,omitempty"`

	// KeyCase is the natural key case convention (upper, lower or preserve)
	KeyCase string `yaml:"keyCase,omitempty"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Retry     *RetryConfig    `yaml:"retry,omitempty"`

	// Type-specific configurations (only the one matching Type may be set)
	API *APIConfig `yaml:"api,omitempty"`
	CSV *CSVConfig `yaml:"csv,omitempty"`
}

// RateLimitConfig allows Requests requests within any window of Interval
type RateLimitConfig struct {
	Requests int    `yaml:"requests"`
	Interval string `yaml:"interval"`
}

// RetryConfig defines the retry policy for a source
type RetryConfig struct {
	MaxAttempts int    `yaml:"maxAttempts,omitempty"`
	BaseDelay   string `yaml:"baseDelay,omitempty"`
}

// APIConfig defines paginated JSON API settings
type APIConfig struct {
	// Pagination is either "cursor" (default) or "page"
	Pagination string `yaml:"pagination,omitempty"`

	// RecordsPath is the gjson path of the records array
	RecordsPath string `yaml:"recordsPath,omitempty"`

	// CursorPath is the gjson path of the next cursor
	CursorPath string `yaml:"cursorPath,omitempty"`

	// CursorParam is the query parameter carrying the cursor
	CursorParam string `yaml:"cursorParam,omitempty"`

	// PageParam is the query parameter carrying the page number
	PageParam string `yaml:"pageParam,omitempty"`

	PageSize int `yaml:"pageSize,omitempty"`
	MaxPages int `yaml:"maxPages,omitempty"`

	// FieldMap maps schema field names to gjson paths within a record
	FieldMap map[string]string `yaml:"fieldMap,omitempty"`
}

// CSVConfig defines CSV export settings
type CSVConfig struct {
	// Comma is the field delimiter, "," when empty
	Comma string `yaml:"comma,omitempty"`

	// FieldMap maps schema field names to header names
	FieldMap map[string]string `yaml:"fieldMap,omitempty"`
}

// GetPassword returns the registry password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from OPERATOR_INGEST_REGISTRY_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (r *RegistryConfig) GetPassword() (string, error) {
	if r.PasswordFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(r.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", r.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(PasswordEnvVar); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no registry password configured: set passwordFile or %s environment variable", PasswordEnvVar,
	)
}

// GetTimeout returns the registry request timeout
func (r *RegistryConfig) GetTimeout() time.Duration {
	return durationOr(r.Timeout, DefaultRegistryTimeout)
}

// LoadConfig loads, parses and validates configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetRunTimeout returns the fetch phase timeout
func (c *Config) GetRunTimeout() time.Duration {
	return durationOr(c.RunTimeout, DefaultRunTimeout)
}

// GetDeliveryTimeout returns the post-timeout delivery budget
func (c *Config) GetDeliveryTimeout() time.Duration {
	return durationOr(c.DeliveryTimeout, DefaultDeliveryTimeout)
}

// GetStatusFile returns the status file path
func (c *Config) GetStatusFile() string {
	if c.StatusFile == "" {
		return DefaultStatusFile
	}
	return c.StatusFile
}

// GetChunkSize returns the bulk upsert size
func (c *Config) GetChunkSize() int {
	if c.Delivery == nil || c.Delivery.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return c.Delivery.ChunkSize
}

// GetConcurrency returns the number of chunks delivered in parallel
func (c *Config) GetConcurrency() int {
	if c.Delivery == nil || c.Delivery.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return c.Delivery.Concurrency
}

// GetScheduleInterval returns the interval between scheduled runs, zero when unscheduled
func (c *Config) GetScheduleInterval() time.Duration {
	if c.Schedule == nil {
		return 0
	}
	return durationOr(c.Schedule.Interval, 0)
}

// GetRateKey returns the key of the rate budget this source draws from
func (s *SourceConfig) GetRateKey() string {
	if s.Domain != "" {
		return strings.ToLower(s.Domain)
	}
	if u, err := url.Parse(s.BaseURL); err == nil && u.Host != "" {
		return strings.ToLower(u.Hostname())
	}
	return s.Name
}

// GetRateInterval returns the rate window
func (s *SourceConfig) GetRateInterval() time.Duration {
	return durationOr(s.RateLimit.Interval, 0)
}

// GetKeyCase returns the natural key case convention
func (s *SourceConfig) GetKeyCase() string {
	if s.KeyCase == "" {
		return KeyCaseUpper
	}
	return s.KeyCase
}

// GetMaxAttempts returns the number of fetch attempts per request
func (s *SourceConfig) GetMaxAttempts() int {
	if s.Retry == nil || s.Retry.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return s.Retry.MaxAttempts
}

// GetBaseDelay returns the wait before the second attempt
func (s *SourceConfig) GetBaseDelay() time.Duration {
	if s.Retry == nil {
		return DefaultBaseDelay
	}
	return durationOr(s.Retry.BaseDelay, DefaultBaseDelay)
}

// GetPagination returns the pagination mode
func (a *APIConfig) GetPagination() string {
	if a == nil || a.Pagination == "" {
		return PaginationCursor
	}
	return a.Pagination
}

// GetRecordsPath returns the gjson path of the records array
func (a *APIConfig) GetRecordsPath() string {
	if a == nil || a.RecordsPath == "" {
		return DefaultRecordsPath
	}
	return a.RecordsPath
}

// GetCursorPath returns the gjson path of the next cursor
func (a *APIConfig) GetCursorPath() string {
	if a == nil || a.CursorPath == "" {
		return DefaultCursorPath
	}
	return a.CursorPath
}

// GetCursorParam returns the cursor query parameter
func (a *APIConfig) GetCursorParam() string {
	if a == nil || a.CursorParam == "" {
		return DefaultCursorParam
	}
	return a.CursorParam
}

// GetPageParam returns the page number query parameter
func (a *APIConfig) GetPageParam() string {
	if a == nil || a.PageParam == "" {
		return DefaultPageParam
	}
	return a.PageParam
}

// GetPageSize returns the number of records requested per page
func (a *APIConfig) GetPageSize() int {
	if a == nil || a.PageSize <= 0 {
		return DefaultPageSize
	}
	return a.PageSize
}

// GetMaxPages returns the page limit
func (a *APIConfig) GetMaxPages() int {
	if a == nil || a.MaxPages <= 0 {
		return DefaultMaxPages
	}
	return a.MaxPages
}

// GetComma returns the CSV delimiter
func (c *CSVConfig) GetComma() rune {
	if c == nil || c.Comma == "" {
		return ','
	}
	return []rune(c.Comma)[0]
}

// durationOr parses value, returning fallback when it is empty or invalid.
// Validate rejects invalid values before accessors are used.
func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
