package config

import (
	"fmt"
	"net/url"
	"time"
	"unicode/utf8"
)

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validatePositiveDuration(c.RunTimeout, "runTimeout", false); err != nil {
		return err
	}
	if err := validatePositiveDuration(c.DeliveryTimeout, "deliveryTimeout", false); err != nil {
		return err
	}
	if err := validatePositiveDuration(c.Registry.Timeout, "registry.timeout", false); err != nil {
		return err
	}

	if err := validateRegistry(&c.Registry); err != nil {
		return err
	}

	if err := validateDelivery(c.Delivery); err != nil {
		return err
	}

	if c.Schedule != nil {
		if err := validatePositiveDuration(c.Schedule.Interval, "schedule.interval", true); err != nil {
			return err
		}
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return validateSources(c.Sources)
}

func validateRegistry(reg *RegistryConfig) error {
	if reg.BaseURL == "" {
		return fmt.Errorf("registry.baseURL is required")
	}
	if err := validateHTTPURL(reg.BaseURL); err != nil {
		return fmt.Errorf("registry.baseURL: %w", err)
	}
	if reg.Email == "" {
		return fmt.Errorf("registry.email is required")
	}
	return nil
}

func validateDelivery(d *DeliveryConfig) error {
	if d == nil {
		return nil
	}
	if d.ChunkSize < 0 || d.ChunkSize > MaxChunkSize {
		return fmt.Errorf("delivery.chunkSize must be between 1 and %d, got %d", MaxChunkSize, d.ChunkSize)
	}
	if d.Concurrency < 0 {
		return fmt.Errorf("delivery.concurrency must not be negative, got %d", d.Concurrency)
	}
	return nil
}

// validateSources validates every source and checks that sources sharing a
// rate key agree on its budget
func validateSources(sources []SourceConfig) error {
	if len(sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}

	names := make(map[string]bool)
	budgets := make(map[string]RateLimitConfig)
	for i := range sources {
		src := &sources[i]
		if src.Name == "" {
			return fmt.Errorf("source[%d]: name is required", i)
		}
		if names[src.Name] {
			return fmt.Errorf("source[%d]: duplicate source name '%s'", i, src.Name)
		}
		names[src.Name] = true

		if err := validateSource(src, i); err != nil {
			return err
		}

		key := src.GetRateKey()
		if existing, ok := budgets[key]; ok {
			if existing.Requests != src.RateLimit.Requests || src.GetRateInterval() != durationOr(existing.Interval, 0) {
				return fmt.Errorf("source[%d] (%s): rate limit differs from another source sharing domain '%s'",
					i, src.Name, key)
			}
			continue
		}
		budgets[key] = src.RateLimit
	}

	return nil
}

func validateSource(src *SourceConfig, index int) error {
	prefix := fmt.Sprintf("source[%d] (%s)", index, src.Name)

	if src.BaseURL == "" {
		return fmt.Errorf("%s: baseURL is required", prefix)
	}
	if err := validateHTTPURL(src.BaseURL); err != nil {
		return fmt.Errorf("%s: baseURL: %w", prefix, err)
	}

	switch src.GetKeyCase() {
	case KeyCaseUpper, KeyCaseLower, KeyCasePreserve:
	default:
		return fmt.Errorf("%s: keyCase must be one of %s, %s or %s, got %s",
			prefix, KeyCaseUpper, KeyCaseLower, KeyCasePreserve, src.KeyCase)
	}

	if src.RateLimit.Requests <= 0 {
		return fmt.Errorf("%s: rateLimit.requests must be positive", prefix)
	}
	if err := validatePositiveDuration(src.RateLimit.Interval, prefix+": rateLimit.interval", true); err != nil {
		return err
	}

	if src.Retry != nil {
		if src.Retry.MaxAttempts < 0 {
			return fmt.Errorf("%s: retry.maxAttempts must not be negative", prefix)
		}
		if err := validatePositiveDuration(src.Retry.BaseDelay, prefix+": retry.baseDelay", false); err != nil {
			return err
		}
	}

	return validateSourceType(src, prefix)
}

// validateSourceType ensures the type-specific block matches the type
func validateSourceType(src *SourceConfig, prefix string) error {
	switch src.Type {
	case SourceTypeAPI:
		if src.CSV != nil {
			return fmt.Errorf("%s: csv configuration is not allowed for type %s", prefix, src.Type)
		}
		return validateAPIConfig(src.API, prefix)
	case SourceTypeCSV:
		if src.API != nil {
			return fmt.Errorf("%s: api configuration is not allowed for type %s", prefix, src.Type)
		}
		return validateCSVConfig(src.CSV, prefix)
	case "":
		return fmt.Errorf("%s: type is required", prefix)
	default:
		return fmt.Errorf("%s: unsupported source type %s", prefix, src.Type)
	}
}

func validateAPIConfig(api *APIConfig, prefix string) error {
	if api == nil {
		return nil
	}
	switch api.GetPagination() {
	case PaginationCursor, PaginationPage:
	default:
		return fmt.Errorf("%s: api.pagination must be %s or %s, got %s",
			prefix, PaginationCursor, PaginationPage, api.Pagination)
	}
	if api.PageSize < 0 {
		return fmt.Errorf("%s: api.pageSize must not be negative", prefix)
	}
	if api.MaxPages < 0 {
		return fmt.Errorf("%s: api.maxPages must not be negative", prefix)
	}
	return nil
}

func validateCSVConfig(csv *CSVConfig, prefix string) error {
	if csv == nil || csv.Comma == "" {
		return nil
	}
	if utf8.RuneCountInString(csv.Comma) != 1 {
		return fmt.Errorf("%s: csv.comma must be a single character, got %q", prefix, csv.Comma)
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// validatePositiveDuration checks that value parses to a positive duration.
// An empty value is accepted unless required is set.
func validatePositiveDuration(value, field string, required bool) error {
	if value == "" {
		if required {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30s', '5m'): %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return nil
}
