package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aviregistry/operator-ingest/internal/httpclient"
)

var (
	// ErrUnauthorized is returned when the registry rejects a bearer token
	ErrUnauthorized = errors.New("registry rejected the bearer token")

	// ErrInvalidCredentials is returned when the registry rejects a login
	ErrInvalidCredentials = errors.New("registry rejected the credentials")
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

// Client is the registry API
type Client interface {
	// Login exchanges credentials for a bearer token
	Login(ctx context.Context, creds Credentials) (*LoginResponse, error)

	// BulkUpsert creates or replaces records keyed by certificate number
	BulkUpsert(ctx context.Context, token string, records []Record) (*UpsertResponse, error)
}

// HTTPClient talks to the registry over HTTP
type HTTPClient struct {
	baseURL string
	http    httpclient.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a registry client for baseURL
func NewHTTPClient(baseURL string, client httpclient.Client) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
	}
}

// Login implements Client
func (c *HTTPClient) Login(ctx context.Context, creds Credentials) (*LoginResponse, error) {
	body, err := c.http.PostJSON(ctx, c.baseURL+LoginPath, creds, nil)
	if err != nil {
		if hasStatus(err, http.StatusUnauthorized, http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return nil, fmt.Errorf("login failed: %w", err)
	}

	var resp LoginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("login response carries no token")
	}
	return &resp, nil
}

// BulkUpsert implements Client
func (c *HTTPClient) BulkUpsert(ctx context.Context, token string, records []Record) (*UpsertResponse, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	body, err := c.http.PostJSON(ctx, c.baseURL+BulkUpsertPath, BulkUpsertRequest{Records: records}, header)
	if err != nil {
		if hasStatus(err, http.StatusUnauthorized) {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("bulk upsert failed: %w", err)
	}

	var resp UpsertResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode bulk upsert response: %w", err)
	}
	return &resp, nil
}

func hasStatus(err error, codes ...int) bool {
	var httpErr *httpclient.HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	for _, code := range codes {
		if httpErr.StatusCode == code {
			return true
		}
	}
	return false
}
