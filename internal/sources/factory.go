package sources

import (
	"errors"
	"fmt"

	"github.com/aviregistry/operator-ingest/internal/config"
)

// ErrUnsupportedSourceType is returned for a source type without a fetcher
var ErrUnsupportedSourceType = errors.New("unsupported source type")

// defaultFetcherFactory is the default implementation of FetcherFactory
type defaultFetcherFactory struct {
	gateway *Gateway
}

var _ FetcherFactory = (*defaultFetcherFactory)(nil)

// NewFetcherFactory creates a fetcher factory whose fetchers share gateway
func NewFetcherFactory(gateway *Gateway) FetcherFactory {
	return &defaultFetcherFactory{gateway: gateway}
}

// CreateFetcher creates a fetcher for the given source
func (f *defaultFetcherFactory) CreateFetcher(src *config.SourceConfig) (Fetcher, error) {
	switch src.Type {
	case config.SourceTypeAPI:
		return NewAPIFetcher(f.gateway), nil
	case config.SourceTypeCSV:
		return NewCSVFetcher(f.gateway), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, src.Type)
	}
}
