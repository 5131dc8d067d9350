package sources

import (
	"context"
	"iter"

	"github.com/aviregistry/operator-ingest/internal/config"
	"github.com/aviregistry/operator-ingest/internal/ingest"
)

//go:generate mockgen -destination=mocks/mock_fetcher.go -package=mocks -source=types.go Fetcher,FetcherFactory

// Fetcher retrieves candidate records from an external source
type Fetcher interface {
	// Fetch returns a lazy, finite sequence of candidates. Each pair carries
	// either a record or an error. Pagination state is local to the returned
	// sequence, so ranging over it again restarts from the first page.
	Fetch(ctx context.Context, src *config.SourceConfig) iter.Seq2[*ingest.CandidateRecord, error]
}

// FetcherFactory creates fetchers based on source type
type FetcherFactory interface {
	// CreateFetcher creates a fetcher for the given source
	CreateFetcher(src *config.SourceConfig) (Fetcher, error)
}
