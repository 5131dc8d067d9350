package sources

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/aviregistry/operator-ingest/internal/config"
	"github.com/aviregistry/operator-ingest/internal/ingest"
)

// maxConsecutivePageFailures ends a page-numbered source after this many
// permanent page failures in a row
const maxConsecutivePageFailures = 3

// APIFetcher reads operator records from a paginated JSON API
type APIFetcher struct {
	gateway *Gateway
}

var _ Fetcher = (*APIFetcher)(nil)

// NewAPIFetcher creates a new API fetcher
func NewAPIFetcher(gateway *Gateway) *APIFetcher {
	return &APIFetcher{gateway: gateway}
}

// page is one decoded API response
type page struct {
	items []gjson.Result
	next  string
}

// Fetch implements Fetcher
func (f *APIFetcher) Fetch(ctx context.Context, src *config.SourceConfig) iter.Seq2[*ingest.CandidateRecord, error] {
	return func(yield func(*ingest.CandidateRecord, error) bool) {
		base, err := url.Parse(src.BaseURL)
		if err != nil {
			yield(nil, &ingest.PermanentSourceError{Source: src.Name, Err: fmt.Errorf("invalid base URL: %w", err)})
			return
		}

		if src.API.GetPagination() == config.PaginationPage {
			f.fetchNumbered(ctx, src, base, yield)
			return
		}
		f.fetchCursor(ctx, src, base, yield)
	}
}

// fetchCursor follows next cursors until a page has none. A failed page ends
// the source since the pages after it cannot be addressed.
func (f *APIFetcher) fetchCursor(
	ctx context.Context,
	src *config.SourceConfig,
	base *url.URL,
	yield func(*ingest.CandidateRecord, error) bool,
) {
	api := src.API
	position := 0
	cursor := ""

	for n := 0; n < api.GetMaxPages(); n++ {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(api.GetPageSize()))
		if cursor != "" {
			query.Set(api.GetCursorParam(), cursor)
		}

		p, err := f.getPage(ctx, src, pageURL(base, query))
		if err != nil {
			yield(nil, err)
			return
		}

		if !yieldItems(src, p.items, &position, yield) {
			return
		}

		if p.next == "" {
			return
		}
		if p.next == cursor {
			yield(nil, &ingest.PermanentSourceError{
				Source: src.Name,
				Err:    fmt.Errorf("cursor %q repeated", cursor),
			})
			return
		}
		cursor = p.next
	}

	slog.WarnContext(ctx, "Page limit reached, stopping source",
		"source", src.Name,
		"max_pages", api.GetMaxPages())
}

// fetchNumbered requests pages 1, 2, ... until an empty page. A permanent
// failure skips that page; too many in a row end the source.
func (f *APIFetcher) fetchNumbered(
	ctx context.Context,
	src *config.SourceConfig,
	base *url.URL,
	yield func(*ingest.CandidateRecord, error) bool,
) {
	api := src.API
	position := 0
	failures := 0

	for number := 1; number <= api.GetMaxPages(); number++ {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(api.GetPageSize()))
		query.Set(api.GetPageParam(), strconv.Itoa(number))

		p, err := f.getPage(ctx, src, pageURL(base, query))
		if err != nil {
			var permanent *ingest.PermanentSourceError
			if !errors.As(err, &permanent) {
				yield(nil, err)
				return
			}
			failures++
			if !yield(nil, err) || failures >= maxConsecutivePageFailures {
				return
			}
			continue
		}
		failures = 0

		if len(p.items) == 0 {
			return
		}
		if !yieldItems(src, p.items, &position, yield) {
			return
		}
	}

	slog.WarnContext(ctx, "Page limit reached, stopping source",
		"source", src.Name,
		"max_pages", api.GetMaxPages())
}

// getPage fetches and decodes one page. Undecodable pages are permanent
// failures.
func (f *APIFetcher) getPage(ctx context.Context, src *config.SourceConfig, pageURL string) (*page, error) {
	body, err := f.gateway.Get(ctx, src, pageURL)
	if err != nil {
		return nil, err
	}

	p, err := decodePage(body, src.API)
	if err != nil {
		return nil, &ingest.PermanentSourceError{
			Source: src.Name,
			Err:    fmt.Errorf("failed to decode %s: %w", pageURL, err),
		}
	}
	return p, nil
}

func decodePage(body []byte, api *config.APIConfig) (*page, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("response is not valid JSON")
	}

	records := gjson.GetBytes(body, api.GetRecordsPath())
	if !records.Exists() {
		return &page{}, nil
	}
	if !records.IsArray() {
		return nil, fmt.Errorf("%s is not an array", api.GetRecordsPath())
	}

	return &page{
		items: records.Array(),
		next:  gjson.GetBytes(body, api.GetCursorPath()).String(),
	}, nil
}

// yieldItems converts and yields items, advancing position. It returns false
// once the consumer stops.
func yieldItems(
	src *config.SourceConfig,
	items []gjson.Result,
	position *int,
	yield func(*ingest.CandidateRecord, error) bool,
) bool {
	for _, item := range items {
		record, err := toCandidate(src, item, *position)
		*position++
		if !yield(record, err) {
			return false
		}
	}
	return true
}

func toCandidate(src *config.SourceConfig, item gjson.Result, position int) (*ingest.CandidateRecord, error) {
	if !item.IsObject() {
		return nil, &ingest.ItemError{
			Source:   src.Name,
			Position: position,
			Err:      fmt.Errorf("record is not a JSON object: %s", item.Type),
		}
	}

	fields, _ := item.Value().(map[string]any)
	if fields == nil {
		fields = make(map[string]any)
	}

	if src.API != nil {
		for field, path := range src.API.FieldMap {
			if value := item.Get(path); value.Exists() {
				fields[field] = value.Value()
			}
		}
	}

	return &ingest.CandidateRecord{
		Source:   src.Name,
		Position: position,
		Fields:   fields,
	}, nil
}

func pageURL(base *url.URL, query url.Values) string {
	u := *base
	merged := u.Query()
	for key, values := range query {
		merged[key] = values
	}
	u.RawQuery = merged.Encode()
	return u.String()
}
