// Package sources retrieves candidate operator records from external data
// sources.
//
// Architecture:
//   - Fetcher: lazily yields CandidateRecords for one source invocation
//   - FetcherFactory: creates the Fetcher matching a source's type
//   - Gateway: the only path to the network; every request first acquires the
//     source's rate budget and runs under the source's retry policy
//
// Current implementations:
//   - APIFetcher: paginated JSON APIs, cursor or page-number based, with
//     records and cursors located by gjson paths
//   - CSVFetcher: CSV exports decoded row by row
//
// Fetchers never rate-limit or retry on their own. Item-level problems are
// yielded as *ingest.ItemError and the sequence continues; page-level
// problems are yielded as *ingest.PermanentSourceError or
// *ingest.SourceUnavailableError.
package sources
