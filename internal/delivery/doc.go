// Package delivery upserts validated records into the registry. Records are
// deduplicated by key, split into chunks and sent with a cached bearer token.
// A failed chunk is recorded against its keys and does not stop the others.
package delivery
