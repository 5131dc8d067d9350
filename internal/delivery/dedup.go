package delivery

import (
	"slices"

	"github.com/aviregistry/operator-ingest/internal/ingest"
)

// Dedup keeps one record per key, the one with the highest Sequence. Records
// come out in the order their key first appeared. It returns the number of
// records dropped.
func Dedup(records []ingest.ValidatedRecord) ([]ingest.ValidatedRecord, int) {
	index := make(map[string]int, len(records))
	out := make([]ingest.ValidatedRecord, 0, len(records))

	for _, r := range records {
		if i, ok := index[r.Key]; ok {
			if r.Sequence >= out[i].Sequence {
				out[i] = r
			}
			continue
		}
		index[r.Key] = len(out)
		out = append(out, r)
	}
	return out, len(records) - len(out)
}

// Chunk splits records into consecutive chunks of at most size records
func Chunk(records []ingest.ValidatedRecord, size int) [][]ingest.ValidatedRecord {
	if len(records) == 0 || size <= 0 {
		return nil
	}
	return slices.Collect(slices.Chunk(records, size))
}
