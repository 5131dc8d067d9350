// Package ingest defines the record types and the error taxonomy shared by
// every stage of the operator ingestion pipeline.
package ingest

// NaturalKeyField is the schema field carrying an operator's certificate number.
const NaturalKeyField = "certificate_number"

// CandidateRecord is an untyped record extracted from one source response.
// It lives only until the validator has looked at it.
type CandidateRecord struct {
	// Source is the name of the source that produced the record
	Source string

	// Position is the index of the record within one fetch invocation
	Position int

	// Fields holds the raw field values keyed by schema field name
	Fields map[string]any
}

// ValidatedRecord is a candidate that passed schema and sanitization checks.
// Values are copied, never shared, once created.
type ValidatedRecord struct {
	// Key is the normalized natural key. It is never empty.
	Key string

	// Source is the name of the source that produced the record
	Source string

	// Sequence orders records by arrival within a run; a higher value was produced later
	Sequence uint64

	// Fields holds the sanitized field values
	Fields map[string]any
}

// WithSequence returns a copy of the record stamped with seq.
func (r ValidatedRecord) WithSequence(seq uint64) ValidatedRecord {
	r.Sequence = seq
	return r
}
