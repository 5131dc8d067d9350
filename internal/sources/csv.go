package sources

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/aviregistry/operator-ingest/internal/config"
	"github.com/aviregistry/operator-ingest/internal/ingest"
)

// utf8BOM is stripped from the first header cell
const utf8BOM = "\ufeff"

// operatorRow holds the schema columns of a CSV export. Headers are renamed
// through the source's field map before rows are decoded into it.
type operatorRow struct {
	CertificateNumber string `csv:"certificate_number"`
	LegalName         string `csv:"legal_name"`
	DBAName           string `csv:"dba_name"`
	Country           string `csv:"country"`
	Authority         string `csv:"authority"`
	CertificateType   string `csv:"certificate_type"`
	Status            string `csv:"status"`
	FleetSize         string `csv:"fleet_size"`
	Website           string `csv:"website"`
	Email             string `csv:"email"`
	Phone             string `csv:"phone"`
	Address           string `csv:"address"`
	Remarks           string `csv:"remarks"`
	IssuedAt          string `csv:"issued_at"`
}

func (r operatorRow) fields() map[string]string {
	return map[string]string{
		"certificate_number": r.CertificateNumber,
		"legal_name":         r.LegalName,
		"dba_name":           r.DBAName,
		"country":            r.Country,
		"authority":          r.Authority,
		"certificate_type":   r.CertificateType,
		"status":             r.Status,
		"fleet_size":         r.FleetSize,
		"website":            r.Website,
		"email":              r.Email,
		"phone":              r.Phone,
		"address":            r.Address,
		"remarks":            r.Remarks,
		"issued_at":          r.IssuedAt,
	}
}

// CSVFetcher reads operator records from a CSV export. The export is a single
// document, so a permanent failure fetching it ends the source.
type CSVFetcher struct {
	gateway *Gateway
}

var _ Fetcher = (*CSVFetcher)(nil)

// NewCSVFetcher creates a new CSV fetcher
func NewCSVFetcher(gateway *Gateway) *CSVFetcher {
	return &CSVFetcher{gateway: gateway}
}

// Fetch implements Fetcher. Rows are decoded one at a time as the sequence is
// consumed; a row with the wrong number of cells is yielded as an item error.
func (f *CSVFetcher) Fetch(ctx context.Context, src *config.SourceConfig) iter.Seq2[*ingest.CandidateRecord, error] {
	return func(yield func(*ingest.CandidateRecord, error) bool) {
		body, err := f.gateway.Get(ctx, src, src.BaseURL)
		if err != nil {
			yield(nil, err)
			return
		}

		reader := csv.NewReader(bytes.NewReader(body))
		reader.Comma = src.CSV.GetComma()
		reader.LazyQuotes = true
		reader.TrimLeadingSpace = true

		decoder, err := gocsv.NewUnmarshaller(reader, operatorRow{})
		if errors.Is(err, io.EOF) {
			return
		}
		if err == nil {
			err = decoder.RenormalizeHeaders(func(header []string) []string {
				return columnFields(header, src.CSV)
			})
		}
		if err != nil {
			yield(nil, &ingest.PermanentSourceError{Source: src.Name, Err: fmt.Errorf("failed to read CSV header: %w", err)})
			return
		}

		for position := 0; ; position++ {
			value, extra, err := decoder.ReadUnmatched()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if isRowError(err) {
					if !yield(nil, &ingest.ItemError{Source: src.Name, Position: position, Err: err}) {
						return
					}
					continue
				}
				yield(nil, &ingest.PermanentSourceError{Source: src.Name, Err: fmt.Errorf("failed to read CSV: %w", err)})
				return
			}

			row, ok := value.(operatorRow)
			if !ok {
				yield(nil, &ingest.PermanentSourceError{Source: src.Name, Err: fmt.Errorf("unexpected CSV row type %T", value)})
				return
			}
			if !yield(rowCandidate(src.Name, position, row, extra), nil) {
				return
			}
		}
	}
}

// columnFields maps each column to its schema field name. Columns listed in
// the field map take the mapped name; the rest keep their header name.
func columnFields(header []string, cfg *config.CSVConfig) []string {
	byHeader := make(map[string]string)
	if cfg != nil {
		for field, column := range cfg.FieldMap {
			byHeader[column] = field
		}
	}

	fields := make([]string, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, utf8BOM))
		if field, ok := byHeader[name]; ok {
			name = field
		}
		fields[i] = name
	}
	return fields
}

// rowCandidate builds a candidate from a decoded row and the cells of columns
// outside the schema; empty cells are omitted
func rowCandidate(source string, position int, row operatorRow, extra map[string]string) *ingest.CandidateRecord {
	fields := make(map[string]any)
	add := func(name, value string) {
		if value = strings.TrimSpace(value); name != "" && value != "" {
			fields[name] = value
		}
	}
	for name, value := range extra {
		add(name, value)
	}
	for name, value := range row.fields() {
		add(name, value)
	}
	return &ingest.CandidateRecord{
		Source:   source,
		Position: position,
		Fields:   fields,
	}
}

func isRowError(err error) bool {
	var parseErr *csv.ParseError
	return errors.As(err, &parseErr) && errors.Is(parseErr.Err, csv.ErrFieldCount)
}
