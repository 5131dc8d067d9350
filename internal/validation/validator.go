// Package validation turns candidate records into validated records: schema
// checks, sanitization of text, and natural-key normalization. A candidate
// that fails any check is rejected with a reason; rejection is a value, never
// a panic or an error that stops the run.
package validation

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/aviregistry/operator-ingest/internal/config"
	"github.com/aviregistry/operator-ingest/internal/ingest"
)

//go:embed schema/operator.schema.json
var operatorSchema []byte

const schemaURL = "https://schemas.aviregistry.dev/operator.schema.json"

// stringFields are the schema's text fields; all are sanitized
var stringFields = map[string]bool{
	ingest.NaturalKeyField: true,
	"legal_name":           true,
	"dba_name":             true,
	"country":              true,
	"authority":            true,
	"certificate_type":     true,
	"status":               true,
	"website":              true,
	"email":                true,
	"phone":                true,
	"address":              true,
	"remarks":              true,
	"issued_at":            true,
}

const fleetSizeField = "fleet_size"

// Validator checks candidates against the operator schema
type Validator struct {
	schema    *jsonschema.Schema
	sanitizer *Sanitizer
	printer   *message.Printer
	keyCases  map[string]string
}

// NewValidator compiles the operator schema. Key case conventions are taken
// from sources; unknown sources use upper case.
func NewValidator(sources []config.SourceConfig) (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(operatorSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse operator schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add operator schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile operator schema: %w", err)
	}

	keyCases := make(map[string]string, len(sources))
	for i := range sources {
		keyCases[sources[i].Name] = sources[i].GetKeyCase()
	}

	return &Validator{
		schema:    schema,
		sanitizer: NewSanitizer(),
		printer:   message.NewPrinter(language.English),
		keyCases:  keyCases,
	}, nil
}

// Validate checks one candidate. Exactly one of the results is meaningful:
// a ValidatedRecord with a non-empty key, or a rejection reason. Unknown
// fields are dropped. Validate is safe for concurrent use.
func (v *Validator) Validate(c *ingest.CandidateRecord) (ingest.ValidatedRecord, *ingest.RejectionReason) {
	reject := func(field, reason string) (ingest.ValidatedRecord, *ingest.RejectionReason) {
		return ingest.ValidatedRecord{}, &ingest.RejectionReason{
			Source:   c.Source,
			Position: c.Position,
			Field:    field,
			Reason:   reason,
		}
	}

	fields := make(map[string]any, len(c.Fields))
	for name, value := range c.Fields {
		switch {
		case stringFields[name]:
			text, ok := coerceString(value)
			if !ok {
				return reject(name, fmt.Sprintf("expected text, got %T", value))
			}
			if text = v.sanitizer.Sanitize(text); text != "" {
				fields[name] = text
			}
		case name == fleetSizeField:
			if value != nil && value != "" {
				fields[name] = coerceInteger(value)
			}
		}
	}
	if country, ok := fields["country"].(string); ok {
		fields["country"] = strings.ToUpper(country)
	}

	if err := v.schema.Validate(fields); err != nil {
		field, reason := v.describe(err)
		return reject(field, reason)
	}

	raw, _ := fields[ingest.NaturalKeyField].(string)
	key := NormalizeKey(raw, v.keyCases[c.Source])
	if key == "" {
		return reject(ingest.NaturalKeyField, "empty after normalization")
	}
	if !keyPattern.MatchString(key) {
		return reject(ingest.NaturalKeyField, fmt.Sprintf("%q is not a valid certificate number", key))
	}

	return ingest.ValidatedRecord{
		Key:    key,
		Source: c.Source,
		Fields: fields,
	}, nil
}

// describe reduces a schema error to the first offending field and a message
func (v *Validator) describe(err error) (string, string) {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return "", err.Error()
	}

	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	field := strings.Join(leaf.InstanceLocation, "/")
	if required, ok := leaf.ErrorKind.(*kind.Required); ok && len(required.Missing) > 0 {
		field = required.Missing[0]
		return field, "is required"
	}
	return field, leaf.ErrorKind.LocalizedString(v.printer)
}

// coerceString accepts text and numbers; sources commonly emit numeric
// certificate numbers
func coerceString(value any) (string, bool) {
	switch val := value.(type) {
	case nil:
		return "", true
	case string:
		return val, true
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return strconv.FormatInt(int64(val), 10), true
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	default:
		return "", false
	}
}

// coerceInteger turns integral numbers and numeric strings into int. Other
// values are returned unchanged for the schema to reject.
func coerceInteger(value any) any {
	switch val := value.(type) {
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int(val)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n
		}
	}
	return value
}
