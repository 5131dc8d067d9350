package validation

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/aviregistry/operator-ingest/internal/config"
)

// keyPattern is the shape of a normalized certificate number
var keyPattern = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N}._/#-]*$`)

// NormalizeKey maps a raw certificate number to its natural key: Unicode
// NFKC, all whitespace removed, then the source's case convention. Equal
// certificates written with different widths, spacing or case (under the
// same convention) produce the same key. An empty result means the record
// has no usable key.
func NormalizeKey(raw, keyCase string) string {
	key := norm.NFKC.String(raw)
	key = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, key)

	// Casers carry state and are not safe for concurrent use
	switch keyCase {
	case config.KeyCasePreserve:
		return key
	case config.KeyCaseLower:
		return cases.Fold().String(key)
	default:
		return cases.Upper(language.Und).String(key)
	}
}
