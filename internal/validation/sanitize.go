package validation

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer removes markup and scripts from free text. Its output contains
// no tags, no control characters and no runs of whitespace, and
// Sanitize(Sanitize(x)) == Sanitize(x).
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer creates a sanitizer that strips every HTML element
func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize returns the plain-text form of s. Entity-encoded markup such as
// "&lt;script&gt;" is decoded and stripped on a later pass, so the result is
// a fixed point of the sanitizer however deeply the input is encoded.
func (s *Sanitizer) Sanitize(in string) string {
	out := in
	for {
		next := s.pass(out)
		if next == out {
			return out
		}
		// A pass that changes its input always shortens it. If one does not,
		// drop the markup characters so the next pass is a fixed point.
		if len(next) >= len(out) {
			return s.pass(strings.Map(dropMarkup, next))
		}
		out = next
	}
}

func dropMarkup(r rune) rune {
	switch r {
	case '<', '>', '&':
		return -1
	default:
		return r
	}
}

func (s *Sanitizer) pass(in string) string {
	stripped := html.UnescapeString(s.policy.Sanitize(in))
	stripped = strings.Map(func(r rune) rune {
		switch {
		case r == unicode.ReplacementChar:
			return -1
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return -1
		default:
			return r
		}
	}, stripped)
	return strings.Join(strings.Fields(stripped), " ")
}
