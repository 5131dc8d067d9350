package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aviregistry/operator-ingest/internal/config"
)

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		keyCase string
		want    string
	}{
		{name: "upper by default", raw: "aoc-123", keyCase: "", want: "AOC-123"},
		{name: "whitespace removed", raw: " AOC 12 3\t", keyCase: config.KeyCaseUpper, want: "AOC123"},
		{name: "fullwidth folded by NFKC", raw: "ＡＯＣ１２３", keyCase: config.KeyCaseUpper, want: "AOC123"},
		{name: "lower folds case", raw: "DE.AOC.0042", keyCase: config.KeyCaseLower, want: "de.aoc.0042"},
		{name: "lower folds sharp s", raw: "STRAßE-1", keyCase: config.KeyCaseLower, want: "strasse-1"},
		{name: "preserve keeps case", raw: "Ab-12", keyCase: config.KeyCasePreserve, want: "Ab-12"},
		{name: "zero width removed", raw: "AB\u200b12", keyCase: config.KeyCaseUpper, want: "AB12"},
		{name: "only whitespace", raw: " \t\n", keyCase: config.KeyCaseUpper, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizeKey(tt.raw, tt.keyCase))
		})
	}
}

func TestNormalizeKey_EquivalentSpellingsCollide(t *testing.T) {
	t.Parallel()

	want := NormalizeKey("FR.AOC.001", config.KeyCaseUpper)
	for _, raw := range []string{"fr.aoc.001", " FR.AOC.001 ", "ＦＲ.ＡＯＣ.００１", "Fr. Aoc. 001"} {
		assert.Equal(t, want, NormalizeKey(raw, config.KeyCaseUpper), "raw %q", raw)
	}
}
