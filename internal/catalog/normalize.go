package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName folds a card or set name to the catalog's comparison form:
// accents stripped, non-breaking spaces flattened, whitespace collapsed,
// lower case. "Pokémon" and "Pokemon" normalize identically.
func NormalizeName(name string) string {
	name = strings.ReplaceAll(name, " ", " ")
	if folded, _, err := transform.String(stripMarks, name); err == nil {
		name = folded
	}
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(name), " ")
}
