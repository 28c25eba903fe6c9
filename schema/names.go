package schema

import (
	"strings"
	"unicode"
)

// ShortName strips the namespace prefix from a qualified catalog identifier:
// "CI_Citation" becomes "Citation". Identifiers without an underscore are
// returned unchanged.
func ShortName(uml string) string {
	if i := strings.IndexByte(uml, '_'); i >= 0 {
		return uml[i+1:]
	}
	return uml
}

// SnakeCase transliterates a medial-capitalized name to the
// underscore-separated lowercase form used by the foreign side:
// "alternateTitle" becomes "alternate_title", "toWKT" becomes "to_wkt",
// "ISBN" becomes "isbn".
func SnakeCase(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)
	runes := []rune(name)
	for i, r := range runes {
		if !unicode.IsUpper(r) {
			b.WriteRune(r)
			continue
		}
		if i > 0 {
			// Break after a lowercase rune, or before the last rune of an
			// uppercase run followed by lowercase ("HTTPServer" → "http_server").
			afterLower := !unicode.IsUpper(runes[i-1]) && runes[i-1] != '_'
			acronymEnd := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if afterLower || acronymEnd {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
