// Package sanitize normalises untrusted name fragments, such as uploaded file
// names and the remote party, into a character set that is safe to embed in a
// file name inside a site directory.
package sanitize

import "regexp"

// whitespace is the Unicode White_Space property, not just the ASCII
// subset matched by \s.
const whitespace = `\s\v\x{85}\p{Zs}\x{2028}\x{2029}`

var (
	// disallowed matches every rune outside the allow-set: word characters
	// (letters, marks, digits, underscore), Unicode whitespace, and
	// - ~ , ; : [ ] ( ) .
	disallowed = regexp.MustCompile(`[^\p{L}\p{M}\p{N}_` + whitespace + `\-~,;:\[\]().]`)

	// traversal matches runs of two or more periods.
	traversal = regexp.MustCompile(`\.{2,}`)
)

// Name returns raw with disallowed runes removed and every run of two or more
// periods deleted. The traversal pass runs second so that runs exposed by the
// first pass (for example "./.") are still caught.
func Name(raw string) string {
	if raw == "" {
		return ""
	}
	s := disallowed.ReplaceAllString(raw, "")
	return traversal.ReplaceAllString(s, "")
}
