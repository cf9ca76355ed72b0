// Package slug derives URL-safe article identifiers from titles.
package slug

import (
	"regexp"
	"strings"
)

// space is the whitespace class browsers use for \s. RE2's \s is ASCII only,
// which would glue words split by a no-break space.
const space = `\t\n\x{0B}\f\r\p{Zs}\x{2028}\x{2029}\x{FEFF}`

var (
	disallowed = regexp.MustCompile(`[^a-z0-9` + space + `-]`)
	whitespace = regexp.MustCompile(`[` + space + `]+`)
	hyphens    = regexp.MustCompile(`-+`)
)

// Make lowercases the title, drops characters outside [a-z0-9\s-], turns
// whitespace runs into single hyphens and trims hyphens from both ends.
// Distinct titles may map to the same slug.
func Make(title string) string {
	s := strings.ToLower(title)
	s = disallowed.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, "-")
	s = hyphens.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
