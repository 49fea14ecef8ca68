// Key names are filtered with Redis style glob patterns (KEYS command): '*' matches any sequence of characters and
// '?' matches a single character, both including '/', while '\' escapes the next character.

package scan

import (
	"iter"

	"github.com/tidwall/match"
)

// globComplexityLimit bounds the backtracking of a single match, relative to the name's length.
const globComplexityLimit = 100

// MatchGlob lazily filters the `names` stream with the given glob `pattern`.
// Matches which exceed the complexity limit are treated as mismatches.
func MatchGlob(pattern string, names iter.Seq[string]) iter.Seq[string] {
	return func(yield func(string) bool) {
		for name := range names {
			matched, stopped := match.MatchLimit(name, pattern, globComplexityLimit)
			if matched && !stopped && !yield(name) {
				return
			}
		}
	}
}
