package retrieval

import (
	"slices"
	"strings"
	"unicode"
)

var stopWords = map[string]bool{
	"the": true, "and": true, "or": true, "but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "from": true, "up": true, "about": true,
	"into": true, "through": true, "during": true, "before": true, "after": true, "above": true,
	"below": true, "is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"being": true, "have": true, "has": true, "had": true, "do": true, "does": true, "did": true,
	"will": true, "would": true, "should": true, "could": true, "can": true, "may": true,
	"might": true, "must": true, "shall": true, "this": true, "that": true, "these": true,
	"those": true, "a": true, "an": true, "as": true, "if": true, "each": true, "how": true,
	"what": true, "where": true, "when": true, "why": true, "who": true, "which": true,
	"you": true, "your": true, "our": true, "its": true, "not": true, "all": true, "any": true,
}

// ExtractKeywords returns the distinct lowercase words of text longer than two
// characters, with punctuation stripped and stop words removed, in order of
// first appearance.
func ExtractKeywords(text string) []string {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, text)

	seen := make(map[string]bool)
	out := []string{}
	for _, w := range strings.Fields(clean) {
		if len([]rune(w)) <= 2 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// TopKeywords returns up to n keywords of text ranked by frequency, ties kept
// in order of first appearance. Used to tag documents at index time.
func TopKeywords(text string, n int) []string {
	words := ExtractKeywords(text)
	if len(words) <= n {
		return words
	}
	counts := make(map[string]int, len(words))
	clean := strings.ToLower(text)
	for _, w := range words {
		counts[w] = strings.Count(clean, w)
	}
	ranked := slices.Clone(words)
	slices.SortStableFunc(ranked, func(a, b string) int { return counts[b] - counts[a] })
	return ranked[:n]
}
