package categorizer

import (
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "ltd": true, "limited": true,
	"company": true, "account": true, "enterprises": true, "agency": true,
	"mpesa": true, "pesa": true, "kenya": true, "from": true, "with": true,
}

// words lower-cases s and splits it on anything that is not a letter or digit.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Tokens returns the keyword fragments of s: significant single words plus
// adjacent pairs of them, in order of appearance and without repeats.
func Tokens(s string) []string {
	var sig []string
	for _, w := range words(s) {
		if len(w) < 3 || stopwords[w] || isNumeric(w) {
			continue
		}
		sig = append(sig, w)
	}

	seen := make(map[string]bool)
	var out []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for i, w := range sig {
		add(w)
		if i > 0 {
			add(sig[i-1] + " " + w)
		}
	}
	return out
}

// containsPhrase reports whether phrase occurs in text as whole words.
func containsPhrase(text, phrase string) bool {
	t := " " + strings.Join(words(text), " ") + " "
	p := " " + strings.Join(words(phrase), " ") + " "
	return p != "  " && strings.Contains(t, p)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
