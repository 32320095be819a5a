// Package match provides the pure text-matching functions used by the funnel
// engine: keyword matching against catalog entries and number-or-word matching
// against ordered option lists.
//
// All functions are deterministic and perform no I/O. "First match wins" is a
// deliberate policy: ties are broken by catalog iteration order, not by match
// quality.
package match

import (
	"strconv"
	"strings"
)

// MinKeywordLength is the minimum keyword length considered for matching.
// Shorter tokens ("de", "el") trigger on nearly any message.
const MinKeywordLength = 3

// Normalize lowercases and trims an inbound message body the way every
// matcher expects it.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Keywords returns the index of the first candidate whose keyword set has at
// least one hit in text, where a hit is a keyword of length >= MinKeywordLength
// contained in the normalized text. Returns ok=false when nothing matches.
func Keywords(text string, candidates [][]string) (int, bool) {
	body := Normalize(text)
	if body == "" {
		return 0, false
	}
	for i, kws := range candidates {
		for _, kw := range kws {
			kw = strings.ToLower(kw)
			if len(kw) >= MinKeywordLength && strings.Contains(body, kw) {
				return i, true
			}
		}
	}
	return 0, false
}

// NumberOrWord resolves text to a 1-based position in words. An integer n with
// 1 <= n <= len(words) wins outright. Otherwise each word is tried in order:
// case-insensitive exact equality first, then bidirectional substring
// containment ("dep" matches "deposito", and "pago con yape" matches "yape").
func NumberOrWord(text string, words []string) (int, bool) {
	body := Normalize(text)
	if body == "" || len(words) == 0 {
		return 0, false
	}
	if n, err := strconv.Atoi(body); err == nil {
		if n >= 1 && n <= len(words) {
			return n, true
		}
		return 0, false
	}
	for i, w := range words {
		if strings.EqualFold(body, w) {
			return i + 1, true
		}
	}
	for i, w := range words {
		lw := strings.ToLower(w)
		if strings.Contains(body, lw) || strings.Contains(lw, body) {
			return i + 1, true
		}
	}
	return 0, false
}

// ContainsAny reports whether the normalized text contains any entry of vocab.
// Used for the fixed recognition vocabularies of the foundation selection
// states, where single digits are valid entries.
func ContainsAny(text string, vocab []string) bool {
	body := Normalize(text)
	if body == "" {
		return false
	}
	for _, v := range vocab {
		if v != "" && strings.Contains(body, strings.ToLower(v)) {
			return true
		}
	}
	return false
}

// Number parses text as an integer option selection within 1..max.
func Number(text string, max int) (int, bool) {
	n, err := strconv.Atoi(Normalize(text))
	if err != nil || n < 1 || n > max {
		return 0, false
	}
	return n, true
}
