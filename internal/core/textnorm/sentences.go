// Package textnorm segments guideline text and normalizes it into content tokens.
package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// abbreviations never end a sentence even when followed by a capital letter.
var abbreviations = map[string]struct{}{
	"e.g.": {}, "i.e.": {}, "vs.": {}, "etc.": {}, "dr.": {}, "fig.": {}, "no.": {},
	"approx.": {}, "al.": {}, "ref.": {}, "mr.": {}, "mrs.": {}, "ms.": {}, "st.": {},
	"b.i.d.": {}, "t.i.d.": {}, "q.i.d.": {}, "i.v.": {}, "s.c.": {}, "p.o.": {},
}

// SplitSentences breaks text at '.', '!' or '?' followed by whitespace and an
// upper-case letter, digit or opening bracket, and at blank lines. Decimal numbers
// and common abbreviations do not split. Returned sentences are trimmed and non-empty.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		next := i + size

		if r == '\n' && blankLineFollows(text, next) {
			out = appendSentence(out, text[start:i])
			start = next
			i = next
			continue
		}
		if r != '.' && r != '!' && r != '?' {
			i = next
			continue
		}

		// Absorb closing quotes and brackets after the terminator.
		end := next
		for end < len(text) {
			c, cs := utf8.DecodeRuneInString(text[end:])
			if c != '"' && c != '\'' && c != ')' && c != ']' && c != '”' {
				break
			}
			end += cs
		}
		if end >= len(text) {
			break
		}
		ws, _ := utf8.DecodeRuneInString(text[end:])
		if !unicode.IsSpace(ws) {
			i = next
			continue
		}
		lookahead := strings.TrimLeftFunc(text[end:], unicode.IsSpace)
		first, _ := utf8.DecodeRuneInString(lookahead)
		if lookahead == "" || !startsSentence(first) || (r == '.' && isAbbreviation(text[start:next])) {
			i = next
			continue
		}
		out = appendSentence(out, text[start:end])
		start = end
		i = end
	}
	return appendSentence(out, text[start:])
}

func appendSentence(out []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	return append(out, s)
}

func blankLineFollows(text string, from int) bool {
	for i := from; i < len(text); i++ {
		switch text[i] {
		case '\n':
			return true
		case ' ', '\t', '\r':
			continue
		default:
			return false
		}
	}
	return false
}

func startsSentence(r rune) bool {
	return unicode.IsUpper(r) || unicode.IsDigit(r) || r == '(' || r == '[' || r == '"' || r == '“'
}

func isAbbreviation(segment string) bool {
	idx := strings.LastIndexFunc(segment, unicode.IsSpace)
	word := strings.ToLower(segment[idx+1:])
	word = strings.TrimLeft(word, "([\"'")
	_, ok := abbreviations[word]
	return ok
}

// Words splits on whitespace. A word is the token unit for chunk sizing.
func Words(text string) []string {
	return strings.Fields(text)
}
