// Package tokenize splits normalized text into sentences and word tokens.
package tokenize

import (
	"strings"
	"unicode"
)

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '؟', '\n':
		return true
	}
	return false
}

func isPunct(r rune) bool {
	switch r {
	case '.', ',', '!', '?', '؟', '،', '؛', ':', ';', '«', '»', '(', ')', '[', ']', '"', '\'':
		return true
	}
	return false
}

// Sentences splits text on . ! ? ؟ and newline. A run of terminators stays
// with the sentence it closes; newlines are dropped. Blank input yields nil.
func Sentences(text string) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	rs := []rune(text)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if !isTerminator(r) {
			cur.WriteRune(r)
			continue
		}
		if r == '.' && i > 0 && i+1 < len(rs) && unicode.IsDigit(rs[i-1]) && unicode.IsDigit(rs[i+1]) {
			cur.WriteRune(r)
			continue
		}
		for ; i < len(rs) && isTerminator(rs[i]); i++ {
			if rs[i] != '\n' {
				cur.WriteRune(rs[i])
			}
		}
		i--
		flush()
	}
	flush()
	return out
}

// Words splits a sentence on whitespace and detaches punctuation into
// standalone tokens. ZWNJ is not whitespace, so compound words stay whole.
// A dot or comma between digits belongs to the number.
func Words(sentence string) []string {
	var out []string
	for _, field := range strings.FieldsFunc(sentence, unicode.IsSpace) {
		out = appendField(out, []rune(field))
	}
	return out
}

func appendField(out []string, rs []rune) []string {
	start := 0
	for i, r := range rs {
		if !isPunct(r) {
			continue
		}
		if (r == '.' || r == ',') && i > 0 && i+1 < len(rs) && unicode.IsDigit(rs[i-1]) && unicode.IsDigit(rs[i+1]) {
			continue
		}
		if start < i {
			out = append(out, string(rs[start:i]))
		}
		out = append(out, string(r))
		start = i + 1
	}
	if start < len(rs) {
		out = append(out, string(rs[start:]))
	}
	return out
}

// Tokenize runs Sentences then Words, dropping sentences with no tokens.
func Tokenize(text string) [][]string {
	var out [][]string
	for _, s := range Sentences(text) {
		if words := Words(s); len(words) > 0 {
			out = append(out, words)
		}
	}
	return out
}
