package postag

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Feature is one CRF attribute with its value. String-valued attributes are
// encoded into Name ("word:کتاب") with Value 1; boolean attributes keep a bare
// name with Value 1 or 0.
type Feature struct {
	Name  string
	Value float64
}

// FeatureFunc extracts the attributes of tokens[i].
type FeatureFunc func(tokens []string, i int) []Feature

func str(name, v string) Feature {
	return Feature{Name: name + ":" + v, Value: 1}
}

func flag(name string, v bool) Feature {
	if v {
		return Feature{Name: name, Value: 1}
	}
	return Feature{Name: name, Value: 0}
}

func at(tokens []string, i int) string {
	if i < 0 || i >= len(tokens) {
		return ""
	}
	return tokens[i]
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func isPunctuation(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}

// prefix returns the first n runes of s, or s itself when it is shorter.
func prefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func suffix(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[len(rs)-n:])
}

// BasicFeatures is the compact window: the word, position flags and direct neighbours.
func BasicFeatures(tokens []string, i int) []Feature {
	w := tokens[i]
	return []Feature{
		str("word", w),
		flag("is_first", i == 0),
		flag("is_last", i == len(tokens)-1),
		flag("is_num", isNumeric(w)),
		str("prev_word", at(tokens, i-1)),
		str("next_word", at(tokens, i+1)),
	}
}

// RichFeatures extends BasicFeatures with affixes, a two-token window and
// numeric and punctuation flags for the neighbours.
func RichFeatures(tokens []string, i int) []Feature {
	w := tokens[i]
	prev, next := at(tokens, i-1), at(tokens, i+1)
	fs := BasicFeatures(tokens, i)
	for n := 1; n <= 3; n++ {
		fs = append(fs,
			str("prefix-"+strconv.Itoa(n), prefix(w, n)),
			str("suffix-"+strconv.Itoa(n), suffix(w, n)),
		)
	}
	return append(fs,
		str("two_prev_word", at(tokens, i-2)),
		str("two_next_word", at(tokens, i+2)),
		flag("is_punc", isPunctuation(w)),
		flag("prev_is_num", isNumeric(prev)),
		flag("next_is_num", isNumeric(next)),
		flag("prev_is_punc", isPunctuation(prev)),
		flag("next_is_punc", isPunctuation(next)),
		flag("is_zwnj_compound", strings.ContainsRune(w, '\u200c')),
	)
}
