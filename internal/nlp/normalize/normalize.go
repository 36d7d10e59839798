// Package normalize canonicalizes Persian text before tokenization.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ZWNJ is the zero-width non-joiner used inside Persian compound words.
const ZWNJ = '\u200c'

const tatweel = '\u0640'

var letterMap = map[rune]rune{
	'ي':      'ی',
	'ى':      'ی',
	'ك':      'ک',
	'ة':      'ه',
	'ۀ':      'ه',
	'“':      '"',
	'”':      '"',
	'„':      '"',
	'‘':      '\'',
	'’':      '\'',
	'\u00a0': ' ',
	'\t':     ' ',
	'\r':     ' ',
}

var (
	reSpaces      = regexp.MustCompile(` {2,}`)
	reLineEdges   = regexp.MustCompile(` *\n *`)
	reBlankLines  = regexp.MustCompile(`\n{2,}`)
	reBeforePunct = regexp.MustCompile(` +([.,!?؟،؛:;)\]»])`)
	reAfterOpen   = regexp.MustCompile(`([(\[«]) +`)
	reAroundZWNJ  = regexp.MustCompile(` *\x{200c}[ \x{200c}]*`)
	reEllipsis    = regexp.MustCompile(`\.{4,}`)
)

// isDiacritic reports Arabic harakat, tanwin, shadda, sukun, superscript alef and tatweel.
func isDiacritic(r rune) bool {
	switch {
	case r >= '\u064b' && r <= '\u065f':
		return true
	case r == '\u0670', r == tatweel:
		return true
	}
	return false
}

func mapRune(r rune) rune {
	if m, ok := letterMap[r]; ok {
		return m
	}
	// Arabic-Indic and extended (Persian) digits to ASCII.
	if r >= '٠' && r <= '٩' {
		return '0' + (r - '٠')
	}
	if r >= '۰' && r <= '۹' {
		return '0' + (r - '۰')
	}
	return r
}

// newTransformer returns a fresh chain; transform.Chain is stateful and not safe for concurrent use.
func newTransformer() transform.Transformer {
	return transform.Chain(
		norm.NFKC,
		runes.Remove(runes.Predicate(isDiacritic)),
		runes.Map(mapRune),
	)
}

// Normalize returns the canonical form of text. It is pure and deterministic.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	out, _, err := transform.String(newTransformer(), text)
	if err != nil {
		// Only malformed transformer state can fail; fall back to the raw text.
		out = text
	}
	out = strings.ReplaceAll(out, "…", "...")
	out = reEllipsis.ReplaceAllString(out, "...")
	out = reAroundZWNJ.ReplaceAllString(out, string(ZWNJ))
	out = reSpaces.ReplaceAllString(out, " ")
	out = reBeforePunct.ReplaceAllString(out, "$1")
	out = reAfterOpen.ReplaceAllString(out, "$1")
	out = reLineEdges.ReplaceAllString(out, "\n")
	out = reBlankLines.ReplaceAllString(out, "\n")
	return strings.TrimFunc(out, func(r rune) bool {
		return unicode.IsSpace(r) || r == ZWNJ
	})
}
