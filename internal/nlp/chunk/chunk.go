// Package chunk extracts candidate keyphrases from tagged sentences with
// tag-pattern grammars such as "<Ne>?<N.*>".
package chunk

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kailas-cloud/bookrec/internal/domain"
)

// MaxPhraseWords bounds the number of tokens in an extracted phrase.
const MaxPhraseWords = 5

// DefaultPatterns match a noun with an optional preceding Ne noun, and a noun
// with an optional trailing adjective.
var DefaultPatterns = []string{
	"<Ne>?<N.*>",
	"<N.*><AJ.*>?",
}

// Grammar is a compiled tag pattern.
type Grammar struct {
	pattern string
	re      *regexp.Regexp
}

// String returns the source pattern.
func (g *Grammar) String() string { return g.pattern }

// Compile translates a tag pattern into a regular expression over the
// "<tag><tag>..." rendering of a sentence. Inside angle brackets "." matches
// any character of a single tag; outside them regular quantifiers apply to
// whole tags.
func Compile(pattern string) (*Grammar, error) {
	p := strings.Join(strings.Fields(pattern), "")
	if p == "" {
		return nil, errors.New("empty tag pattern")
	}

	var b strings.Builder
	inTag := false
	for _, r := range p {
		switch {
		case r == '<':
			if inTag {
				return nil, fmt.Errorf("nested '<' in %q", pattern)
			}
			inTag = true
			b.WriteString("(?:<(?:")
		case r == '>':
			if !inTag {
				return nil, fmt.Errorf("unbalanced '>' in %q", pattern)
			}
			inTag = false
			b.WriteString(")>)")
		case r == '.' && inTag:
			b.WriteString(`[^{}<>]`)
		case r == '{' || r == '}':
			return nil, fmt.Errorf("braces are not allowed in %q", pattern)
		default:
			b.WriteRune(r)
		}
	}
	if inTag {
		return nil, fmt.Errorf("unterminated '<' in %q", pattern)
	}

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", pattern, err)
	}
	return &Grammar{pattern: pattern, re: re}, nil
}

// MustCompile is Compile for patterns known at build time.
func MustCompile(pattern string) *Grammar {
	g, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return g
}

// Defaults returns freshly compiled DefaultPatterns.
func Defaults() []*Grammar {
	gs := make([]*Grammar, len(DefaultPatterns))
	for i, p := range DefaultPatterns {
		gs[i] = MustCompile(p)
	}
	return gs
}

// spans returns the token ranges [start, end) matched in one sentence.
// Matches are leftmost and non-overlapping; empty matches are ignored.
func (g *Grammar) spans(sent []domain.TaggedToken) [][2]int {
	if len(sent) == 0 {
		return nil
	}
	var b strings.Builder
	// offset of each token's '<' in the rendered string
	starts := make(map[int]int, len(sent))
	ends := make(map[int]int, len(sent))
	for i, tt := range sent {
		starts[b.Len()] = i
		b.WriteByte('<')
		b.WriteString(sanitizeTag(tt.Tag))
		b.WriteByte('>')
		ends[b.Len()] = i + 1
	}

	var out [][2]int
	for _, loc := range g.re.FindAllStringIndex(b.String(), -1) {
		if loc[0] == loc[1] {
			continue
		}
		s, okS := starts[loc[0]]
		e, okE := ends[loc[1]]
		if okS && okE {
			out = append(out, [2]int{s, e})
		}
	}
	return out
}

// sanitizeTag strips characters that would break the tag rendering.
func sanitizeTag(tag string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '{', '}':
			return -1
		}
		return r
	}, tag)
}

// Extractor applies a set of grammars.
type Extractor struct {
	grammars []*Grammar
	maxWords int
}

// NewExtractor builds an extractor. maxWords <= 0 means MaxPhraseWords.
func NewExtractor(grammars []*Grammar, maxWords int) *Extractor {
	if maxWords <= 0 {
		maxWords = MaxPhraseWords
	}
	return &Extractor{grammars: grammars, maxWords: maxWords}
}

// Extract returns the union of phrases matched by every grammar across all
// sentences, in first-seen order (grammar-major, then sentence order).
// Phrases longer than the word limit are dropped. No match yields an empty slice.
func (e *Extractor) Extract(tagged [][]domain.TaggedToken) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, g := range e.grammars {
		for _, sent := range tagged {
			for _, sp := range g.spans(sent) {
				if sp[1]-sp[0] > e.maxWords {
					continue
				}
				words := make([]string, 0, sp[1]-sp[0])
				for _, tt := range sent[sp[0]:sp[1]] {
					words = append(words, tt.Token)
				}
				phrase := strings.Join(words, " ")
				if _, dup := seen[phrase]; dup {
					continue
				}
				seen[phrase] = struct{}{}
				out = append(out, phrase)
			}
		}
	}
	return out
}
