package keyphrase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kailas-cloud/bookrec/internal/domain"
	"github.com/kailas-cloud/bookrec/internal/nlp/chunk"
	"github.com/kailas-cloud/bookrec/internal/nlp/normalize"
	"github.com/kailas-cloud/bookrec/internal/nlp/tokenize"
)

// MinKeyphrases is the floor of KeyphraseCount.
const MinKeyphrases = 4

// WordsPerKeyphrase sizes the keyphrase budget with document length.
const WordsPerKeyphrase = 8

// KeyphraseCount returns max(4, ceil(words/8)) for whitespace-separated words of text.
func KeyphraseCount(text string) int {
	words := len(strings.Fields(text))
	return max(MinKeyphrases, (words+WordsPerKeyphrase-1)/WordsPerKeyphrase)
}

// Tagger labels tokenized sentences.
type Tagger interface {
	TagSents(sentences [][]string) ([][]domain.TaggedToken, error)
}

// Pipeline runs normalize, tokenize, tag, chunk and rank for one document.
type Pipeline struct {
	tagger  Tagger
	chunker *chunk.Extractor
	ranker  *Ranker
}

// NewPipeline wires the stages. A nil chunker uses the default grammars.
func NewPipeline(tagger Tagger, chunker *chunk.Extractor, ranker *Ranker) *Pipeline {
	if chunker == nil {
		chunker = chunk.NewExtractor(chunk.Defaults(), chunk.MaxPhraseWords)
	}
	return &Pipeline{tagger: tagger, chunker: chunker, ranker: ranker}
}

// Candidates returns the deduplicated candidate phrases of text.
func (p *Pipeline) Candidates(text string) ([]string, error) {
	tagged, err := p.tagger.TagSents(tokenize.Tokenize(normalize.Normalize(text)))
	if err != nil {
		return nil, fmt.Errorf("tag: %w", err)
	}
	return p.chunker.Extract(tagged), nil
}

// Extract returns up to k ranked keyphrases of text.
// k <= 0 uses KeyphraseCount(text).
func (p *Pipeline) Extract(ctx context.Context, text string, k int) ([]string, error) {
	if k <= 0 {
		k = KeyphraseCount(text)
	}
	cands, err := p.Candidates(text)
	if err != nil {
		return nil, err
	}
	return p.ranker.Rank(ctx, cands, normalize.Normalize(text), k)
}
