// Package postag assigns part-of-speech tags with a linear-chain CRF.
//
// A Tagger starts unloaded. Load or LoadFrom installs a model; afterwards
// tagging is read-only and safe for concurrent use.
package postag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kailas-cloud/bookrec/internal/domain"
)

// Option configures a Tagger.
type Option func(*Tagger)

// WithFeatures replaces the feature extraction strategy.
func WithFeatures(fn FeatureFunc) Option {
	return func(t *Tagger) { t.features = fn }
}

// WithUniversalTags keeps only the coarse tag before the first comma ("NOUN,EZ" -> "NOUN").
func WithUniversalTags() Option {
	return func(t *Tagger) { t.universal = true }
}

// Tagger is a CRF part-of-speech tagger.
type Tagger struct {
	features  FeatureFunc
	universal bool
	model     atomic.Pointer[model]
}

// New creates an unloaded tagger using RichFeatures unless overridden.
func New(opts ...Option) *Tagger {
	t := &Tagger{features: RichFeatures}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Load reads a model file from path.
func (t *Tagger) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open tagger model: %w: %w", domain.ErrModelLoad, err)
	}
	defer func() { _ = f.Close() }()
	return t.LoadFrom(f)
}

// LoadFrom reads a model from r. On failure the previous model, if any, stays in place.
func (t *Tagger) LoadFrom(r io.Reader) error {
	m, err := decodeModel(r)
	if err != nil {
		return fmt.Errorf("load tagger model: %w: %w", domain.ErrModelLoad, err)
	}
	t.model.Store(m)
	return nil
}

// Loaded reports whether a model is installed.
func (t *Tagger) Loaded() bool {
	return t.model.Load() != nil
}

// Labels returns the model's tag set.
func (t *Tagger) Labels() []string {
	m := t.model.Load()
	if m == nil {
		return nil
	}
	return append([]string(nil), m.labels...)
}

// Tag labels one sentence. Output length equals input length.
func (t *Tagger) Tag(tokens []string) ([]domain.TaggedToken, error) {
	m := t.model.Load()
	if m == nil {
		return nil, fmt.Errorf("tag: %w", domain.ErrModelNotLoaded)
	}
	return t.tag(m, tokens), nil
}

// TagSents labels each sentence independently.
func (t *Tagger) TagSents(sentences [][]string) ([][]domain.TaggedToken, error) {
	m := t.model.Load()
	if m == nil {
		return nil, fmt.Errorf("tag sentences: %w", domain.ErrModelNotLoaded)
	}
	out := make([][]domain.TaggedToken, len(sentences))
	for i, s := range sentences {
		out[i] = t.tag(m, s)
	}
	return out, nil
}

// Evaluate tags the tokens of gold sentences and returns label accuracy.
// An empty gold set scores 0.
func (t *Tagger) Evaluate(gold [][]domain.TaggedToken) (float64, error) {
	m := t.model.Load()
	if m == nil {
		return 0, fmt.Errorf("evaluate: %w", domain.ErrModelNotLoaded)
	}
	var total, correct int
	for _, sent := range gold {
		tokens := make([]string, len(sent))
		for i, tt := range sent {
			tokens[i] = tt.Token
		}
		for i, got := range t.tag(m, tokens) {
			total++
			if got.Tag == sent[i].Tag {
				correct++
			}
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(correct) / float64(total), nil
}

func (t *Tagger) tag(m *model, tokens []string) []domain.TaggedToken {
	if len(tokens) == 0 {
		return []domain.TaggedToken{}
	}
	feats := make([][]Feature, len(tokens))
	for i := range tokens {
		feats[i] = t.features(tokens, i)
	}
	path := m.viterbi(feats)

	out := make([]domain.TaggedToken, len(tokens))
	for i, li := range path {
		tag := m.labels[li]
		if t.universal {
			if c := strings.IndexByte(tag, ','); c >= 0 {
				tag = tag[:c]
			}
		}
		out[i] = domain.TaggedToken{Token: tokens[i], Tag: tag}
	}
	return out
}
