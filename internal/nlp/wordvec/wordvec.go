// Package wordvec embeds text with a pre-trained word-vector table.
//
// The model file uses the plain word2vec/fastText text layout: an optional
// "count dim" header followed by one "word v1 ... vD" line per word.
// A document vector is the mean of the vectors of its known words.
package wordvec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/kailas-cloud/bookrec/internal/domain"
	"github.com/kailas-cloud/bookrec/internal/nlp/normalize"
	"github.com/kailas-cloud/bookrec/internal/nlp/tokenize"
)

const maxLineBytes = 1 << 20

type table struct {
	dim   int
	words map[string]domain.Vector
}

// Model is a local embedder. It starts unloaded; Load installs a table,
// after which Embed is safe for concurrent use.
type Model struct {
	table atomic.Pointer[table]
}

// New returns an unloaded model.
func New() *Model {
	return &Model{}
}

// Load reads a word-vector file from path.
func (m *Model) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open word vectors: %w: %w", domain.ErrModelLoad, err)
	}
	defer func() { _ = f.Close() }()
	return m.LoadFrom(f)
}

// LoadFrom reads word vectors from r. On failure the previous table stays in place.
func (m *Model) LoadFrom(r io.Reader) error {
	t, err := parse(r)
	if err != nil {
		return fmt.Errorf("load word vectors: %w: %w", domain.ErrModelLoad, err)
	}
	m.table.Store(t)
	return nil
}

// Loaded reports whether a table is installed.
func (m *Model) Loaded() bool {
	return m.table.Load() != nil
}

// Dimensions returns the vector size, 0 when unloaded.
func (m *Model) Dimensions() int {
	t := m.table.Load()
	if t == nil {
		return 0
	}
	return t.dim
}

// Vocabulary returns the number of known words.
func (m *Model) Vocabulary() int {
	t := m.table.Load()
	if t == nil {
		return 0
	}
	return len(t.words)
}

// Embed normalizes and tokenizes text and averages the known word vectors.
// Text without known words yields a zero vector. Local inference reports no tokens.
func (m *Model) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	t := m.table.Load()
	if t == nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", domain.ErrModelNotLoaded)
	}
	return domain.EmbeddingResult{Embedding: t.mean(text)}, nil
}

// BatchEmbed embeds every text against one snapshot of the table.
func (m *Model) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	t := m.table.Load()
	if t == nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", domain.ErrModelNotLoaded)
	}
	out := make([]domain.Vector, len(texts))
	for i, text := range texts {
		out[i] = t.mean(text)
	}
	return domain.BatchEmbeddingResult{Embeddings: out}, nil
}

// HealthCheck fails until a table is loaded.
func (m *Model) HealthCheck(context.Context) error {
	if !m.Loaded() {
		return domain.ErrModelNotLoaded
	}
	return nil
}

func (t *table) mean(text string) domain.Vector {
	sum := make([]float64, t.dim)
	n := 0
	for _, sent := range tokenize.Tokenize(normalize.Normalize(text)) {
		for _, w := range sent {
			v, ok := t.words[w]
			if !ok {
				continue
			}
			for i, x := range v {
				sum[i] += float64(x)
			}
			n++
		}
	}
	out := make(domain.Vector, t.dim)
	if n == 0 {
		return out
	}
	for i, s := range sum {
		out[i] = float32(s / float64(n))
	}
	return out
}

func parse(r io.Reader) (*table, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	t := &table{words: make(map[string]domain.Vector)}
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if line == 1 && len(fields) == 2 {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				dim, err := strconv.Atoi(fields[1])
				if err != nil || dim <= 0 {
					return nil, fmt.Errorf("line 1: bad header %q", sc.Text())
				}
				t.dim = dim
				continue
			}
		}

		word, values := fields[0], fields[1:]
		if t.dim == 0 {
			t.dim = len(values)
		}
		if len(values) != t.dim {
			return nil, fmt.Errorf("line %d: got %d values, want %d", line, len(values), t.dim)
		}
		vec := make(domain.Vector, t.dim)
		for i, s := range values {
			f, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			vec[i] = float32(f)
		}
		// Keys are stored normalized so lookups match pipeline output.
		key := normalize.Normalize(word)
		if _, dup := t.words[key]; !dup {
			t.words[key] = vec
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if len(t.words) == 0 {
		return nil, errors.New("no word vectors")
	}
	return t, nil
}
