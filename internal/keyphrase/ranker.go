// Package keyphrase selects representative phrases of a document with
// EmbedRank: candidates are scored by embedding similarity to the document
// and picked greedily by maximal marginal relevance.
package keyphrase

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/kailas-cloud/bookrec/internal/domain"
)

// DefaultBeta weighs document relevance against redundancy with picked phrases.
const DefaultBeta = 0.8

// Ranker runs EmbedRank over a shared embedder.
type Ranker struct {
	embedder domain.Embedder
	beta     float64
}

// NewRanker creates a ranker. A beta outside (0, 1] falls back to DefaultBeta.
func NewRanker(embedder domain.Embedder, beta float64) *Ranker {
	if beta <= 0 || beta > 1 {
		beta = DefaultBeta
	}
	return &Ranker{embedder: embedder, beta: beta}
}

// Beta returns the relevance weight in use.
func (r *Ranker) Beta() float64 { return r.beta }

// Rank returns up to k candidates in selection order. The first pick always
// has the highest raw similarity to the document. Ties go to the earlier
// candidate. No candidates or k <= 0 yield an empty slice.
func (r *Ranker) Rank(ctx context.Context, candidates []string, document string, k int) ([]string, error) {
	n := len(candidates)
	if n == 0 || k <= 0 {
		return []string{}, nil
	}
	k = min(k, n)

	texts := make([]string, 0, n+1)
	texts = append(texts, document)
	texts = append(texts, candidates...)
	vecs, err := domain.EmbedAll(ctx, r.embedder, texts)
	if err != nil {
		return nil, fmt.Errorf("rank keyphrases: %w", err)
	}

	doc := toVec(vecs[0])
	cands := make([]*mat.VecDense, n)
	for i, v := range vecs[1:] {
		cands[i] = toVec(v)
	}

	relevance := make([]float64, n)
	for i, c := range cands {
		relevance[i] = cosine(c, doc)
	}
	pairwise := make([][]float64, n)
	for i := range pairwise {
		pairwise[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		pairwise[i][i] = 1
		for j := i + 1; j < n; j++ {
			s := cosine(cands[i], cands[j])
			pairwise[i][j], pairwise[j][i] = s, s
		}
	}

	first := floats.MaxIdx(relevance)
	normRel := append([]float64(nil), relevance...)
	rescale(normRel)
	normPair := rescaleColumns(pairwise)

	return r.mmr(candidates, normRel, normPair, first, k), nil
}

func (r *Ranker) mmr(candidates []string, rel []float64, pair [][]float64, first, k int) []string {
	selected := []int{first}
	picked := make([]bool, len(candidates))
	picked[first] = true

	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i := range candidates {
			if picked[i] {
				continue
			}
			redundancy := math.Inf(-1)
			for _, j := range selected {
				redundancy = max(redundancy, pair[i][j])
			}
			score := r.beta*rel[i] - (1-r.beta)*redundancy
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		selected = append(selected, best)
		picked[best] = true
	}

	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = candidates[idx]
	}
	return out
}

// rescale divides x by its largest magnitude and re-centres it to
// 0.5 + (x - mean) / std. A zero maximum or zero spread leaves the
// corresponding step out.
func rescale(x []float64) {
	if len(x) == 0 {
		return
	}
	peak := math.Max(math.Abs(floats.Max(x)), math.Abs(floats.Min(x)))
	if peak == 0 {
		return
	}
	floats.Scale(1/peak, x)
	mean, std := stat.PopMeanStdDev(x, nil)
	if std == 0 || math.IsNaN(std) {
		return
	}
	for i := range x {
		x[i] = 0.5 + (x[i]-mean)/std
	}
}

// rescaleColumns applies rescale to every column of m without its diagonal entry.
func rescaleColumns(m [][]float64) [][]float64 {
	n := len(m)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		out[i][i] = 1
	}
	col := make([]float64, 0, n)
	for j := 0; j < n; j++ {
		col = col[:0]
		for i := 0; i < n; i++ {
			if i != j {
				col = append(col, m[i][j])
			}
		}
		rescale(col)
		c := 0
		for i := 0; i < n; i++ {
			if i != j {
				out[i][j] = col[c]
				c++
			}
		}
	}
	return out
}

func toVec(v domain.Vector) *mat.VecDense {
	data := make([]float64, len(v))
	for i, x := range v {
		data[i] = float64(x)
	}
	if len(data) == 0 {
		return nil
	}
	return mat.NewVecDense(len(data), data)
}

// cosine returns 0 when either vector is empty, zero or of a different size.
func cosine(a, b *mat.VecDense) float64 {
	if a == nil || b == nil || a.Len() != b.Len() {
		return 0
	}
	na, nb := mat.Norm(a, 2), mat.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return mat.Dot(a, b) / na / nb
}
