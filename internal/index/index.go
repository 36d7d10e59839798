// Package index holds per-book keyphrase vectors and answers
// "best keyphrase match" similarity queries.
//
// An Index is not synchronized; its owner serializes writers.
package index

import (
	"fmt"
	"sort"

	"github.com/viant/vec/search"

	"github.com/kailas-cloud/bookrec/internal/domain"
)

// DefaultTopN is used when a query asks for topn <= 0.
const DefaultTopN = 5

// point is a keyphrase vector with its precomputed magnitude; zero
// magnitudes short-circuit similarity before any distance call.
type point struct {
	vector    search.Float32s
	magnitude float32
}

type entry struct {
	points []point
}

// Index maps book ids to keyphrase vector sets.
type Index struct {
	entries map[domain.BookID]*entry
	order   []domain.BookID
}

// New returns an empty index.
func New() *Index {
	return &Index{entries: make(map[domain.BookID]*entry)}
}

// Put stores vectors for id, replacing any previous set. A replaced book
// keeps its original position in iteration order.
func (x *Index) Put(id domain.BookID, vectors []domain.Vector) {
	e := &entry{points: make([]point, 0, len(vectors))}
	for _, v := range vectors {
		vec := search.Float32s(append([]float32(nil), v...))
		var m float32
		if len(vec) > 0 {
			m = vec.Magnitude()
		}
		e.points = append(e.points, point{vector: vec, magnitude: m})
	}
	if _, ok := x.entries[id]; !ok {
		x.order = append(x.order, id)
	}
	x.entries[id] = e
}

// Delete removes id. Absent ids are ignored.
func (x *Index) Delete(id domain.BookID) {
	if _, ok := x.entries[id]; !ok {
		return
	}
	delete(x.entries, id)
	for i, o := range x.order {
		if o == id {
			x.order = append(x.order[:i], x.order[i+1:]...)
			break
		}
	}
}

// Has reports whether id is stored.
func (x *Index) Has(id domain.BookID) bool {
	_, ok := x.entries[id]
	return ok
}

// Len returns the number of stored books.
func (x *Index) Len() int { return len(x.entries) }

// IDs returns stored ids in insertion order.
func (x *Index) IDs() []domain.BookID {
	return append([]domain.BookID{}, x.order...)
}

// Vectors returns the number of keyphrase vectors stored for id.
func (x *Index) Vectors(id domain.BookID) int {
	e, ok := x.entries[id]
	if !ok {
		return 0
	}
	return len(e.points)
}

// Ask returns up to topn other books ranked by the highest cosine similarity
// between any of their vectors and any of id's vectors. Equal scores keep
// insertion order. A book without vectors scores 0.
func (x *Index) Ask(id domain.BookID, topn int) ([]domain.BookID, error) {
	q, ok := x.entries[id]
	if !ok {
		return nil, fmt.Errorf("book %d: %w", id, domain.ErrUnknownBook)
	}
	if topn <= 0 {
		topn = DefaultTopN
	}

	type scored struct {
		id    domain.BookID
		score float32
	}
	ranked := make([]scored, 0, len(x.order))
	for _, other := range x.order {
		if other == id {
			continue
		}
		ranked = append(ranked, scored{id: other, score: bestMatch(q, x.entries[other])})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	n := min(topn, len(ranked))
	out := make([]domain.BookID, n)
	for i := range out {
		out[i] = ranked[i].id
	}
	return out, nil
}

func bestMatch(a, b *entry) float32 {
	if len(a.points) == 0 || len(b.points) == 0 {
		return 0
	}
	best, found := float32(0), false
	for _, p := range a.points {
		for _, o := range b.points {
			s := similarity(p, o)
			if !found || s > best {
				best, found = s, true
			}
		}
	}
	return best
}

// similarity is 1 - cosine distance; zero or mismatched vectors score 0.
func similarity(a, b point) float32 {
	if a.magnitude == 0 || b.magnitude == 0 || len(a.vector) != len(b.vector) {
		return 0
	}
	return 1 - a.vector.CosineDistance(b.vector)
}
