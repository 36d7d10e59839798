package postag

import (
	"errors"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
)

// modelFile is the on-disk layout of a trained CRF.
type modelFile struct {
	Labels      []string                      `json:"labels"`
	State       map[string]map[string]float64 `json:"state"`
	Transitions map[string]map[string]float64 `json:"transitions"`
}

// model is the decoded CRF with weights indexed by label position.
type model struct {
	labels []string
	state  map[string][]float64
	trans  [][]float64
}

func decodeModel(r io.Reader) (*model, error) {
	var f modelFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if len(f.Labels) == 0 {
		return nil, errors.New("model has no labels")
	}

	idx := make(map[string]int, len(f.Labels))
	for i, l := range f.Labels {
		if _, dup := idx[l]; dup {
			return nil, fmt.Errorf("duplicate label %q", l)
		}
		idx[l] = i
	}
	lookup := func(l string) (int, error) {
		i, ok := idx[l]
		if !ok {
			return 0, fmt.Errorf("unknown label %q", l)
		}
		return i, nil
	}

	m := &model{
		labels: f.Labels,
		state:  make(map[string][]float64, len(f.State)),
		trans:  make([][]float64, len(f.Labels)),
	}
	for attr, weights := range f.State {
		row := make([]float64, len(f.Labels))
		for l, w := range weights {
			i, err := lookup(l)
			if err != nil {
				return nil, fmt.Errorf("state %q: %w", attr, err)
			}
			row[i] = w
		}
		m.state[attr] = row
	}
	for i := range m.trans {
		m.trans[i] = make([]float64, len(f.Labels))
	}
	for from, row := range f.Transitions {
		fi, err := lookup(from)
		if err != nil {
			return nil, fmt.Errorf("transition: %w", err)
		}
		for to, w := range row {
			ti, err := lookup(to)
			if err != nil {
				return nil, fmt.Errorf("transition from %q: %w", from, err)
			}
			m.trans[fi][ti] = w
		}
	}
	return m, nil
}

// viterbi returns the highest-scoring label index sequence for the given
// per-position feature lists.
func (m *model) viterbi(feats [][]Feature) []int {
	n, k := len(feats), len(m.labels)
	if n == 0 {
		return nil
	}

	emit := func(t int) []float64 {
		s := make([]float64, k)
		for _, f := range feats[t] {
			if f.Value == 0 {
				continue
			}
			row, ok := m.state[f.Name]
			if !ok {
				continue
			}
			for j := range s {
				s[j] += f.Value * row[j]
			}
		}
		return s
	}

	score := emit(0)
	back := make([][]int, n)
	for t := 1; t < n; t++ {
		e := emit(t)
		next := make([]float64, k)
		back[t] = make([]int, k)
		for j := 0; j < k; j++ {
			best, arg := score[0]+m.trans[0][j], 0
			for i := 1; i < k; i++ {
				if v := score[i] + m.trans[i][j]; v > best {
					best, arg = v, i
				}
			}
			next[j] = best + e[j]
			back[t][j] = arg
		}
		score = next
	}

	last := 0
	for j := 1; j < k; j++ {
		if score[j] > score[last] {
			last = j
		}
	}
	path := make([]int, n)
	path[n-1] = last
	for t := n - 1; t > 0; t-- {
		path[t-1] = back[t][path[t]]
	}
	return path
}
