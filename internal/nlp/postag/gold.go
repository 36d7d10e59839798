package postag

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kailas-cloud/bookrec/internal/domain"
)

// ReadGold parses a tagged corpus with one "token<TAB>tag" pair per line and
// blank lines between sentences.
func ReadGold(r io.Reader) ([][]domain.TaggedToken, error) {
	var (
		out  [][]domain.TaggedToken
		sent []domain.TaggedToken
	)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			if len(sent) > 0 {
				out = append(out, sent)
				sent = nil
			}
			continue
		}
		token, tag, ok := strings.Cut(text, "\t")
		if !ok || token == "" || strings.TrimSpace(tag) == "" {
			return nil, fmt.Errorf("gold line %d: want token<TAB>tag", line)
		}
		sent = append(sent, domain.TaggedToken{Token: token, Tag: strings.TrimSpace(tag)})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read gold: %w", err)
	}
	if len(sent) > 0 {
		out = append(out, sent)
	}
	return out, nil
}

// EvaluateFile scores the tagger against the gold corpus at path.
func (t *Tagger) EvaluateFile(path string) (accuracy float64, sentences int, err error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return 0, 0, fmt.Errorf("open gold: %w", err)
	}
	defer func() { _ = f.Close() }()

	gold, err := ReadGold(f)
	if err != nil {
		return 0, 0, err
	}
	acc, err := t.Evaluate(gold)
	return acc, len(gold), err
}
