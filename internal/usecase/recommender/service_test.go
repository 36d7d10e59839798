package recommender

import (
	"context"
	"errors"
	"hash/fnv"
	"reflect"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailas-cloud/bookrec/internal/domain"
)

type fakeModels struct {
	err    error
	loaded atomic.Bool
	loads  atomic.Int32
}

func (f *fakeModels) Load(context.Context) error {
	f.loads.Add(1)
	if f.err != nil {
		return f.err
	}
	f.loaded.Store(true)
	return nil
}

func (f *fakeModels) Loaded() bool { return f.loaded.Load() }

// wordExtractor returns the distinct words of the text, at most k.
type wordExtractor struct {
	fail  string
	lastK atomic.Int64
}

func (w *wordExtractor) Extract(_ context.Context, text string, k int) ([]string, error) {
	w.lastK.Store(int64(k))
	if w.fail != "" && strings.Contains(text, w.fail) {
		return nil, errors.New("tagger exploded")
	}
	out := []string{}
	for _, word := range strings.Fields(text) {
		if !slices.Contains(out, word) {
			out = append(out, word)
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// hashEmbedder spreads FNV bits of the text over eight dimensions.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	sum := h.Sum64()
	v := make(domain.Vector, 8)
	for i := range v {
		v[i] = float32((sum>>(8*i))&0xff) + 1
	}
	return domain.EmbeddingResult{Embedding: v}, nil
}

func newService(t *testing.T, cfg Config) (*Service, *fakeModels, *wordExtractor) {
	t.Helper()
	models := &fakeModels{}
	ext := &wordExtractor{}
	return New(models, ext, hashEmbedder{}, cfg, zap.NewNop()), models, ext
}

const (
	forest  = "در جنگل ایران گونه\u200cهای جانوری زیادی وجود دارد."
	embassy = "مراسم سفارت با حضور مهمانان برگزار شد و سفیر درباره روابط فرهنگی سخن گفت."
	amazon  = "آمازون شامل ببرهای وحشی زیادی است."
)

func corpus() map[domain.BookID]string {
	return map[domain.BookID]string{5: forest, 6: embassy, 7: amazon}
}

func TestService_BeforeInit(t *testing.T) {
	svc, _, _ := newService(t, Config{})
	ctx := context.Background()

	if svc.Ready() {
		t.Fatal("service must not be ready before Init")
	}
	if _, err := svc.Insert(ctx, 1, forest); !errors.Is(err, domain.ErrModelNotLoaded) {
		t.Errorf("Insert: expected ErrModelNotLoaded, got %v", err)
	}
	if _, err := svc.Ask(ctx, 1, 5); !errors.Is(err, domain.ErrModelNotLoaded) {
		t.Errorf("Ask: expected ErrModelNotLoaded, got %v", err)
	}
	if err := svc.Delete(ctx, 1); err != nil {
		t.Errorf("Delete must be a no-op, got %v", err)
	}
	if len(svc.IDs(ctx)) != 0 {
		t.Errorf("IDs = %v", svc.IDs(ctx))
	}
}

func TestService_InitModelLoadFailure(t *testing.T) {
	svc, models, _ := newService(t, Config{})
	models.err = errors.New("no such file")

	err := svc.Init(context.Background(), corpus())
	if !errors.Is(err, domain.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
	if svc.Ready() || svc.Len() != 0 {
		t.Errorf("failed load must leave the service empty: ready=%v len=%d", svc.Ready(), svc.Len())
	}
}

func TestService_InitLoadsModelsOnce(t *testing.T) {
	svc, models, _ := newService(t, Config{})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := svc.Init(ctx, corpus()); err != nil {
			t.Fatalf("Init: %v", err)
		}
	}
	if models.loads.Load() != 1 {
		t.Errorf("models loaded %d times", models.loads.Load())
	}
	if !reflect.DeepEqual(svc.IDs(ctx), []domain.BookID{5, 6, 7}) {
		t.Errorf("IDs = %v", svc.IDs(ctx))
	}
}

func TestService_InitReplacesState(t *testing.T) {
	svc, _, _ := newService(t, Config{})
	ctx := context.Background()
	if err := svc.Init(ctx, corpus()); err != nil {
		t.Fatal(err)
	}
	if err := svc.Init(ctx, map[domain.BookID]string{9: amazon}); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(svc.IDs(ctx), []domain.BookID{9}) {
		t.Errorf("Init must replace prior state, IDs = %v", svc.IDs(ctx))
	}
}

func TestService_InitStrictKeepsPreviousIndex(t *testing.T) {
	svc, _, ext := newService(t, Config{BulkPolicy: BulkStrict, Workers: 2})
	ctx := context.Background()
	if err := svc.Init(ctx, corpus()); err != nil {
		t.Fatal(err)
	}

	ext.fail = "ببرهای"
	err := svc.Init(ctx, map[domain.BookID]string{1: forest, 2: amazon})
	if err == nil {
		t.Fatal("strict Init must fail")
	}
	if !reflect.DeepEqual(svc.IDs(ctx), []domain.BookID{5, 6, 7}) {
		t.Errorf("previous index lost: %v", svc.IDs(ctx))
	}
}

func TestService_InitSkipPolicy(t *testing.T) {
	svc, _, ext := newService(t, Config{BulkPolicy: BulkSkip})
	ext.fail = "ببرهای"
	ctx := context.Background()

	if err := svc.Init(ctx, corpus()); err != nil {
		t.Fatalf("skip Init: %v", err)
	}
	if !reflect.DeepEqual(svc.IDs(ctx), []domain.BookID{5, 6}) {
		t.Errorf("IDs = %v", svc.IDs(ctx))
	}
}

func TestService_InsertSizesAndReplaces(t *testing.T) {
	svc, _, ext := newService(t, Config{})
	ctx := context.Background()
	if err := svc.Init(ctx, corpus()); err != nil {
		t.Fatal(err)
	}

	long := strings.TrimSpace(strings.Repeat(embassy+" ", 6))
	words := len(strings.Fields(long))
	phrases, err := svc.Insert(ctx, 1, long)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	wantK := max(4, (words+7)/8)
	if int(ext.lastK.Load()) != wantK {
		t.Errorf("k = %d, want %d", ext.lastK.Load(), wantK)
	}
	if len(phrases) > wantK {
		t.Errorf("selected %d phrases, more than %d", len(phrases), wantK)
	}

	short, err := svc.Insert(ctx, 1, "الف ب")
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !reflect.DeepEqual(short, []string{"الف", "ب"}) {
		t.Errorf("fewer candidates than k must return all of them, got %q", short)
	}
	if len(svc.IDs(ctx)) != 4 {
		t.Errorf("replace must not duplicate, IDs = %v", svc.IDs(ctx))
	}
}

func TestService_InsertEmptyText(t *testing.T) {
	svc, _, _ := newService(t, Config{})
	ctx := context.Background()
	if err := svc.Init(ctx, corpus()); err != nil {
		t.Fatal(err)
	}

	phrases, err := svc.Insert(ctx, 3, "")
	if err != nil {
		t.Fatalf("empty text must not fail: %v", err)
	}
	if phrases == nil || len(phrases) != 0 {
		t.Errorf("phrases = %#v, want empty slice", phrases)
	}
	if !slices.Contains(svc.IDs(ctx), 3) {
		t.Errorf("book without keyphrases must still be indexed, IDs = %v", svc.IDs(ctx))
	}
	if _, err := svc.Ask(ctx, 3, 5); err != nil {
		t.Errorf("Ask on empty book: %v", err)
	}
}

func TestService_InsertLogsIndexedVectors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	svc := New(&fakeModels{}, &wordExtractor{}, hashEmbedder{}, Config{}, zap.New(core))
	ctx := context.Background()
	if err := svc.Init(ctx, corpus()); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Insert(ctx, 9, "الف ب ج"); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	entries := logs.FilterMessage("book indexed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one book indexed entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["book_id"] != "9" || fields["vectors"] != int64(3) || fields["index_size"] != int64(4) {
		t.Errorf("fields = %v", fields)
	}
}

func TestService_Scenario(t *testing.T) {
	svc, _, _ := newService(t, Config{})
	ctx := context.Background()
	if err := svc.Init(ctx, corpus()); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Insert(ctx, 1, embassy); err != nil {
		t.Fatal(err)
	}

	similar, err := svc.Ask(ctx, 6, 5)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(similar) != 3 || slices.Contains(similar, 6) {
		t.Fatalf("Ask(6) = %v", similar)
	}
	if similar[0] != 1 {
		t.Errorf("identical text must rank first, got %v", similar)
	}

	if err := svc.Delete(ctx, 6); err != nil {
		t.Fatal(err)
	}
	if slices.Contains(svc.IDs(ctx), 6) {
		t.Errorf("deleted id still listed: %v", svc.IDs(ctx))
	}
	if _, err := svc.Ask(ctx, 6, 5); !errors.Is(err, domain.ErrUnknownBook) {
		t.Errorf("expected ErrUnknownBook, got %v", err)
	}

	if _, err := svc.Insert(ctx, 6, embassy); err != nil {
		t.Fatal(err)
	}
	again, err := svc.Ask(ctx, 6, 5)
	if err != nil {
		t.Fatal(err)
	}
	if again[0] != 1 || len(again) != 3 {
		t.Errorf("reinsert changed results: %v", again)
	}
}

func TestService_AskBound(t *testing.T) {
	svc, _, _ := newService(t, Config{DefaultTopN: 1})
	ctx := context.Background()
	if err := svc.Init(ctx, corpus()); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Ask(ctx, 5, 0)
	if err != nil || len(got) != 1 {
		t.Errorf("default topn: %v, %v", got, err)
	}
	got, _ = svc.Ask(ctx, 5, 10)
	if len(got) != 2 {
		t.Errorf("Ask bound: %v", got)
	}
}

func TestService_ConcurrentReadersAndWriters(t *testing.T) {
	svc, _, _ := newService(t, Config{})
	ctx := context.Background()
	if err := svc.Init(ctx, corpus()); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(id domain.BookID) {
			defer wg.Done()
			if _, err := svc.Insert(ctx, 100+id, amazon); err != nil {
				t.Errorf("Insert: %v", err)
			}
			_ = svc.Delete(ctx, 100+id)
		}(domain.BookID(i))
		go func() {
			defer wg.Done()
			if _, err := svc.Ask(ctx, 5, 3); err != nil {
				t.Errorf("Ask: %v", err)
			}
			_ = svc.IDs(ctx)
		}()
	}
	wg.Wait()
	if !reflect.DeepEqual(svc.IDs(ctx), []domain.BookID{5, 6, 7}) {
		t.Errorf("IDs = %v", svc.IDs(ctx))
	}
}
