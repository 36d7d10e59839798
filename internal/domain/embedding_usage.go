package domain

import (
	"context"
	"sync/atomic"
)

type embeddingUsageKey struct{}

// EmbeddingUsage collects token usage for a single request.
// The handler puts a pointer into the context before calling the service;
// embedders add to it (possibly from several goroutines during a bulk load);
// the handler reads it for response headers.
type EmbeddingUsage struct {
	tokens atomic.Int64
	calls  atomic.Int64
}

// NewContextWithUsage returns a context with an embedded usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	u := &EmbeddingUsage{}
	return context.WithValue(ctx, embeddingUsageKey{}, u), u
}

// UsageFromContext extracts the usage collector from context. Returns nil if not set.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(embeddingUsageKey{}).(*EmbeddingUsage)
	return u
}

// Add records one embedding call and its tokens. Safe on a nil receiver.
func (u *EmbeddingUsage) Add(tokens int) {
	if u != nil {
		u.tokens.Add(int64(tokens))
		u.calls.Add(1)
	}
}

// TotalTokens returns the recorded token count.
func (u *EmbeddingUsage) TotalTokens() int64 {
	if u == nil {
		return 0
	}
	return u.tokens.Load()
}

// Calls returns the number of recorded embedding calls.
func (u *EmbeddingUsage) Calls() int64 {
	if u == nil {
		return 0
	}
	return u.calls.Load()
}
