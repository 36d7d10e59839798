package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bookrec/internal/db"
	"github.com/kailas-cloud/bookrec/internal/domain"
)

// BudgetAction defines behavior when the token budget is exhausted.
type BudgetAction string

const (
	// BudgetActionWarn logs and lets the request through.
	BudgetActionWarn BudgetAction = "warn"
	// BudgetActionReject fails the request with domain.ErrEmbeddingQuotaExceeded.
	BudgetActionReject BudgetAction = "reject"
)

// BudgetStore persists budget counters across restarts.
type BudgetStore interface {
	IncrBy(ctx context.Context, key string, val int64) error
	Get(ctx context.Context, key string) (int64, error)
}

// window is one accounting period (a UTC day or month).
type window struct {
	name     string
	layout   string
	limit    int64
	used     int64
	start    time.Time
	truncate func(time.Time) time.Time
}

func (w *window) roll(now time.Time) {
	if cur := w.truncate(now); cur.After(w.start) {
		w.used = 0
		w.start = cur
	}
}

func (w *window) exceeded() bool {
	return w.limit > 0 && w.used >= w.limit
}

// remaining returns -1 for an unlimited window.
func (w *window) remaining() int64 {
	if w.limit == 0 {
		return -1
	}
	return max(w.limit-w.used, 0)
}

// BudgetTracker caps tokens spent on the remote embedding provider.
// Check is in-memory only; Record updates memory first, then writes behind to the store.
type BudgetTracker struct {
	mu       sync.Mutex
	daily    window
	monthly  window
	action   BudgetAction
	provider string
	store    BudgetStore
	now      func() time.Time
	logger   *zap.Logger
}

// NewBudgetTracker creates a tracker. A zero limit disables that window.
func NewBudgetTracker(
	provider string, dailyLimit, monthlyLimit int64,
	action BudgetAction, logger *zap.Logger,
) *BudgetTracker {
	b := &BudgetTracker{
		daily:    window{name: "daily", layout: "2006-01-02", limit: dailyLimit, truncate: truncateToDay},
		monthly:  window{name: "monthly", layout: "2006-01", limit: monthlyLimit, truncate: truncateToMonth},
		action:   action,
		provider: provider,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
	now := b.now()
	b.daily.start = truncateToDay(now)
	b.monthly.start = truncateToMonth(now)
	return b
}

// WithStore attaches persistence and loads the current period's counters.
func (b *BudgetTracker) WithStore(ctx context.Context, store BudgetStore) *BudgetTracker {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.store = store
	now := b.now()
	for _, w := range []*window{&b.daily, &b.monthly} {
		val, err := store.Get(ctx, b.key(w, now))
		if err != nil {
			b.logger.Warn("Failed to load budget counter",
				zap.String("period", w.name), zap.Error(err))
			continue
		}
		w.used = val
	}
	b.logger.Info("Budget loaded",
		zap.String("provider", b.provider),
		zap.Int64("daily_used", b.daily.used),
		zap.Int64("monthly_used", b.monthly.used),
	)
	return b
}

func (b *BudgetTracker) key(w *window, t time.Time) string {
	return fmt.Sprintf("%sbudget:%s:%s:%s", db.KeyPrefix, b.provider, w.name, t.Format(w.layout))
}

func (b *BudgetTracker) roll() time.Time {
	now := b.now()
	b.daily.roll(now)
	b.monthly.roll(now)
	return now
}

// Check reports whether a new remote call is allowed.
func (b *BudgetTracker) Check(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.roll()
	if !b.daily.exceeded() && !b.monthly.exceeded() {
		return nil
	}
	if b.action == BudgetActionReject {
		return domain.ErrEmbeddingQuotaExceeded
	}
	b.logger.Warn("Token budget exceeded",
		zap.String("provider", b.provider),
		zap.Int64("daily_used", b.daily.used),
		zap.Int64("daily_limit", b.daily.limit),
		zap.Int64("monthly_used", b.monthly.used),
		zap.Int64("monthly_limit", b.monthly.limit),
	)
	return nil
}

// Record adds consumed tokens.
func (b *BudgetTracker) Record(tokens int64) {
	b.mu.Lock()
	now := b.roll()
	b.daily.used += tokens
	b.monthly.used += tokens
	store := b.store
	keys := []string{b.key(&b.daily, now), b.key(&b.monthly, now)}
	b.mu.Unlock()

	if store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, k := range keys {
		if err := store.IncrBy(ctx, k, tokens); err != nil {
			b.logger.Warn("Failed to persist budget counter", zap.String("key", k), zap.Error(err))
		}
	}
}

// DailyLimit returns the daily token cap, 0 when unlimited.
func (b *BudgetTracker) DailyLimit() int64 { return b.daily.limit }

// MonthlyLimit returns the monthly token cap, 0 when unlimited.
func (b *BudgetTracker) MonthlyLimit() int64 { return b.monthly.limit }

// RemainingDaily returns tokens left today, -1 when unlimited.
func (b *BudgetTracker) RemainingDaily() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll()
	return b.daily.remaining()
}

// RemainingMonthly returns tokens left this month, -1 when unlimited.
func (b *BudgetTracker) RemainingMonthly() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll()
	return b.monthly.remaining()
}

// DailyUsed returns tokens consumed today.
func (b *BudgetTracker) DailyUsed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll()
	return b.daily.used
}

// MonthlyUsed returns tokens consumed this month.
func (b *BudgetTracker) MonthlyUsed() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.roll()
	return b.monthly.used
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func truncateToMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
