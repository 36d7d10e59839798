// Package budget persists remote embedding token counters in the key-value store.
package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/bookrec/internal/db"
)

// store is the consumer interface for budget persistence.
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrBy(ctx context.Context, key string, val int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
}

// Store keeps counters with INCRBY and expires stale periods.
type Store struct {
	store    store
	dailyTTL time.Duration
	monthTTL time.Duration
}

// New creates a budget store. Daily keys live dailyTTL, monthly keys monthTTL.
func New(s store, dailyTTL, monthTTL time.Duration) *Store {
	return &Store{store: s, dailyTTL: dailyTTL, monthTTL: monthTTL}
}

// IncrBy increments the counter and sets its TTL once.
func (s *Store) IncrBy(ctx context.Context, key string, val int64) error {
	if err := s.store.IncrBy(ctx, key, val); err != nil {
		return fmt.Errorf("budget incr %s: %w", key, err)
	}
	if err := s.store.Expire(ctx, key, s.ttlFor(key), true); err != nil {
		return fmt.Errorf("budget expire %s: %w", key, err)
	}
	return nil
}

// Get returns the counter, 0 when absent.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	data, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("budget get %s: %w", key, err)
	}
	val, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("budget get %s: parse: %w", key, err)
	}
	return val, nil
}

func (s *Store) ttlFor(key string) time.Duration {
	if strings.Contains(key, ":daily:") {
		return s.dailyTTL
	}
	return s.monthTTL
}
