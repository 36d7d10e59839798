// Package usage reports embedding token consumption against the budget.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/bookrec/internal/domain"
)

// Period is a budget accounting window.
type Period string

const (
	// PeriodDay is the current UTC day.
	PeriodDay Period = "day"
	// PeriodMonth is the current UTC calendar month.
	PeriodMonth Period = "month"
)

// ParsePeriod accepts "day" or "month"; empty means day.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodDay:
		return PeriodDay, nil
	case PeriodMonth:
		return PeriodMonth, nil
	}
	return "", fmt.Errorf("%w: period must be day or month, got %q", domain.ErrInvalidInput, s)
}

// Report is the token usage of one period. A zero Limit means unlimited
// and Remaining is then -1.
type Report struct {
	Period      Period
	PeriodStart time.Time
	PeriodEnd   time.Time
	Limit       int64
	Used        int64
	Remaining   int64
	Exhausted   bool
}

// Service handles usage reporting.
type Service struct {
	br  BudgetReader
	now func() time.Time
}

// New creates a Service. br can be nil (unlimited mode).
func New(br BudgetReader) *Service {
	return &Service{br: br, now: func() time.Time { return time.Now().UTC() }}
}

// GetReport builds a usage report for the given period.
func (s *Service) GetReport(_ context.Context, period Period) Report {
	now := s.now()
	r := Report{Period: period, Remaining: -1}

	switch period {
	case PeriodMonth:
		r.PeriodStart = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		r.PeriodEnd = r.PeriodStart.AddDate(0, 1, 0)
		if s.br != nil {
			r.Limit, r.Used, r.Remaining = s.br.MonthlyLimit(), s.br.MonthlyUsed(), s.br.RemainingMonthly()
		}
	default:
		r.Period = PeriodDay
		r.PeriodStart = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		r.PeriodEnd = r.PeriodStart.Add(24 * time.Hour)
		if s.br != nil {
			r.Limit, r.Used, r.Remaining = s.br.DailyLimit(), s.br.DailyUsed(), s.br.RemainingDaily()
		}
	}

	r.Exhausted = r.Limit > 0 && r.Remaining <= 0
	return r
}
