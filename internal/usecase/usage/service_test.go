package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/bookrec/internal/domain"
)

// --- Mock ---

type mockBudgetReader struct {
	dailyLimit       int64
	monthlyLimit     int64
	dailyUsed        int64
	monthlyUsed      int64
	remainingDaily   int64
	remainingMonthly int64
}

func (m *mockBudgetReader) DailyLimit() int64       { return m.dailyLimit }
func (m *mockBudgetReader) MonthlyLimit() int64     { return m.monthlyLimit }
func (m *mockBudgetReader) DailyUsed() int64        { return m.dailyUsed }
func (m *mockBudgetReader) MonthlyUsed() int64      { return m.monthlyUsed }
func (m *mockBudgetReader) RemainingDaily() int64   { return m.remainingDaily }
func (m *mockBudgetReader) RemainingMonthly() int64 { return m.remainingMonthly }

func fixedService(br BudgetReader) *Service {
	s := New(br)
	s.now = func() time.Time { return time.Date(2026, 3, 15, 13, 45, 0, 0, time.UTC) }
	return s
}

// --- Tests ---

func TestGetReport_DailyPeriod(t *testing.T) {
	br := &mockBudgetReader{
		dailyLimit:       10000,
		dailyUsed:        3000,
		remainingDaily:   7000,
		monthlyLimit:     100000,
		monthlyUsed:      50000,
		remainingMonthly: 50000,
	}
	r := fixedService(br).GetReport(context.Background(), PeriodDay)

	if r.Period != PeriodDay {
		t.Errorf("expected period %q, got %q", PeriodDay, r.Period)
	}
	if want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC); !r.PeriodStart.Equal(want) {
		t.Errorf("period start = %v, want %v", r.PeriodStart, want)
	}
	if want := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC); !r.PeriodEnd.Equal(want) {
		t.Errorf("period end = %v, want %v", r.PeriodEnd, want)
	}
	if r.Limit != 10000 || r.Used != 3000 || r.Remaining != 7000 {
		t.Errorf("unexpected counters: %+v", r)
	}
	if r.Exhausted {
		t.Error("budget should not be exhausted")
	}
}

func TestGetReport_MonthlyPeriod(t *testing.T) {
	br := &mockBudgetReader{monthlyLimit: 100000, monthlyUsed: 100000, remainingMonthly: 0}
	r := fixedService(br).GetReport(context.Background(), PeriodMonth)

	if want := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC); !r.PeriodEnd.Equal(want) {
		t.Errorf("period end = %v, want %v", r.PeriodEnd, want)
	}
	if r.Used != 100000 || !r.Exhausted {
		t.Errorf("expected exhausted monthly budget, got %+v", r)
	}
}

func TestGetReport_Unlimited(t *testing.T) {
	r := fixedService(nil).GetReport(context.Background(), PeriodMonth)
	if r.Limit != 0 || r.Remaining != -1 || r.Exhausted {
		t.Errorf("unexpected unlimited report: %+v", r)
	}
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in      string
		want    Period
		wantErr bool
	}{
		{in: "", want: PeriodDay},
		{in: "day", want: PeriodDay},
		{in: "month", want: PeriodMonth},
		{in: "year", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePeriod(tt.in)
		if tt.wantErr {
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("ParsePeriod(%q): expected ErrInvalidInput, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParsePeriod(%q) = %q, %v", tt.in, got, err)
		}
	}
}
