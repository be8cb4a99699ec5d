package visit

import (
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestFeeForHistoryNoPriorVisit(t *testing.T) {
	if fee := FeeForHistory(nil, day("2026-08-30")); fee != StandardFee {
		t.Errorf("expected %v, got %v", StandardFee, fee)
	}
}

func TestFeeForHistoryWindowBoundary(t *testing.T) {
	today := day("2026-08-30")

	cases := []struct {
		name string
		last time.Time
		want float64
	}{
		{"same day", day("2026-08-30"), FollowUpFee},
		{"one day ago", day("2026-08-29"), FollowUpFee},
		{"exactly 30 days ago", day("2026-07-31"), FollowUpFee},
		{"31 days ago", day("2026-07-30"), StandardFee},
		{"a year ago", day("2025-08-30"), StandardFee},
	}

	for _, tc := range cases {
		last := tc.last
		if fee := FeeForHistory(&last, today); fee != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, fee)
		}
	}
}

func TestFeeForHistoryFutureCompletionDate(t *testing.T) {
	// A completion date after today should never discount.
	last := day("2026-09-05")
	if fee := FeeForHistory(&last, day("2026-08-30")); fee != StandardFee {
		t.Errorf("expected %v, got %v", StandardFee, fee)
	}
}

func TestFeeForHistoryIgnoresTimeOfDay(t *testing.T) {
	last := day("2026-07-31").Add(23 * time.Hour)
	today := day("2026-08-30").Add(1 * time.Minute)
	if fee := FeeForHistory(&last, today); fee != FollowUpFee {
		t.Errorf("expected %v, got %v", FollowUpFee, fee)
	}
}
