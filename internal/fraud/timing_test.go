package fraud

import (
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestTimingWeekendClustering(t *testing.T) {
	// 2025-01-04 is a Saturday. Eight of ten dates on weekends.
	dates := []time.Time{
		day(2025, time.January, 4), day(2025, time.January, 5),
		day(2025, time.January, 11), day(2025, time.January, 12),
		day(2025, time.January, 18), day(2025, time.January, 19),
		day(2025, time.January, 25), day(2025, time.January, 26),
		day(2025, time.January, 7), day(2025, time.January, 8),
	}

	res := AnalyzeTiming(dates)

	if !res.UnusualTiming {
		t.Fatal("expected unusual timing for weekend-heavy sample")
	}

	var found *TimingPattern
	for i := range res.Patterns {
		if res.Patterns[i].Type == PatternWeekend {
			found = &res.Patterns[i]
		}
	}
	if found == nil {
		t.Fatal("expected a weekend pattern")
	}
	if found.Observed != 0.8 {
		t.Errorf("expected observed share 0.8, got %.2f", found.Observed)
	}
}

func TestTimingEndOfMonthClustering(t *testing.T) {
	dates := []time.Time{
		day(2025, time.January, 30), day(2025, time.January, 31),
		day(2025, time.February, 27), day(2025, time.February, 28),
		day(2025, time.March, 29), day(2025, time.March, 31),
		// Mid-month weekdays to dilute the weekend share.
		day(2025, time.January, 14), day(2025, time.February, 12),
		day(2025, time.March, 12), day(2025, time.April, 15),
	}

	res := AnalyzeTiming(dates)

	var foundEOM bool
	for _, p := range res.Patterns {
		if p.Type == PatternEndOfMonth {
			foundEOM = true
			if p.Observed != 0.6 {
				t.Errorf("expected observed share 0.6, got %.2f", p.Observed)
			}
		}
	}
	if !foundEOM {
		t.Error("expected an end-of-month pattern")
	}
	if !res.UnusualTiming {
		t.Error("expected unusual timing verdict")
	}
}

func TestTimingNormalSpread(t *testing.T) {
	// Mid-month weekdays only: no clustering signal.
	dates := []time.Time{
		day(2025, time.January, 6), day(2025, time.January, 14),
		day(2025, time.February, 10), day(2025, time.February, 18),
		day(2025, time.March, 10), day(2025, time.March, 18),
		day(2025, time.April, 14), day(2025, time.April, 22),
		day(2025, time.May, 12), day(2025, time.May, 20),
	}

	res := AnalyzeTiming(dates)

	if res.UnusualTiming {
		t.Errorf("expected no unusual timing, got patterns %+v", res.Patterns)
	}
}

func TestTimingTinySample(t *testing.T) {
	// Below the minimum sample the verdict is always negative.
	dates := []time.Time{
		day(2025, time.January, 4), day(2025, time.January, 5),
		day(2025, time.January, 11),
	}

	res := AnalyzeTiming(dates)
	if res.UnusualTiming || len(res.Patterns) != 0 {
		t.Errorf("expected negative verdict for tiny sample, got %+v", res)
	}
}

func TestTimingEmpty(t *testing.T) {
	res := AnalyzeTiming(nil)
	if res.UnusualTiming {
		t.Error("expected negative verdict for empty sample")
	}
}

func TestIsEndOfMonth(t *testing.T) {
	tests := []struct {
		date time.Time
		want bool
	}{
		{day(2025, time.January, 29), true},
		{day(2025, time.January, 28), false},
		{day(2025, time.February, 26), true}, // Feb 2025 has 28 days
		{day(2025, time.February, 25), false},
		{day(2024, time.February, 29), true}, // leap year
		{day(2025, time.April, 28), true},
	}
	for _, tt := range tests {
		if got := isEndOfMonth(tt.date); got != tt.want {
			t.Errorf("isEndOfMonth(%s) = %v, want %v", tt.date.Format("2006-01-02"), got, tt.want)
		}
	}
}
