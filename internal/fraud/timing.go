package fraud

import (
	"fmt"
	"time"
)

// Timing pattern type tags.
const (
	PatternWeekend    = "weekend"
	PatternEndOfMonth = "end_of_month"
)

// Minimum number of dates for the timing detector to judge a sample.
const timingMinSample = 10

// Expected baselines: 2 of 7 days fall on weekends; roughly 3 of 30
// calendar days fall in the last three days of a month.
const (
	weekendBaseline    = 2.0 / 7.0
	endOfMonthBaseline = 3.0 / 30.0

	weekendThresholdRatio    = 1.5
	endOfMonthThresholdRatio = 2.0
)

// TimingPattern describes one detected clustering pattern.
type TimingPattern struct {
	Type     string  `json:"type"`
	Observed float64 `json:"observed"` // observed share of dates
	Expected float64 `json:"expected"` // baseline share
	Evidence string  `json:"evidence,omitempty"`
}

// TimingResult is the outcome of the timing-pattern analysis.
type TimingResult struct {
	UnusualTiming bool            `json:"unusualTiming"`
	SampleSize    int             `json:"sampleSize"`
	Patterns      []TimingPattern `json:"patterns,omitempty"`
}

// AnalyzeTiming detects disproportionate clustering of dates on weekends
// and in the last calendar days of a month.
func AnalyzeTiming(dates []time.Time) TimingResult {
	res := TimingResult{SampleSize: len(dates)}
	if len(dates) < timingMinSample {
		return res
	}

	var weekend, endOfMonth int
	for _, d := range dates {
		switch d.Weekday() {
		case time.Saturday, time.Sunday:
			weekend++
		}
		if isEndOfMonth(d) {
			endOfMonth++
		}
	}

	n := float64(len(dates))

	weekendShare := float64(weekend) / n
	if weekendShare > weekendBaseline*weekendThresholdRatio {
		res.Patterns = append(res.Patterns, TimingPattern{
			Type:     PatternWeekend,
			Observed: weekendShare,
			Expected: weekendBaseline,
			Evidence: fmt.Sprintf("%d of %d dates fall on weekends", weekend, len(dates)),
		})
	}

	eomShare := float64(endOfMonth) / n
	if eomShare > endOfMonthBaseline*endOfMonthThresholdRatio {
		res.Patterns = append(res.Patterns, TimingPattern{
			Type:     PatternEndOfMonth,
			Observed: eomShare,
			Expected: endOfMonthBaseline,
			Evidence: fmt.Sprintf("%d of %d dates fall in the last three days of a month", endOfMonth, len(dates)),
		})
	}

	res.UnusualTiming = len(res.Patterns) > 0
	return res
}

// isEndOfMonth reports whether d falls within the last three calendar
// days of its month.
func isEndOfMonth(d time.Time) bool {
	lastDay := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, d.Location()).
		AddDate(0, 1, -1).Day()
	return d.Day() > lastDay-3
}
