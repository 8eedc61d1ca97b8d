package fraud

import (
	"testing"
)

func TestRoundNumberTiers(t *testing.T) {
	tests := []struct {
		amount     float64
		roundness  Roundness
		suspicious bool
	}{
		{1000, RoundnessHigh, true},
		{5000, RoundnessHigh, true},
		{2500, RoundnessMedium, true},
		{730, RoundnessLow, false},
		{123.45, RoundnessNone, false},
		{567.89, RoundnessNone, false},
		{0, RoundnessNone, false},
		{-1000, RoundnessNone, false},
	}

	for _, tt := range tests {
		res := AnalyzeRoundNumbers([]float64{tt.amount})
		got := res.Amounts[0]
		if got.Roundness != tt.roundness {
			t.Errorf("amount %.2f: expected roundness %s, got %s", tt.amount, tt.roundness, got.Roundness)
		}
		if got.Suspicious != tt.suspicious {
			t.Errorf("amount %.2f: expected suspicious=%v, got %v", tt.amount, tt.suspicious, got.Suspicious)
		}
	}
}

func TestRoundNumberMixedBatch(t *testing.T) {
	res := AnalyzeRoundNumbers([]float64{1000, 2000, 5000, 10000, 123.45, 567.89})

	var highs int
	for _, a := range res.Amounts {
		if a.Roundness == RoundnessHigh {
			highs++
		}
	}
	if highs == 0 {
		t.Error("expected at least one high-roundness amount")
	}
	if !res.Suspicious {
		t.Error("expected batch to be suspicious")
	}
	if res.SuspiciousCount != 4 {
		t.Errorf("expected 4 suspicious amounts, got %d", res.SuspiciousCount)
	}
}

func TestRoundNumberFloor(t *testing.T) {
	// Small round numbers are common; nothing below the floor is suspicious.
	res := AnalyzeRoundNumbers([]float64{10, 20, 30, 40, 50})

	for _, a := range res.Amounts {
		if a.Suspicious {
			t.Errorf("amount %.2f below floor must not be suspicious", a.Amount)
		}
	}
	if res.Suspicious {
		t.Error("expected batch below floor to be non-suspicious")
	}
}

func TestRoundNumberEmpty(t *testing.T) {
	res := AnalyzeRoundNumbers(nil)
	if res.Suspicious || len(res.Amounts) != 0 {
		t.Errorf("expected negative verdict for empty sample, got %+v", res)
	}
}
