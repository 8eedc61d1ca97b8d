package fraud

import "math"

// Roundness classifies how coarse a round amount is.
type Roundness string

const (
	RoundnessHigh   Roundness = "high"   // exact multiple of 1000
	RoundnessMedium Roundness = "medium" // exact multiple of 100
	RoundnessLow    Roundness = "low"    // exact multiple of 10
	RoundnessNone   Roundness = "none"
)

// RoundFloor is the minimum magnitude for an amount to be marked
// suspicious. Small round numbers are common and not a signal.
const RoundFloor = 100.0

// RoundAmount is the roundness classification of one amount.
type RoundAmount struct {
	Amount     float64   `json:"amount"`
	Roundness  Roundness `json:"roundness"`
	Suspicious bool      `json:"suspicious"`
}

// RoundResult summarizes round-number clustering across a sample.
type RoundResult struct {
	Amounts         []RoundAmount `json:"amounts"`
	SuspiciousCount int           `json:"suspiciousCount"`
	// Suspicious is set when any amount in the sample is suspicious.
	Suspicious bool `json:"suspicious"`
}

// AnalyzeRoundNumbers classifies each amount's roundness. An amount is
// suspicious when it is at or above the floor and a multiple of 100 or
// coarser.
func AnalyzeRoundNumbers(amounts []float64) RoundResult {
	res := RoundResult{Amounts: make([]RoundAmount, 0, len(amounts))}

	for _, a := range amounts {
		ra := RoundAmount{Amount: a, Roundness: classifyRoundness(a)}
		if a >= RoundFloor && (ra.Roundness == RoundnessHigh || ra.Roundness == RoundnessMedium) {
			ra.Suspicious = true
			res.SuspiciousCount++
		}
		res.Amounts = append(res.Amounts, ra)
	}

	res.Suspicious = res.SuspiciousCount > 0
	return res
}

func classifyRoundness(a float64) Roundness {
	if a <= 0 || math.IsNaN(a) || math.IsInf(a, 0) {
		return RoundnessNone
	}
	switch {
	case isMultipleOf(a, 1000):
		return RoundnessHigh
	case isMultipleOf(a, 100):
		return RoundnessMedium
	case isMultipleOf(a, 10):
		return RoundnessLow
	default:
		return RoundnessNone
	}
}

// isMultipleOf reports whether a is an exact multiple of m within a
// sub-cent tolerance, which absorbs float decoding noise.
func isMultipleOf(a, m float64) bool {
	r := math.Mod(a, m)
	return r < 1e-9 || m-r < 1e-9
}
