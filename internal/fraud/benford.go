// Package fraud provides stateless statistical fraud-pattern analyzers.
// Each analyzer consumes a caller-supplied sample and returns a structured
// verdict; empty or tiny samples yield a negative verdict, never an error.
package fraud

import (
	"math"
)

// benfordProbs holds the theoretical Benford probabilities for leading
// digits 1 through 9.
var benfordProbs = [9]float64{0.301, 0.176, 0.125, 0.097, 0.079, 0.067, 0.058, 0.051, 0.046}

// ChiSquareCritical95 is the 95%-confidence critical value for a
// chi-square distribution with 8 degrees of freedom.
const ChiSquareCritical95 = 15.51

// BenfordMinSample is the smallest sample the digit test will judge.
// Below this, the verdict is always negative to avoid false positives
// on sparse data.
const BenfordMinSample = 10

// BenfordResult is the outcome of the leading-digit distribution test.
type BenfordResult struct {
	Violation   bool       `json:"violation"`
	ChiSquare   float64    `json:"chiSquare"`
	SampleSize  int        `json:"sampleSize"`
	DigitCounts [9]int     `json:"digitCounts"`
	Expected    [9]float64 `json:"expected"`
}

// AnalyzeBenford tests whether the leading significant digits of the
// amounts follow Benford's Law. Non-positive amounts are skipped; their
// sign carries no digit information.
func AnalyzeBenford(amounts []float64) BenfordResult {
	var res BenfordResult

	for _, a := range amounts {
		d := leadingDigit(a)
		if d == 0 {
			continue
		}
		res.DigitCounts[d-1]++
		res.SampleSize++
	}

	if res.SampleSize == 0 {
		return res
	}

	n := float64(res.SampleSize)
	for i := 0; i < 9; i++ {
		expected := benfordProbs[i] * n
		res.Expected[i] = expected
		diff := float64(res.DigitCounts[i]) - expected
		res.ChiSquare += diff * diff / expected
	}

	res.Violation = res.SampleSize >= BenfordMinSample && res.ChiSquare > ChiSquareCritical95
	return res
}

// leadingDigit returns the first significant digit of a, or 0 when a has
// no significant digit (zero, negative, NaN, Inf).
func leadingDigit(a float64) int {
	if a <= 0 || math.IsNaN(a) || math.IsInf(a, 0) {
		return 0
	}
	for a >= 10 {
		a /= 10
	}
	for a < 1 {
		a *= 10
	}
	return int(a)
}
