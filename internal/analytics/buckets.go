// Package analytics implements the read-side queries over the stored price
// series: the rise-distribution histogram and the uptrend-wave engine.
package analytics

import (
	"fmt"
	"math"
)

// stepFor picks the histogram step (in percent) from the value range so the
// chart stays readable regardless of volatility.
func stepFor(valueRange float64) float64 {
	switch {
	case valueRange <= 2:
		return 0.2
	case valueRange <= 5:
		return 0.5
	case valueRange <= 20:
		return 1
	case valueRange <= 50:
		return 2
	default:
		return 5
	}
}

// bucketIndex returns the index of the half-open bucket containing x, whose
// lower edge is index*step. Integer indices keep map keys exact.
func bucketIndex(x, step float64) int {
	return int(math.Floor(x / step))
}

// bucketLabel formats the bucket at index i as "<lo>%~<hi>%", one decimal for
// sub-percent steps.
func bucketLabel(i int, step float64) string {
	lo := float64(i) * step
	if step < 1 {
		return fmt.Sprintf("%.1f%%~%.1f%%", lo, lo+step)
	}
	return fmt.Sprintf("%.0f%%~%.0f%%", lo, lo+step)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
