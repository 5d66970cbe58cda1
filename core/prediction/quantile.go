package prediction

import (
	"math"
	"sort"

	"github.com/kilianp07/clinicflow/core/model"
)

// Quantile returns the p-quantile of an ascending sample using linear
// interpolation between order statistics (Hyndman-Fan type 7). An empty
// sample yields 0.
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	h := float64(n-1) * p
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= n {
		return sorted[n-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

// Distribution computes p50/p80/p95 of an unsorted sample.
func Distribution(samples []float64) model.QuantileDistribution {
	s := append([]float64(nil), samples...)
	sort.Float64s(s)
	return model.QuantileDistribution{
		P50: Quantile(s, 0.5),
		P80: Quantile(s, 0.8),
		P95: Quantile(s, 0.95),
	}.Normalize()
}
