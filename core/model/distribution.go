package model

import "math"

// QuantileDistribution is a compact uncertainty model made of three
// percentiles, expressed in minutes.
type QuantileDistribution struct {
	P50 float64 `json:"p50" yaml:"p50"`
	P80 float64 `json:"p80" yaml:"p80"`
	P95 float64 `json:"p95" yaml:"p95"`
}

// Point returns a distribution collapsed on a single value.
func Point(v float64) QuantileDistribution {
	return QuantileDistribution{P50: v, P80: v, P95: v}
}

// Normalize enforces P50 <= P80 <= P95 and replaces NaN with zero.
func (d QuantileDistribution) Normalize() QuantileDistribution {
	if math.IsNaN(d.P50) {
		d.P50 = 0
	}
	if math.IsNaN(d.P80) || d.P80 < d.P50 {
		d.P80 = d.P50
	}
	if math.IsNaN(d.P95) || d.P95 < d.P80 {
		d.P95 = d.P80
	}
	return d
}

// Valid reports whether the quantiles are ordered.
func (d QuantileDistribution) Valid() bool {
	return d.P50 <= d.P80 && d.P80 <= d.P95
}

// Shift adds a flat offset to every quantile.
func (d QuantileDistribution) Shift(minutes float64) QuantileDistribution {
	return QuantileDistribution{P50: d.P50 + minutes, P80: d.P80 + minutes, P95: d.P95 + minutes}
}

// Scale multiplies every quantile by f.
func (d QuantileDistribution) Scale(f float64) QuantileDistribution {
	return QuantileDistribution{P50: d.P50 * f, P80: d.P80 * f, P95: d.P95 * f}
}

// Spread is the distance between the 95th and 50th percentile.
func (d QuantileDistribution) Spread() float64 { return d.P95 - d.P50 }

// At evaluates the piecewise-linear inverse CDF at probability q in [0,1].
// Breakpoints are (0, lower), (0.5, P50), (0.8, P80), (0.95, P95) and the
// P80->P95 slope is extended linearly up to q = 1. The lower anchor extends
// the P50->P80 slope down to q = 0.
func (d QuantileDistribution) At(q float64) float64 {
	switch {
	case q <= 0:
		return d.P50 - (d.P80-d.P50)*(0.5/0.3)
	case q < 0.5:
		lower := d.P50 - (d.P80-d.P50)*(0.5/0.3)
		return lower + (d.P50-lower)*(q/0.5)
	case q == 0.5:
		return d.P50
	case q < 0.8:
		return d.P50 + (d.P80-d.P50)*((q-0.5)/0.3)
	case q == 0.8:
		return d.P80
	case q < 0.95:
		return d.P80 + (d.P95-d.P80)*((q-0.8)/0.15)
	case q == 0.95:
		return d.P95
	default:
		if q > 1 {
			q = 1
		}
		return d.P95 + (d.P95-d.P80)*((q-0.95)/0.15)
	}
}
