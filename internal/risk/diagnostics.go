package risk

import (
	"math"
	"sort"
)

// splitRhat computes the split-chain potential scale reduction factor
// over the forecast draws. Each chain is halved, giving 2m half-chains;
// values near 1 indicate the chains mixed.
func splitRhat(chainDraws [][]float64) float64 {
	var halves [][]float64
	for _, chain := range chainDraws {
		n := len(chain)
		if n < 4 {
			return math.NaN()
		}
		halves = append(halves, chain[:n/2], chain[n/2:n/2*2])
	}

	m := len(halves)
	n := len(halves[0])

	means := make([]float64, m)
	vars := make([]float64, m)
	for i, h := range halves {
		means[i] = mean(h)
		vars[i] = variance(h, means[i])
	}

	w := mean(vars)
	grand := mean(means)
	var b float64
	for _, mu := range means {
		d := mu - grand
		b += d * d
	}
	b = b * float64(n) / float64(m-1)

	if w == 0 {
		// Degenerate chains agree exactly; nothing to flag.
		return 1
	}
	varPlus := float64(n-1)/float64(n)*w + b/float64(n)
	return math.Sqrt(varPlus / w)
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func meanStd(vals []float64) (float64, float64) {
	mu := mean(vals)
	return mu, math.Sqrt(variance(vals, mu))
}

func variance(vals []float64, mu float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		d := v - mu
		sum += d * d
	}
	return sum / float64(len(vals)-1)
}

// quantile returns the p-th quantile (0..1) with linear interpolation.
func quantile(vals []float64, p float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	frac := pos - float64(lo)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}
