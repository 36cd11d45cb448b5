// Package reputation scores publisher domains from their crawl history and
// blocks the ones that chronically fail.
package reputation

import "math"

// DefaultZ is the normal quantile for a 95% confidence interval
const DefaultZ = 1.96

// WilsonLowerBound returns the lower bound of the Wilson score interval for
// successes out of attempts. Zero attempts score 0.
func WilsonLowerBound(successes, attempts int, z float64) float64 {
	if attempts <= 0 {
		return 0
	}
	if successes < 0 {
		successes = 0
	}
	if successes > attempts {
		successes = attempts
	}
	if z <= 0 {
		z = DefaultZ
	}

	n := float64(attempts)
	p := float64(successes) / n
	z2 := z * z
	center := p + z2/(2*n)
	margin := z * math.Sqrt((p*(1-p)+z2/(4*n))/n)
	lb := (center - margin) / (1 + z2/n)
	if lb < 0 {
		return 0
	}
	return lb
}
