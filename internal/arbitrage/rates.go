package arbitrage

import (
	"math"
	"strings"
)

// RateLookup returns the reference fiat-to-fiat rate (units of `to` per unit
// of `from`). ok is false when the pair is unknown.
type RateLookup interface {
	DirectRate(from, to string) (rate float64, ok bool)
}

// DirectRates is a static table keyed "FROM-TO".
type DirectRates map[string]float64

func DefaultDirectRates() DirectRates {
	return DirectRates{
		"NGN-CNY": 0.0175,
		"CNY-NGN": 57.14,
		"NGN-USD": 0.0013,
		"USD-NGN": 769.23,
		"CNY-USD": 0.14,
		"USD-CNY": 7.14,
	}
}

func (d DirectRates) DirectRate(from, to string) (float64, bool) {
	rate, ok := d[strings.ToUpper(from)+"-"+strings.ToUpper(to)]
	if !ok || !(rate > 0) || math.IsInf(rate, 0) {
		return 0, false
	}
	return rate, true
}
