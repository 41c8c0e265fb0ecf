package domain

import (
	"math"
	"strconv"
	"strings"
)

const (
	MinQuantity = 1
	MaxQuantity = 99
)

// ClampQuantity bounds q to [MinQuantity, MaxQuantity].
func ClampQuantity(q int) int {
	if q < MinQuantity {
		return MinQuantity
	}
	if q > MaxQuantity {
		return MaxQuantity
	}
	return q
}

// CoerceQuantity turns raw user input ("3", "2.9", " 150 ", "abc") into a
// stored quantity. Decimals truncate toward zero and anything unparsable
// counts as 0 before clamping.
func CoerceQuantity(raw string) int {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) {
		return ClampQuantity(0)
	}
	return QuantityFromFloat(f)
}

// QuantityFromFloat truncates f toward zero and clamps it.
func QuantityFromFloat(f float64) int {
	if math.IsNaN(f) {
		return MinQuantity
	}
	f = math.Trunc(f)
	if f < MinQuantity {
		return MinQuantity
	}
	if f > MaxQuantity {
		return MaxQuantity
	}
	return int(f)
}
