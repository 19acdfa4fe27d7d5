package reconcile

import (
	"math"
	"strconv"
)

// NormalizeRating converts a source rating to the canonical 0-1 fraction.
// Ratings arrive on two scales: a 0-1 fraction or a 1-5 star count.
// Values outside [0,5] are clamped into [1,5] before conversion, so the
// function is total over all numeric inputs. NaN escapes every comparison,
// so it is mapped to 0 explicitly.
func NormalizeRating(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v >= 0 && v <= 1 {
		return v
	}
	if v < 1 {
		v = 1
	}
	if v > 5 {
		v = 5
	}
	return v / 5
}

// ParseRating parses a published rating value. Non-numeric or absent input
// yields nil ("no rating"), never zero. ParseFloat accepts "NaN" and "Inf",
// which no rating scale produces, so non-finite values are rejected too.
func ParseRating(raw string) *float64 {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	normalized := NormalizeRating(v)
	return &normalized
}
