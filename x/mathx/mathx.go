// Package mathx holds small generic integer helpers shared by the servo
// mapping and the firmware command layer.
package mathx

import (
	"math"
	"math/bits"

	"golang.org/x/exp/constraints"
)

// Clamp bounds v to lo..hi. Callers pass lo <= hi.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	return Min(Max(v, lo), hi)
}

// Min returns the smaller operand.
func Min[T constraints.Ordered](a, b T) T {
	if b < a {
		return b
	}
	return a
}

// Max returns the larger operand.
func Max[T constraints.Ordered](a, b T) T {
	if b > a {
		return b
	}
	return a
}

// StepToward moves cur one unit toward target and reports the new value.
// It never overshoots, so cur == target is returned unchanged.
func StepToward[T constraints.Integer](cur, target T) T {
	switch {
	case cur < target:
		return cur + 1
	case cur > target:
		return cur - 1
	}
	return cur
}

// ScaleDiv returns v*num/den with a 128-bit intermediate, truncating.
// den == 0 yields 0; a quotient that does not fit saturates at MaxUint64.
func ScaleDiv(v, num, den uint64) uint64 {
	if den == 0 {
		return 0
	}
	hi, lo := bits.Mul64(v, num)
	if hi >= den {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, den)
	return q
}
